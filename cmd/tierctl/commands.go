package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/catalog"
	"github.com/creatorstudio/entitlements/internal/ledger"
	inats "github.com/creatorstudio/entitlements/internal/nats"
	"github.com/creatorstudio/entitlements/internal/subscriptions"
)

const usage = `usage:
  tierctl set   -user <uuid> -tier <free|basic|pro|creator> [-reset]
  tierctl reset -user <uuid>
  tierctl show  -user <uuid>
`

var errUsage = errors.New("invalid arguments")

type cli struct {
	subs   *subscriptions.Service
	usage  *ledger.Ledger
	cache  *subscriptions.CachedTierSource
	events inats.EventPublisher
	out    io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.out, usage)
		return errUsage
	}

	switch args[0] {
	case "set":
		return c.set(ctx, args[1:])
	case "reset":
		return c.reset(ctx, args[1:])
	case "show":
		return c.show(ctx, args[1:])
	default:
		fmt.Fprint(c.out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

// set changes the stored plan. Usage restarts when the plan changes, the
// same way a billing upgrade does, or always with -reset.
func (c *cli) set(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(c.out)
	userFlag := fs.String("user", "", "user id")
	tierFlag := fs.String("tier", "", "target tier")
	force := fs.Bool("reset", false, "reset usage even if the plan is unchanged")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	userID, err := parseUser(*userFlag)
	if err != nil {
		return err
	}
	tier, err := catalog.ParseTier(*tierFlag)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	current, err := c.subs.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}

	if current.Tier != tier || *force {
		if err := c.resetUsage(ctx, userID, tier, "manual tier update"); err != nil {
			return err
		}
	}

	tr, err := c.subs.Apply(ctx, subscriptions.Change{
		UserID: userID,
		Tier:   tier,
		Status: subscriptions.StatusActive,
	})
	if err != nil {
		return fmt.Errorf("updating tier: %w", err)
	}
	c.invalidate(ctx, userID)

	if tr.PlanChanged() || tr.AccessChanged() {
		inats.Emit(ctx, c.events, inats.UsageEvent{
			UserID:    userID,
			EventType: inats.EventTierChanged,
			Tier:      tr.To.EffectiveTier(),
			Details:   fmt.Sprintf("manual: %s/%s -> %s/%s", tr.From.Tier, tr.From.Status, tr.To.Tier, tr.To.Status),
		})
	}

	fmt.Fprintf(c.out, "%s: %s -> %s\n", userID, tr.From.EffectiveTier(), tr.To.EffectiveTier())
	return nil
}

func (c *cli) reset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(c.out)
	userFlag := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	userID, err := parseUser(*userFlag)
	if err != nil {
		return err
	}
	tier, err := c.subs.TierFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading tier: %w", err)
	}

	if err := c.resetUsage(ctx, userID, tier, "manual reset"); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: usage reset\n", userID)
	return nil
}

func (c *cli) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(c.out)
	userFlag := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	userID, err := parseUser(*userFlag)
	if err != nil {
		return err
	}

	view, err := c.subs.View(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}
	features, err := c.usage.Summary(ctx, userID, view.EffectiveTier)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "user:    %s\nplan:    %s (%s)\naccess:  %s\ncatalog: %s\n\n",
		userID, view.Tier, view.Status, view.EffectiveTier, view.CatalogVersion)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tUSED\tLIMIT\tREMAINING\tRESETS")
	for _, f := range features {
		resets := "-"
		if f.ResetAt != nil {
			resets = f.ResetAt.UTC().Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", f.Feature, f.Used, f.Limit, f.Remaining, resets)
	}
	return tw.Flush()
}

func (c *cli) resetUsage(ctx context.Context, userID uuid.UUID, tier catalog.Tier, reason string) error {
	if err := c.usage.ResetAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("resetting usage: %w", err)
	}
	inats.Emit(ctx, c.events, inats.UsageEvent{
		UserID:    userID,
		EventType: inats.EventUsageReset,
		Tier:      tier,
		Details:   reason,
	})
	return nil
}

func (c *cli) invalidate(ctx context.Context, userID uuid.UUID) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, userID); err != nil {
		fmt.Fprintf(c.out, "warning: tier cache not invalidated: %v\n", err)
	}
}

func parseUser(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%w: -user is required", errUsage)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid -user: %w", errUsage, err)
	}
	return id, nil
}
