// Command tierctl changes a user's tier and usage by hand, outside of the
// billing webhook.
//
//	tierctl set   -user <uuid> -tier <tier> [-reset]
//	tierctl reset -user <uuid>
//	tierctl show  -user <uuid>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/creatorstudio/entitlements/internal/app"
	"github.com/creatorstudio/entitlements/internal/config"
	"github.com/creatorstudio/entitlements/internal/ledger"
	inats "github.com/creatorstudio/entitlements/internal/nats"
	"github.com/creatorstudio/entitlements/internal/subscriptions"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer backend.Close()

	var events inats.EventPublisher = inats.NopPublisher{}
	if cfg.NATS.URL != "" {
		if nc, err := inats.NewClient(ctx, cfg.NATS); err == nil {
			defer nc.Close()
			events = inats.NewPublisher(nc.JetStream())
		}
	}

	subSvc := subscriptions.NewService(backend.Subscriptions)
	tierCache := subscriptions.NewCachedTierSource(subSvc, backend.Redis, cfg.Subscription.CacheTTL)

	cli := &cli{
		subs:   subSvc,
		usage:  ledger.New(backend.Usage, tierCache, cfg.Ledger.Period),
		cache:  tierCache,
		events: events,
		out:    os.Stdout,
	}

	if err := cli.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "tierctl:", err)
		os.Exit(1)
	}
}
