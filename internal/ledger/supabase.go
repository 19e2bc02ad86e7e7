package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

const usageTable = "usage_records"

// SupabaseStore talks to usage_records through the Supabase REST API. The
// conditional increment and bulk reset run as the increment_usage and
// reset_usage database functions, so each stays one round trip.
type SupabaseStore struct {
	connect func() (*supabase.Client, error)
}

// NewSupabaseStore creates a SupabaseStore for the given project URL and
// service-role key.
func NewSupabaseStore(url, serviceKey string) *SupabaseStore {
	return &SupabaseStore{
		connect: func() (*supabase.Client, error) {
			return supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
		},
	}
}

// The REST client keeps the first error it sees and fails every later call
// with it, so every operation uses a fresh client.
func (s *SupabaseStore) client() (*supabase.Client, error) {
	c, err := s.connect()
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return c, nil
}

type supabaseUsageRow struct {
	Feature string    `json:"feature"`
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Get returns nil when no row exists.
func (s *SupabaseStore) Get(_ context.Context, userID uuid.UUID, feature catalog.Feature) (*Record, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}

	data, _, err := c.From(usageTable).
		Select("feature,count,reset_at", "", false).
		Eq("user_id", userID.String()).
		Eq("feature", string(feature)).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("querying usage record: %w", err)
	}

	var rows []supabaseUsageRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding usage record: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &Record{UserID: userID, Feature: feature, Count: rows[0].Count, ResetAt: rows[0].ResetAt}, nil
}

// List returns every catalog feature row for the user.
func (s *SupabaseStore) List(_ context.Context, userID uuid.UUID) ([]Record, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}

	data, _, err := c.From(usageTable).
		Select("feature,count,reset_at", "", false).
		Eq("user_id", userID.String()).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}

	var rows []supabaseUsageRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding usage records: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		feature, err := catalog.ParseFeature(row.Feature)
		if err != nil {
			continue
		}
		records = append(records, Record{UserID: userID, Feature: feature, Count: row.Count, ResetAt: row.ResetAt})
	}
	return records, nil
}

// IncrementIfBelow calls increment_usage, which returns the new count or
// null when the limit is reached.
func (s *SupabaseStore) IncrementIfBelow(_ context.Context, userID uuid.UUID, feature catalog.Feature, limit int, now, nextReset time.Time) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	c, err := s.client()
	if err != nil {
		return 0, false, err
	}

	body := c.Rpc("increment_usage", "", map[string]any{
		"p_user_id":    userID.String(),
		"p_feature":    string(feature),
		"p_limit":      limit,
		"p_now":        now.UTC(),
		"p_next_reset": nextReset.UTC(),
	})

	count, ok, err := parseRPCCount(body)
	if err != nil {
		return 0, false, fmt.Errorf("increment_usage: %w", err)
	}
	return count, ok, nil
}

// ResetAll calls reset_usage, which returns the number of rows written.
func (s *SupabaseStore) ResetAll(_ context.Context, userID uuid.UUID, features []catalog.Feature, resetAt time.Time) error {
	c, err := s.client()
	if err != nil {
		return err
	}

	keys := make([]string, len(features))
	for i, f := range features {
		keys[i] = string(f)
	}

	body := c.Rpc("reset_usage", "", map[string]any{
		"p_user_id":  userID.String(),
		"p_features": keys,
		"p_reset_at": resetAt.UTC(),
	})

	n, ok, err := parseRPCCount(body)
	if err != nil {
		return fmt.Errorf("reset_usage: %w", err)
	}
	if !ok || n != len(features) {
		return fmt.Errorf("reset_usage: wrote %d of %d rows", n, len(features))
	}
	return nil
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// parseRPCCount decodes a scalar integer function result. The REST client
// reports transport failures as an empty body and database errors as a JSON
// object, so both are turned into errors here.
func parseRPCCount(body string) (int, bool, error) {
	body = strings.TrimSpace(body)
	switch {
	case body == "":
		return 0, false, errors.New("empty response")
	case body == "null":
		return 0, false, nil
	case strings.HasPrefix(body, "{"):
		var apiErr rpcError
		if err := json.Unmarshal([]byte(body), &apiErr); err != nil {
			return 0, false, fmt.Errorf("decoding error response: %w", err)
		}
		return 0, false, fmt.Errorf("(%s) %s", apiErr.Code, apiErr.Message)
	}

	n, err := strconv.Atoi(body)
	if err != nil {
		return 0, false, fmt.Errorf("unexpected response %q", body)
	}
	return n, true, nil
}
