package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

// PostgresStore keeps usage_records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// The WHERE on the conflict branch is what makes the limit check and the
// increment one statement: a refused update returns no row.
const incrementIfBelowSQL = `
INSERT INTO usage_records (user_id, feature, count, reset_at, updated_at)
VALUES ($1, $2, 1, $5, $4)
ON CONFLICT (user_id, feature) DO UPDATE
SET count = CASE WHEN usage_records.reset_at <= $4 THEN 1 ELSE usage_records.count + 1 END,
    reset_at = CASE WHEN usage_records.reset_at <= $4 THEN EXCLUDED.reset_at ELSE usage_records.reset_at END,
    updated_at = EXCLUDED.updated_at
WHERE usage_records.reset_at <= $4 OR usage_records.count < $3
RETURNING count`

const resetAllSQL = `
INSERT INTO usage_records (user_id, feature, count, reset_at, updated_at)
SELECT $1, f, 0, $3, NOW() FROM unnest($2::text[]) AS f
ON CONFLICT (user_id, feature) DO UPDATE
SET count = 0,
    reset_at = EXCLUDED.reset_at,
    updated_at = EXCLUDED.updated_at`

// Get returns the record or nil when the user never used the feature.
func (s *PostgresStore) Get(ctx context.Context, userID uuid.UUID, feature catalog.Feature) (*Record, error) {
	rec := Record{UserID: userID, Feature: feature}
	err := s.pool.QueryRow(ctx,
		`SELECT count, reset_at FROM usage_records WHERE user_id = $1 AND feature = $2`,
		userID, string(feature),
	).Scan(&rec.Count, &rec.ResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying usage record: %w", err)
	}
	return &rec, nil
}

// List returns every record for the user. Rows with a feature key outside
// the catalog are skipped.
func (s *PostgresStore) List(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT feature, count, reset_at FROM usage_records WHERE user_id = $1 ORDER BY feature`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			raw string
			rec = Record{UserID: userID}
		)
		if err := rows.Scan(&raw, &rec.Count, &rec.ResetAt); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		feature, err := catalog.ParseFeature(raw)
		if err != nil {
			slog.Debug("ledger: skipping unknown feature row", "user_id", userID, "feature", raw)
			continue
		}
		rec.Feature = feature
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage records: %w", err)
	}
	return records, nil
}

// IncrementIfBelow performs the conditional upsert in a single statement.
func (s *PostgresStore) IncrementIfBelow(ctx context.Context, userID uuid.UUID, feature catalog.Feature, limit int, now, nextReset time.Time) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	var count int
	err := s.pool.QueryRow(ctx, incrementIfBelowSQL,
		userID, string(feature), limit, now, nextReset,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("incrementing usage record: %w", err)
	}
	return count, true, nil
}

// ResetAll upserts every feature row for the user in one statement.
func (s *PostgresStore) ResetAll(ctx context.Context, userID uuid.UUID, features []catalog.Feature, resetAt time.Time) error {
	keys := make([]string, len(features))
	for i, f := range features {
		keys[i] = string(f)
	}

	if _, err := s.pool.Exec(ctx, resetAllSQL, userID, keys, resetAt); err != nil {
		return fmt.Errorf("resetting usage records: %w", err)
	}
	return nil
}
