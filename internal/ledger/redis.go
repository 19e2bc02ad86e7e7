package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

const usageKeyPrefix = "usage:"

// incrementScript runs the limit check and the write atomically inside Redis.
// Returns the new count, or -1 when the limit is reached.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local next_reset = tonumber(ARGV[3])

local fields = redis.call('HMGET', KEYS[1], 'count', 'reset_at')
local count = 0
local reset_at = 0
if fields[1] then count = tonumber(fields[1]) end
if fields[2] then reset_at = tonumber(fields[2]) end

if reset_at <= now then
  count = 0
  reset_at = next_reset
end

if count >= limit then
  return -1
end

count = count + 1
redis.call('HSET', KEYS[1], 'count', tostring(count), 'reset_at', tostring(reset_at))
return count
`)

// RedisStore keeps each usage record as a hash keyed by user and feature.
// Timestamps are stored as unix milliseconds.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func usageKey(userID uuid.UUID, feature catalog.Feature) string {
	return usageKeyPrefix + userID.String() + ":" + string(feature)
}

// Get returns nil when the hash does not exist.
func (s *RedisStore) Get(ctx context.Context, userID uuid.UUID, feature catalog.Feature) (*Record, error) {
	vals, err := s.rdb.HMGet(ctx, usageKey(userID, feature), "count", "reset_at").Result()
	if err != nil {
		return nil, fmt.Errorf("reading usage hash: %w", err)
	}
	return parseUsageHash(userID, feature, vals)
}

// List reads every catalog feature in one pipeline.
func (s *RedisStore) List(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	features := catalog.AllFeatures()
	cmds := make([]*redis.SliceCmd, len(features))

	pipe := s.rdb.Pipeline()
	for i, f := range features {
		cmds[i] = pipe.HMGet(ctx, usageKey(userID, f), "count", "reset_at")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("reading usage hashes: %w", err)
	}

	var records []Record
	for i, f := range features {
		rec, err := parseUsageHash(userID, f, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// IncrementIfBelow evaluates incrementScript.
func (s *RedisStore) IncrementIfBelow(ctx context.Context, userID uuid.UUID, feature catalog.Feature, limit int, now, nextReset time.Time) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	res, err := incrementScript.Run(ctx, s.rdb,
		[]string{usageKey(userID, feature)},
		now.UnixMilli(), limit, nextReset.UnixMilli(),
	).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("running increment script: %w", err)
	}
	if res < 0 {
		return 0, false, nil
	}
	return int(res), true, nil
}

// ResetAll writes every feature hash inside one MULTI/EXEC.
func (s *RedisStore) ResetAll(ctx context.Context, userID uuid.UUID, features []catalog.Feature, resetAt time.Time) error {
	pipe := s.rdb.TxPipeline()
	for _, f := range features {
		pipe.HSet(ctx, usageKey(userID, f), "count", 0, "reset_at", resetAt.UnixMilli())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("resetting usage hashes: %w", err)
	}
	return nil
}

func parseUsageHash(userID uuid.UUID, feature catalog.Feature, vals []any) (*Record, error) {
	if len(vals) != 2 || vals[0] == nil {
		return nil, nil
	}

	count, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return nil, fmt.Errorf("parsing usage count: %w", err)
	}

	var resetMs int64
	if vals[1] != nil {
		resetMs, err = strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing usage reset_at: %w", err)
		}
	}

	return &Record{
		UserID:  userID,
		Feature: feature,
		Count:   count,
		ResetAt: time.UnixMilli(resetMs),
	}, nil
}
