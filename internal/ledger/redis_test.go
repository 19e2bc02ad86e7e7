package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

func setupMiniredis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, s
}

func TestRedisStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		rdb, _ := setupMiniredis(t)
		return NewRedisStore(rdb)
	})
}

func TestRedisStore_HashLayout(t *testing.T) {
	rdb, mr := setupMiniredis(t)
	store := NewRedisStore(rdb)
	ctx := context.Background()
	userID := uuid.New()
	now := time.UnixMilli(1_725_000_000_000)
	next := now.Add(DefaultPeriod)

	_, ok, err := store.IncrementIfBelow(ctx, userID, catalog.FeatureTweets, 5, now, next)
	require.NoError(t, err)
	require.True(t, ok)

	key := "usage:" + userID.String() + ":tweets"
	assert.Equal(t, "1", mr.HGet(key, "count"))
	assert.Equal(t, "1727592000000", mr.HGet(key, "reset_at"))
}

func TestRedisStore_CorruptHash(t *testing.T) {
	rdb, mr := setupMiniredis(t)
	store := NewRedisStore(rdb)
	userID := uuid.New()

	mr.HSet("usage:"+userID.String()+":titles", "count", "many")

	_, err := store.Get(context.Background(), userID, catalog.FeatureTitles)
	assert.Error(t, err)
}

func TestRedisStore_ErrorsWhenRedisDown(t *testing.T) {
	rdb, mr := setupMiniredis(t)
	store := NewRedisStore(rdb)
	mr.Close()

	l := New(store, nil, DefaultPeriod)
	ctx := context.Background()

	_, err := l.GetUsage(ctx, uuid.New(), catalog.FeatureTitles)
	assert.ErrorIs(t, err, ErrLedgerRead)

	ok, err := l.Increment(ctx, uuid.New(), catalog.FeatureTitles)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLedgerWrite)
}
