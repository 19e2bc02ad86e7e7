package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(DefaultPeriod)

	t.Run("get on missing record returns nil and creates nothing", func(t *testing.T) {
		s := newStore(t)
		userID := uuid.New()

		rec, err := s.Get(ctx, userID, catalog.FeatureTitles)
		require.NoError(t, err)
		assert.Nil(t, rec)

		records, err := s.List(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("first increment creates record with count 1", func(t *testing.T) {
		s := newStore(t)
		userID := uuid.New()

		count, ok, err := s.IncrementIfBelow(ctx, userID, catalog.FeatureTitles, 3, now, next)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, count)

		rec, err := s.Get(ctx, userID, catalog.FeatureTitles)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, 1, rec.Count)
		assert.True(t, rec.ResetAt.Equal(next), "reset_at = %s", rec.ResetAt)
	})

	t.Run("increment keeps reset_at and stops at limit", func(t *testing.T) {
		s := newStore(t)
		userID := uuid.New()

		for i := 1; i <= 3; i++ {
			later := now.Add(time.Duration(i) * time.Hour)
			count, ok, err := s.IncrementIfBelow(ctx, userID, catalog.FeatureTitles, 3, later, later.Add(DefaultPeriod))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, i, count)
		}

		_, ok, err := s.IncrementIfBelow(ctx, userID, catalog.FeatureTitles, 3, now, next)
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := s.Get(ctx, userID, catalog.FeatureTitles)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, 3, rec.Count)
		assert.True(t, rec.ResetAt.Equal(now.Add(time.Hour).Add(DefaultPeriod)), "reset_at moved: %s", rec.ResetAt)
	})

	t.Run("zero limit never writes", func(t *testing.T) {
		s := newStore(t)
		userID := uuid.New()

		_, ok, err := s.IncrementIfBelow(ctx, userID, catalog.FeatureTweets, 0, now, next)
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := s.Get(ctx, userID, catalog.FeatureTweets)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("expired period restarts at 1", func(t *testing.T) {
		s := newStore(t)
		userID := uuid.New()

		for i := 0; i < 2; i++ {
			_, ok, err := s.IncrementIfBelow(ctx, userID, catalog.FeatureIdeas, 2, now, next)
			require.NoError(t, err)
			require.True(t, ok)
		}

		after := next.Add(time.Minute)
		count, ok, err := s.IncrementIfBelow(ctx, userID, catalog.FeatureIdeas, 2, after, after.Add(DefaultPeriod))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, count)

		rec, err := s.Get(ctx, userID, catalog.FeatureIdeas)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.True(t, rec.ResetAt.Equal(after.Add(DefaultPeriod)))
	})

	t.Run("reset all writes every feature", func(t *testing.T) {
		s := newStore(t)
		userID := uuid.New()

		_, _, err := s.IncrementIfBelow(ctx, userID, catalog.FeatureTitles, 10, now, next)
		require.NoError(t, err)

		resetAt := now.Add(2 * DefaultPeriod)
		require.NoError(t, s.ResetAll(ctx, userID, catalog.AllFeatures(), resetAt))

		records, err := s.List(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, records, len(catalog.AllFeatures()))
		for _, rec := range records {
			assert.Equal(t, 0, rec.Count, rec.Feature)
			assert.True(t, rec.ResetAt.Equal(resetAt), rec.Feature)
		}
	})

	t.Run("users are isolated", func(t *testing.T) {
		s := newStore(t)
		alice, bob := uuid.New(), uuid.New()

		_, ok, err := s.IncrementIfBelow(ctx, alice, catalog.FeatureTitles, 1, now, next)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = s.IncrementIfBelow(ctx, bob, catalog.FeatureTitles, 1, now, next)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent increments never exceed limit", func(t *testing.T) {
		s := newStore(t)
		userID := uuid.New()
		const limit = 5

		var (
			wg      sync.WaitGroup
			granted atomic.Int32
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.IncrementIfBelow(ctx, userID, catalog.FeatureHashtags, limit, now, next)
				if err == nil && ok {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(limit), granted.Load())
		rec, err := s.Get(ctx, userID, catalog.FeatureHashtags)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, limit, rec.Count)
	})
}
