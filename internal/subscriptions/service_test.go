package subscriptions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

type memRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]Subscription
	failGet error
	upserts int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[uuid.UUID]Subscription)}
}

func (m *memRepo) Get(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	sub, ok := m.rows[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (m *memRepo) GetByCustomerID(_ context.Context, customerID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.rows {
		if sub.StripeCustomerID == customerID {
			s := sub
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) Upsert(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.UpdatedAt = time.Now()
	m.rows[sub.UserID] = *sub
	m.upserts++
	return nil
}

func TestService_TierFor(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		row  *Subscription
		want catalog.Tier
	}{
		{"no row is free", nil, catalog.TierFree},
		{"active pro", &Subscription{Tier: catalog.TierPro, Status: StatusActive}, catalog.TierPro},
		{"trialing basic", &Subscription{Tier: catalog.TierBasic, Status: StatusTrialing}, catalog.TierBasic},
		{"past due pro is free", &Subscription{Tier: catalog.TierPro, Status: StatusPastDue}, catalog.TierFree},
		{"canceled creator is free", &Subscription{Tier: catalog.TierCreator, Status: StatusCanceled}, catalog.TierFree},
		{"unknown stored tier is free", &Subscription{Tier: "platinum", Status: StatusActive}, catalog.TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			userID := uuid.New()
			if tt.row != nil {
				tt.row.UserID = userID
				repo.rows[userID] = *tt.row
			}

			tier, err := NewService(repo).TierFor(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tier)
		})
	}

	t.Run("repository error propagates", func(t *testing.T) {
		repo := newMemRepo()
		repo.failGet = errors.New("connection refused")
		_, err := NewService(repo).TierFor(ctx, uuid.New())
		assert.Error(t, err)
	})
}

func TestService_Apply(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo)
	userID := uuid.New()

	tr, err := svc.Apply(ctx, Change{
		UserID:               userID,
		Tier:                 catalog.TierBasic,
		Status:               StatusActive,
		StripeCustomerID:     "cus_123",
		StripeSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	assert.True(t, tr.PlanChanged())
	assert.True(t, tr.AccessChanged())
	assert.Equal(t, catalog.TierFree, tr.From.EffectiveTier())
	assert.Equal(t, catalog.TierBasic, tr.To.EffectiveTier())

	tr, err = svc.Apply(ctx, Change{
		UserID:               userID,
		Tier:                 catalog.TierPro,
		Status:               StatusActive,
		StripeSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	assert.True(t, tr.PlanChanged())
	assert.Equal(t, catalog.TierBasic, tr.From.EffectiveTier())
	assert.Equal(t, catalog.TierPro, tr.To.EffectiveTier())

	stored := repo.rows[userID]
	assert.Equal(t, "cus_123", stored.StripeCustomerID, "customer id survives updates without one")

	t.Run("status only change", func(t *testing.T) {
		tr, err := svc.Apply(ctx, Change{UserID: userID, Tier: catalog.TierPro, Status: StatusPastDue})
		require.NoError(t, err)
		assert.False(t, tr.PlanChanged())
		assert.True(t, tr.AccessChanged())
		assert.Equal(t, catalog.TierFree, tr.To.EffectiveTier())
	})

	t.Run("unknown tier rejected", func(t *testing.T) {
		_, err := svc.Apply(ctx, Change{UserID: userID, Tier: "platinum", Status: StatusActive})
		assert.ErrorIs(t, err, catalog.ErrUnknownTier)
	})
}

func TestService_LinkCustomer(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo)
	userID := uuid.New()

	require.NoError(t, svc.LinkCustomer(ctx, userID, "cus_abc"))

	sub, err := svc.GetByCustomerID(ctx, "cus_abc")
	require.NoError(t, err)
	assert.Equal(t, userID, sub.UserID)
	assert.Equal(t, catalog.TierFree, sub.Tier)
}

func TestService_View(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()
	repo.rows[userID] = Subscription{UserID: userID, Tier: catalog.TierPro, Status: StatusPastDue}

	view, err := NewService(repo).View(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, catalog.TierPro, view.Tier)
	assert.Equal(t, catalog.TierFree, view.EffectiveTier)
	assert.Equal(t, catalog.Version, view.CatalogVersion)
}

func TestTransition_Upgraded(t *testing.T) {
	sub := func(tier catalog.Tier, status Status) Subscription {
		return Subscription{Tier: tier, Status: status}
	}

	tests := []struct {
		name string
		from Subscription
		to   Subscription
		want bool
	}{
		{"free to active basic", sub(catalog.TierFree, StatusActive), sub(catalog.TierBasic, StatusActive), true},
		{"basic to pro", sub(catalog.TierBasic, StatusActive), sub(catalog.TierPro, StatusActive), true},
		{"incomplete paid", sub(catalog.TierBasic, StatusIncomplete), sub(catalog.TierBasic, StatusActive), true},
		{"resubscribe after cancel", sub(catalog.TierPro, StatusCanceled), sub(catalog.TierPro, StatusActive), true},
		{"free to incomplete basic", sub(catalog.TierFree, StatusActive), sub(catalog.TierBasic, StatusIncomplete), false},
		{"past due recovered", sub(catalog.TierPro, StatusPastDue), sub(catalog.TierPro, StatusActive), false},
		{"unpaid recovered", sub(catalog.TierPro, StatusUnpaid), sub(catalog.TierPro, StatusActive), false},
		{"past due to higher tier", sub(catalog.TierBasic, StatusPastDue), sub(catalog.TierPro, StatusActive), true},
		{"pro to basic", sub(catalog.TierPro, StatusActive), sub(catalog.TierBasic, StatusActive), false},
		{"cancellation", sub(catalog.TierPro, StatusActive), sub(catalog.TierFree, StatusCanceled), false},
		{"same tier", sub(catalog.TierPro, StatusActive), sub(catalog.TierPro, StatusActive), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition{From: tt.from, To: tt.to}.Upgraded())
		})
	}
}
