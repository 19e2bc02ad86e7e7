package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/catalog"
	"github.com/creatorstudio/entitlements/internal/gate"
	"github.com/creatorstudio/entitlements/internal/ledger"
	"github.com/creatorstudio/entitlements/internal/nats"
)

type fakeGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *fakeGenerator) Generate(_ context.Context, feature catalog.Feature, prompt string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return Result{}, g.err
	}
	return Result{Content: []string{fmt.Sprintf("%s for %s", feature, prompt)}, TokensUsed: 12}, nil
}

type staticTiers map[uuid.UUID]catalog.Tier

func (s staticTiers) TierFor(_ context.Context, userID uuid.UUID) (catalog.Tier, error) {
	if t, ok := s[userID]; ok {
		return t, nil
	}
	return catalog.TierFree, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []nats.UsageEvent
}

func (p *recordingPublisher) PublishUsageEvent(_ context.Context, e nats.UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

type generateFixture struct {
	router http.Handler
	gen    *fakeGenerator
	ledger *ledger.Ledger
	tiers  staticTiers
	events *recordingPublisher
	redis  *miniredis.Miniredis
}

func setupGenerate(t *testing.T, usage func(*ledger.Ledger) UsageRecorder) *generateFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	tiers := staticTiers{}
	l := ledger.New(ledger.NewRedisStore(rdb), tiers, 0)
	gen := &fakeGenerator{}
	events := &recordingPublisher{}

	var recorder UsageRecorder = l
	if usage != nil {
		recorder = usage(l)
	}
	h := NewHandler(gen, recorder, events)
	g := gate.New(l, tiers)

	r := chi.NewRouter()
	r.With(g.RequireFeature(gate.FeatureFromURLParam("feature"))).Post("/generate/{feature}", h.Generate)

	return &generateFixture{router: r, gen: gen, ledger: l, tiers: tiers, events: events, redis: mr}
}

func (f *generateFixture) post(t *testing.T, user *auth.User, feature, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate/"+feature, strings.NewReader(body))
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeGenerate(t *testing.T, rec *httptest.ResponseRecorder) GenerateResponse {
	t.Helper()
	var body struct {
		Data GenerateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestGenerate_RecordsUsage(t *testing.T) {
	f := setupGenerate(t, nil)
	user := &auth.User{ID: uuid.New()}
	f.tiers[user.ID] = catalog.TierBasic

	rec := f.post(t, user, "titles", `{"prompt":"cooking vlog"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeGenerate(t, rec)
	assert.Equal(t, AccountingRecorded, resp.Accounting)
	assert.Equal(t, []string{"titles for cooking vlog"}, resp.Content)
	assert.Equal(t, 30, resp.Limit)
	assert.Equal(t, 29, resp.Remaining)
	assert.Empty(t, resp.Warning)

	used, err := f.ledger.GetUsage(context.Background(), user.ID, catalog.FeatureTitles)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
	assert.Equal(t, []string{nats.EventUsageRecorded}, f.events.types())
}

func TestGenerate_GatedBeforeProvider(t *testing.T) {
	f := setupGenerate(t, nil)
	user := &auth.User{ID: uuid.New()}

	rec := f.post(t, nil, "titles", `{"prompt":"cooking vlog"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post(t, user, "tweets", `{"prompt":"cooking vlog"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Zero(t, f.gen.calls, "denied requests never reach the provider")
}

func TestGenerate_QuotaExhaustedAfterLimit(t *testing.T) {
	f := setupGenerate(t, nil)
	user := &auth.User{ID: uuid.New()}

	for i := 0; i < 3; i++ {
		rec := f.post(t, user, "ideas", `{"prompt":"gardening"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.post(t, user, "ideas", `{"prompt":"gardening"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 3, f.gen.calls)
}

func TestGenerate_ProviderFailureDoesNotCharge(t *testing.T) {
	f := setupGenerate(t, nil)
	user := &auth.User{ID: uuid.New()}
	f.gen.err = context.DeadlineExceeded

	rec := f.post(t, user, "titles", `{"prompt":"cooking vlog"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	used, err := f.ledger.GetUsage(context.Background(), user.ID, catalog.FeatureTitles)
	require.NoError(t, err)
	assert.Zero(t, used)
	assert.Empty(t, f.redis.Keys())
	assert.Empty(t, f.events.types())
}

func TestGenerate_InvalidRequest(t *testing.T) {
	f := setupGenerate(t, nil)
	user := &auth.User{ID: uuid.New()}

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"prompt":`},
		{"missing prompt", `{}`},
		{"too short", `{"prompt":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, user, "titles", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Zero(t, f.gen.calls)
}

func TestGenerate_OversizedBodyRejected(t *testing.T) {
	f := setupGenerate(t, nil)
	user := &auth.User{ID: uuid.New()}

	body := `{"prompt":"` + strings.Repeat("a", maxGenerateBody) + `"}`
	rec := f.post(t, user, "titles", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.gen.calls)
}

func TestGenerate_RequiresAllowedDecision(t *testing.T) {
	gen := &fakeGenerator{}
	h := NewHandler(gen, failingRecorder{}, nil)
	user := &auth.User{ID: uuid.New()}

	tests := []struct {
		name string
		eval func(t *testing.T) *gate.Evaluation
	}{
		{"no evaluation", nil},
		{"still checking", func(t *testing.T) *gate.Evaluation {
			e := gate.NewEvaluation()
			require.NoError(t, e.Begin())
			return e
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Post("/generate/{feature}", h.Generate)

			ctx := auth.WithUser(context.Background(), user)
			if tt.eval != nil {
				ctx = gate.WithEvaluation(ctx, tt.eval(t))
			}
			req := httptest.NewRequest(http.MethodPost, "/generate/titles", strings.NewReader(`{"prompt":"cooking vlog"}`)).WithContext(ctx)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
		})
	}
	assert.Zero(t, gen.calls, "an ungated request never reaches the provider")
}

type failingRecorder struct{}

func (failingRecorder) Record(_ context.Context, _ uuid.UUID, feature catalog.Feature) (ledger.Outcome, error) {
	return ledger.Outcome{Tier: catalog.TierFree, Limit: 5},
		fmt.Errorf("%w: incrementing %s usage: %w", ledger.ErrLedgerWrite, feature, errors.New("connection reset"))
}

func TestGenerate_LedgerWriteFailureKeepsContent(t *testing.T) {
	f := setupGenerate(t, func(*ledger.Ledger) UsageRecorder { return failingRecorder{} })
	user := &auth.User{ID: uuid.New()}

	rec := f.post(t, user, "titles", `{"prompt":"cooking vlog"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeGenerate(t, rec)
	assert.Equal(t, AccountingUnrecorded, resp.Accounting)
	assert.NotEmpty(t, resp.Content)
	assert.Equal(t, warningUnrecorded, resp.Warning)

	require.Equal(t, []string{nats.EventUsageUnrecorded}, f.events.types())
	assert.Equal(t, nats.SeverityError, f.events.events[0].Severity)
}

// raceRecorder consumes the last unit of quota between the gate check and the
// charge, the way a second tab would.
type raceRecorder struct {
	l *ledger.Ledger
}

func (r raceRecorder) Record(ctx context.Context, userID uuid.UUID, feature catalog.Feature) (ledger.Outcome, error) {
	if _, err := r.l.Increment(ctx, userID, feature); err != nil {
		return ledger.Outcome{}, err
	}
	return r.l.Record(ctx, userID, feature)
}

func TestGenerate_LostRaceIsReportedOverLimit(t *testing.T) {
	f := setupGenerate(t, func(l *ledger.Ledger) UsageRecorder { return raceRecorder{l: l} })
	user := &auth.User{ID: uuid.New()}
	for i := 0; i < 4; i++ {
		_, err := f.ledger.Increment(context.Background(), user.ID, catalog.FeatureTitles)
		require.NoError(t, err)
	}

	rec := f.post(t, user, "titles", `{"prompt":"cooking vlog"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeGenerate(t, rec)
	assert.Equal(t, AccountingOverLimit, resp.Accounting)
	assert.Zero(t, resp.Remaining)
	assert.Equal(t, []string{nats.EventUsageOverLimit}, f.events.types())

	used, err := f.ledger.GetUsage(context.Background(), user.ID, catalog.FeatureTitles)
	require.NoError(t, err)
	assert.Equal(t, 5, used, "count never passes the limit")
}
