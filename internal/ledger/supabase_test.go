package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

func TestParseRPCCount(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantOK  bool
		wantErr bool
	}{
		{"count", "7", 7, true, false},
		{"count with newline", "12\n", 12, true, false},
		{"refused", "null", 0, false, false},
		{"transport failure", "", 0, false, true},
		{"database error", `{"code":"42883","message":"function increment_usage does not exist"}`, 0, false, true},
		{"garbage", "<html>", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok, err := parseRPCCount(tt.body)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

// fakePostgREST serves the subset of the REST API the store uses.
type fakePostgREST struct {
	rows      []map[string]any
	rpcResult string
	rpcStatus int
	lastRPC   map[string]any
	lastQuery map[string]string
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/usage_records":
		f.lastQuery = map[string]string{}
		for k := range r.URL.Query() {
			f.lastQuery[k] = r.URL.Query().Get(k)
		}
		_ = json.NewEncoder(w).Encode(f.rows)
	case r.Method == http.MethodPost && (r.URL.Path == "/rest/v1/rpc/increment_usage" || r.URL.Path == "/rest/v1/rpc/reset_usage"):
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.lastRPC)
		if f.rpcStatus != 0 {
			w.WriteHeader(f.rpcStatus)
		}
		_, _ = io.WriteString(w, f.rpcResult)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"PGRST000","message":"not found"}`)
	}
}

func setupSupabaseStore(t *testing.T) (*SupabaseStore, *fakePostgREST) {
	t.Helper()
	fake := &fakePostgREST{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewSupabaseStore(srv.URL, "service-role-key"), fake
}

func TestSupabaseStore_Get(t *testing.T) {
	store, fake := setupSupabaseStore(t)
	userID := uuid.New()
	resetAt := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

	t.Run("missing row", func(t *testing.T) {
		fake.rows = []map[string]any{}
		rec, err := store.Get(context.Background(), userID, catalog.FeatureTitles)
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.Equal(t, "eq."+userID.String(), fake.lastQuery["user_id"])
		assert.Equal(t, "eq.titles", fake.lastQuery["feature"])
	})

	t.Run("existing row", func(t *testing.T) {
		fake.rows = []map[string]any{{"feature": "titles", "count": 4, "reset_at": resetAt.Format(time.RFC3339)}}
		rec, err := store.Get(context.Background(), userID, catalog.FeatureTitles)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, 4, rec.Count)
		assert.True(t, rec.ResetAt.Equal(resetAt))
	})
}

func TestSupabaseStore_ListSkipsUnknownFeatures(t *testing.T) {
	store, fake := setupSupabaseStore(t)
	fake.rows = []map[string]any{
		{"feature": "ideas", "count": 2, "reset_at": "2024-10-01T00:00:00+00:00"},
		{"feature": "podcasts", "count": 9, "reset_at": "2024-10-01T00:00:00+00:00"},
	}

	records, err := store.List(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, catalog.FeatureIdeas, records[0].Feature)
}

func TestSupabaseStore_IncrementIfBelow(t *testing.T) {
	store, fake := setupSupabaseStore(t)
	userID := uuid.New()
	now := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	fake.rpcResult = "3"
	count, ok, err := store.IncrementIfBelow(context.Background(), userID, catalog.FeatureHashtags, 30, now, now.Add(DefaultPeriod))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, count)
	assert.Equal(t, userID.String(), fake.lastRPC["p_user_id"])
	assert.Equal(t, "hashtags", fake.lastRPC["p_feature"])
	assert.EqualValues(t, 30, fake.lastRPC["p_limit"])

	fake.rpcResult = "null"
	_, ok, err = store.IncrementIfBelow(context.Background(), userID, catalog.FeatureHashtags, 30, now, now.Add(DefaultPeriod))
	require.NoError(t, err)
	assert.False(t, ok)

	fake.rpcStatus = http.StatusInternalServerError
	fake.rpcResult = `{"code":"57014","message":"canceling statement due to statement timeout"}`
	_, ok, err = store.IncrementIfBelow(context.Background(), userID, catalog.FeatureHashtags, 30, now, now.Add(DefaultPeriod))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSupabaseStore_ResetAll(t *testing.T) {
	store, fake := setupSupabaseStore(t)
	features := catalog.AllFeatures()

	fake.rpcResult = "9"
	require.NoError(t, store.ResetAll(context.Background(), uuid.New(), features, time.Now()))
	assert.Len(t, fake.lastRPC["p_features"], len(features))

	fake.rpcResult = "4"
	assert.Error(t, store.ResetAll(context.Background(), uuid.New(), features, time.Now()))
}
