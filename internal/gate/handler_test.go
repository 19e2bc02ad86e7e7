package gate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/catalog"
)

func newHandlerRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/entitlements", h.List)
	r.Get("/entitlements/{feature}", h.Check)
	return r
}

func TestHandler_Check(t *testing.T) {
	f := setupGate(t)
	router := newHandlerRouter(NewHandler(f.gate))
	user := &auth.User{ID: uuid.New()}
	f.tiers.set(user.ID, catalog.TierPro)

	t.Run("denials are 200 with a redirect", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entitlements/titles", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body decisionBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, StateDeniedNoAuth, body.Data.State)
		assert.Equal(t, RedirectSignIn, body.Data.Redirect)
	})

	t.Run("allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/entitlements/linkedinPosts", nil)
		req = req.WithContext(auth.WithUser(req.Context(), user))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body decisionBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, StateAllowed, body.Data.State)
		assert.Equal(t, catalog.TierPro, body.Data.Tier)
		assert.Equal(t, 500, body.Data.Remaining)
	})

	t.Run("unknown feature", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entitlements/podcasts", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_List(t *testing.T) {
	f := setupGate(t)
	router := newHandlerRouter(NewHandler(f.gate))
	user := &auth.User{ID: uuid.New()}

	req := httptest.NewRequest(http.MethodGet, "/entitlements", nil)
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []Decision `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, len(catalog.AllFeatures()))

	t.Run("ledger down", func(t *testing.T) {
		f.redis.Close()
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
