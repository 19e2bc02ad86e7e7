package subscriptions

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/catalog"
)

func TestHandler_Get(t *testing.T) {
	repo := newMemRepo()
	userID := uuid.New()
	repo.rows[userID] = Subscription{UserID: userID, Tier: catalog.TierBasic, Status: StatusActive}
	h := NewHandler(NewService(repo))

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("returns plan", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil)
		req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: userID}))
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data View `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, catalog.TierBasic, body.Data.Tier)
		assert.Equal(t, catalog.TierBasic, body.Data.EffectiveTier)
		assert.Equal(t, StatusActive, body.Data.Status)
	})
}
