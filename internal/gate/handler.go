package gate

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/creatorstudio/entitlements/internal/api"
	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/catalog"
)

type Handler struct {
	gate *Gate
}

func NewHandler(g *Gate) *Handler {
	return &Handler{gate: g}
}

// Check answers whether the caller may open a generator screen. Denials are
// ordinary 200 responses carrying the redirect; only a ledger failure is an
// error.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	feature, err := catalog.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		api.HandleError(w, api.NewNotFoundError("unknown feature"))
		return
	}

	d, err := h.gate.Check(r.Context(), auth.CurrentUser(r.Context()), feature)
	if err != nil {
		api.JSONErrorData(w, http.StatusServiceUnavailable, d, api.ErrServiceUnavailable.Message)
		return
	}
	api.JSON(w, http.StatusOK, d)
}

// List returns a decision for every feature.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	decisions, err := h.gate.CheckAll(r.Context(), auth.CurrentUser(r.Context()))
	if err != nil {
		api.JSONErrorData(w, http.StatusServiceUnavailable, decisions, api.ErrServiceUnavailable.Message)
		return
	}
	api.JSON(w, http.StatusOK, decisions)
}
