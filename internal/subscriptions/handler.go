package subscriptions

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/api"
	"github.com/creatorstudio/entitlements/internal/auth"
)

type viewer interface {
	View(ctx context.Context, userID uuid.UUID) (*View, error)
}

type Handler struct {
	svc viewer
}

func NewHandler(svc viewer) *Handler {
	return &Handler{svc: svc}
}

// Get returns the caller's plan.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())
	if user == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	view, err := h.svc.View(r.Context(), user.ID)
	if err != nil {
		slog.Error("loading subscription", "user_id", user.ID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, view)
}
