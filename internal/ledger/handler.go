package ledger

import (
	"log/slog"
	"net/http"

	"github.com/creatorstudio/entitlements/internal/api"
	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/catalog"
)

// UsageResponse is the dashboard view of a user's allowance.
type UsageResponse struct {
	Tier           catalog.Tier   `json:"tier"`
	CatalogVersion string         `json:"catalog_version"`
	PeriodDays     int            `json:"period_days"`
	Features       []FeatureUsage `json:"features"`
}

type Handler struct {
	ledger *Ledger
}

func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

// Usage returns the caller's usage for every feature.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())
	if user == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	tier, usage, err := h.ledger.UserSummary(r.Context(), user.ID)
	if err != nil {
		slog.Error("loading usage summary", "user_id", user.ID, "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}

	api.JSON(w, http.StatusOK, UsageResponse{
		Tier:           tier,
		CatalogVersion: catalog.Version,
		PeriodDays:     int(h.ledger.Period().Hours() / 24),
		Features:       usage,
	})
}
