package generation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/api"
	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/catalog"
	"github.com/creatorstudio/entitlements/internal/gate"
	"github.com/creatorstudio/entitlements/internal/ledger"
	"github.com/creatorstudio/entitlements/internal/metrics"
	"github.com/creatorstudio/entitlements/internal/nats"
)

// Accounting states reported with generated content.
const (
	AccountingRecorded   = "recorded"
	AccountingOverLimit  = "over_limit"
	AccountingUnrecorded = "unrecorded"
)

const warningUnrecorded = "Your content is ready, but we couldn't update your usage."

const maxGenerateBody = 16 << 10

type GenerateRequest struct {
	Prompt string `json:"prompt" validate:"required,min=3,max=2000"`
}

type GenerateResponse struct {
	Feature    catalog.Feature `json:"feature"`
	Content    []string        `json:"content"`
	TokensUsed int             `json:"tokens_used"`
	Accounting string          `json:"accounting"`
	Limit      int             `json:"limit"`
	Remaining  int             `json:"remaining"`
	Warning    string          `json:"warning,omitempty"`
}

// UsageRecorder charges one use of a feature.
type UsageRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, feature catalog.Feature) (ledger.Outcome, error)
}

type Handler struct {
	gen      Generator
	usage    UsageRecorder
	events   nats.EventPublisher
	validate *validator.Validate
}

func NewHandler(gen Generator, usage UsageRecorder, events nats.EventPublisher) *Handler {
	if events == nil {
		events = nats.NopPublisher{}
	}
	return &Handler{
		gen:      gen,
		usage:    usage,
		events:   events,
		validate: validator.New(),
	}
}

// Generate runs behind gate.RequireFeature. Usage is charged only after the
// provider returns content, and content is always delivered once produced.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())
	if user == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	decision, ok := gate.DecisionFromContext(r.Context())
	if !ok {
		slog.Error("generate reached without an allowed gate decision", "user_id", user.ID, "path", r.URL.Path)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	feature := decision.Feature

	var req GenerateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	start := time.Now()
	res, err := h.gen.Generate(r.Context(), feature, req.Prompt)
	metrics.GenerationDuration.WithLabelValues(string(feature)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(string(feature), "error").Inc()
		slog.Error("generation failed", "user_id", user.ID, "feature", feature, "error", err)
		api.HandleError(w, api.ErrBadGateway)
		return
	}
	metrics.GenerationRequestsTotal.WithLabelValues(string(feature), "ok").Inc()

	resp := GenerateResponse{
		Feature:    feature,
		Content:    res.Content,
		TokensUsed: res.TokensUsed,
	}

	out, err := h.usage.Record(r.Context(), user.ID, feature)
	event := nats.UsageEvent{UserID: user.ID, Feature: feature, Tier: out.Tier}
	resp.Limit = out.Limit

	switch {
	case err != nil:
		metrics.LedgerWriteFailuresTotal.Inc()
		slog.Error("usage not recorded after generation",
			"user_id", user.ID, "feature", feature, "error", err)
		resp.Accounting = AccountingUnrecorded
		resp.Warning = warningUnrecorded
		event.EventType = nats.EventUsageUnrecorded
		event.Severity = nats.SeverityError
		event.Details = err.Error()
	case !out.Recorded:
		slog.Warn("generation delivered over limit",
			"user_id", user.ID, "feature", feature, "limit", out.Limit)
		resp.Accounting = AccountingOverLimit
		event.EventType = nats.EventUsageOverLimit
		event.Severity = nats.SeverityWarn
	default:
		resp.Accounting = AccountingRecorded
		resp.Remaining = out.Remaining()
		event.EventType = nats.EventUsageRecorded
	}
	nats.Emit(r.Context(), h.events, event)

	api.JSON(w, http.StatusOK, resp)
}
