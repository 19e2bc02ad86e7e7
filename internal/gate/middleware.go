package gate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/creatorstudio/entitlements/internal/api"
	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/catalog"
	"github.com/creatorstudio/entitlements/internal/nats"
)

type contextKey string

const evaluationKey contextKey = "gate_evaluation"

// FeatureResolver extracts the requested feature from a request.
type FeatureResolver func(r *http.Request) (catalog.Feature, error)

// FeatureFromURLParam reads the feature from a chi route parameter.
func FeatureFromURLParam(name string) FeatureResolver {
	return func(r *http.Request) (catalog.Feature, error) {
		return catalog.ParseFeature(chi.URLParam(r, name))
	}
}

// RequireFeature re-evaluates the gate immediately before the wrapped
// handler runs and only lets allowed requests through. The request carries
// one Evaluation; a nested guard re-checks it rather than starting another.
// Handlers read the outcome via DecisionFromContext.
func (g *Gate) RequireFeature(resolve FeatureResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			feature, err := resolve(r)
			if err != nil {
				api.HandleError(w, api.NewNotFoundError("unknown feature"))
				return
			}

			ctx := r.Context()
			eval, ok := evaluationFrom(ctx)
			if !ok {
				eval = NewEvaluation()
				ctx = WithEvaluation(ctx, eval)
			}
			if err := eval.Begin(); err != nil {
				slog.Error("gate: evaluation already in progress", "feature", feature, "error", err)
				api.HandleError(w, api.ErrInternalServer)
				return
			}

			user := auth.CurrentUser(ctx)
			d, checkErr := g.Check(ctx, user, feature)
			if err := eval.Resolve(d); err != nil {
				slog.Error("gate: unresolved decision", "feature", feature, "error", err)
				api.HandleError(w, api.ErrInternalServer)
				return
			}
			if checkErr != nil {
				api.JSONErrorData(w, http.StatusServiceUnavailable, d, api.ErrServiceUnavailable.Message)
				return
			}
			if !d.Allowed() {
				if user != nil {
					nats.Emit(ctx, g.events, nats.UsageEvent{
						UserID:    user.ID,
						EventType: nats.EventGateDenied,
						Feature:   feature,
						Tier:      d.Tier,
						Details:   string(d.State),
					})
				}
				api.JSONErrorData(w, d.HTTPStatus(), d, d.Reason)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func evaluationFrom(ctx context.Context) (*Evaluation, bool) {
	eval, ok := ctx.Value(evaluationKey).(*Evaluation)
	return eval, ok
}

// WithEvaluation attaches eval to ctx.
func WithEvaluation(ctx context.Context, eval *Evaluation) context.Context {
	return context.WithValue(ctx, evaluationKey, eval)
}

// DecisionFromContext returns the request's gate decision. ok is false
// unless the request's evaluation resolved to allowed, so a handler mounted
// without RequireFeature never sees a usable decision.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	eval, ok := evaluationFrom(ctx)
	if !ok || eval.State() != StateAllowed {
		return Decision{}, false
	}
	return eval.Decision(), true
}
