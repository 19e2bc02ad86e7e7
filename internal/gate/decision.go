// Package gate decides whether a user may open or run a generator, and where
// to send them when they may not.
package gate

import (
	"errors"
	"net/http"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNotEntitled       = errors.New("feature not included in tier")
	ErrQuotaExhausted    = errors.New("monthly quota exhausted")
	ErrInvalidTransition = errors.New("invalid gate transition")
)

// State is a step of the gate state machine.
type State string

const (
	StateUnchecked            State = "unchecked"
	StateChecking             State = "checking"
	StateAllowed              State = "allowed"
	StateDeniedNoAuth         State = "denied_no_auth"
	StateDeniedNoEntitlement  State = "denied_no_entitlement"
	StateDeniedQuotaExhausted State = "denied_quota_exhausted"
)

// Terminal reports whether s renders or redirects.
func (s State) Terminal() bool {
	switch s {
	case StateAllowed, StateDeniedNoAuth, StateDeniedNoEntitlement, StateDeniedQuotaExhausted:
		return true
	}
	return false
}

// Redirect is the single next action offered with a denial.
type Redirect string

const (
	RedirectNone    Redirect = ""
	RedirectSignIn  Redirect = "sign-in"
	RedirectUpgrade Redirect = "upgrade/pricing"
)

// User-facing copy for each denial.
const (
	ReasonNoAuth         = "Sign in to use this generator."
	ReasonNoEntitlement  = "Upgrade to unlock this generator."
	ReasonQuotaExhausted = "You've used this month's allowance."
	ReasonLedgerRead     = "We couldn't check your usage right now. Try again in a moment."
)

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Feature   catalog.Feature `json:"feature"`
	Tier      catalog.Tier    `json:"tier,omitempty"`
	State     State           `json:"state"`
	Redirect  Redirect        `json:"redirect,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Limit     int             `json:"limit"`
	Remaining int             `json:"remaining"`
}

// Allowed reports whether the feature may be used.
func (d Decision) Allowed() bool {
	return d.State == StateAllowed
}

// Err maps a denial to its sentinel error, or nil when allowed.
func (d Decision) Err() error {
	switch d.State {
	case StateDeniedNoAuth:
		return ErrNotAuthenticated
	case StateDeniedNoEntitlement:
		return ErrNotEntitled
	case StateDeniedQuotaExhausted:
		return ErrQuotaExhausted
	}
	return nil
}

// HTTPStatus is the status a guarded endpoint answers with for d.
func (d Decision) HTTPStatus() int {
	switch d.State {
	case StateAllowed:
		return http.StatusOK
	case StateDeniedNoAuth:
		return http.StatusUnauthorized
	case StateDeniedNoEntitlement:
		return http.StatusForbidden
	case StateDeniedQuotaExhausted:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func allowed(feature catalog.Feature, tier catalog.Tier, limit, remaining int) Decision {
	return Decision{Feature: feature, Tier: tier, State: StateAllowed, Limit: limit, Remaining: remaining}
}

func deniedNoAuth(feature catalog.Feature) Decision {
	return Decision{Feature: feature, State: StateDeniedNoAuth, Redirect: RedirectSignIn, Reason: ReasonNoAuth}
}

func deniedNoEntitlement(feature catalog.Feature, tier catalog.Tier) Decision {
	return Decision{Feature: feature, Tier: tier, State: StateDeniedNoEntitlement, Redirect: RedirectUpgrade, Reason: ReasonNoEntitlement}
}

func deniedQuota(feature catalog.Feature, tier catalog.Tier, limit int) Decision {
	return Decision{Feature: feature, Tier: tier, State: StateDeniedQuotaExhausted, Redirect: RedirectUpgrade, Reason: ReasonQuotaExhausted, Limit: limit}
}
