// Package generation calls the AI provider and charges successful calls to
// the usage ledger.
package generation

import (
	"context"
	"errors"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

var ErrEmptyResponse = errors.New("provider returned no content")

// Result is the content produced for one request.
type Result struct {
	Content    []string `json:"content"`
	TokensUsed int      `json:"tokens_used"`
}

// Generator produces content for a feature. An error means nothing was
// produced and nothing may be charged.
type Generator interface {
	Generate(ctx context.Context, feature catalog.Feature, prompt string) (Result, error)
}
