// Package llm generates short assistant texts via a local model backend.
// The ingestion flow only uses it for upload acknowledgments, so failures
// here are always recoverable by the caller.
package llm

import (
	"context"
)

// Generator produces a completion for a prompt. Implementations must not
// retry internally.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
