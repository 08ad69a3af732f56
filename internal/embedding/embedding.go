// Package embedding converts text into fixed-dimension vectors via a remote
// embedding model.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrCountMismatch indicates the backend returned a different number of
	// vectors than texts submitted. Callers must treat this as a hard
	// failure and abort the batch; nothing partial is ever returned.
	ErrCountMismatch = errors.New("embedding count does not match input count")

	// ErrEmptyEmbedding indicates the backend returned a zero-length vector.
	ErrEmptyEmbedding = errors.New("empty embedding returned")
)

// Client generates embeddings. Implementations do not retry; retry policy
// belongs to the caller.
type Client interface {
	// EmbedMany returns exactly one vector per input text, in input order,
	// or an error with no partial result.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne returns the vector for a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}
