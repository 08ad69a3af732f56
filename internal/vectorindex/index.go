// Package vectorindex stores embedded chunks and answers similarity
// queries over them. Records are addressed by caller-supplied ids, so
// re-ingesting the same id replaces the old record.
package vectorindex

import (
	"context"
	"errors"
)

// ErrLengthMismatch indicates Upsert was called with slices of unequal
// length. Nothing is written when this is returned.
var ErrLengthMismatch = errors.New("ids, texts, vectors and metadatas must have equal length")

// Match is one similarity-search result. Distance is the cosine distance
// to the query vector; smaller means more similar.
type Match struct {
	ID       string
	Content  string
	Metadata map[string]string
	Distance float64
}

// Index is the vector store contract. Implementations are safe for
// concurrent use.
type Index interface {
	// Upsert writes one record per id, replacing existing records with the
	// same id. All four slices must have equal length.
	Upsert(ctx context.Context, ids, texts []string, vectors [][]float32, metadatas []map[string]string) error

	// Query returns up to k records matching every entry of filter,
	// ordered by cosine distance ascending. A nil filter matches all.
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error)

	// Delete removes the given ids and returns the number of ids
	// submitted. Ids that do not exist are counted anyway; deletion is
	// idempotent.
	Delete(ctx context.Context, ids []string) (int, error)

	// IDs returns the ids of all records matching every entry of filter.
	IDs(ctx context.Context, filter map[string]string) ([]string, error)

	// Count returns the number of records matching every entry of filter.
	// A nil filter counts all records.
	Count(ctx context.Context, filter map[string]string) (int, error)
}
