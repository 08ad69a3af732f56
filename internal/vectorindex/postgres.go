package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/c2h5ohfu/AetherCell/internal/log"
)

// Querier is the subset of pgxpool.Pool the index needs. Defined here so
// tests can substitute a mock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres implements Index on PostgreSQL with the pgvector extension.
// Records live in the vector_records table; metadata filters use the
// JSONB containment operator backed by a GIN index.
type Postgres struct {
	db     Querier
	logger log.Logger
}

var _ Index = (*Postgres)(nil)

// NewPostgres creates a pgvector-backed index.
func NewPostgres(db Querier, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

const upsertRecordSQL = `
INSERT INTO vector_records (id, content, embedding, metadata)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata`

// Upsert writes all records in one batch round trip. The batch is not a
// transaction spanning other tables; callers sequence relational writes
// separately.
func (p *Postgres) Upsert(ctx context.Context, ids, texts []string, vectors [][]float32, metadatas []map[string]string) error {
	if len(ids) != len(texts) || len(ids) != len(vectors) || len(ids) != len(metadatas) {
		return fmt.Errorf("%w: ids=%d texts=%d vectors=%d metadatas=%d",
			ErrLengthMismatch, len(ids), len(texts), len(vectors), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, id := range ids {
		metadataJSON, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for record %q: %w", id, err)
		}
		vec := pgvector.NewVector(vectors[i])
		batch.Queue(upsertRecordSQL, id, texts[i], vec, metadataJSON)
	}

	results := p.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range ids {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert record %q: %w", ids[i], err)
		}
	}

	p.logger.Debug("upserted vector records", "count", len(ids))
	return nil
}

const querySQL = `
SELECT id, content, metadata, embedding <=> $1 AS distance
FROM vector_records
WHERE metadata @> $2
ORDER BY embedding <=> $1
LIMIT $3`

const queryAllSQL = `
SELECT id, content, metadata, embedding <=> $1 AS distance
FROM vector_records
ORDER BY embedding <=> $1
LIMIT $2`

// Query returns the k nearest records by cosine distance, optionally
// constrained to records whose metadata contains every filter entry.
func (p *Postgres) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	queryVec := pgvector.NewVector(vector)

	var rows pgx.Rows
	var err error
	if len(filter) > 0 {
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", marshalErr)
		}
		rows, err = p.db.Query(ctx, querySQL, queryVec, filterJSON, k)
	} else {
		rows, err = p.db.Query(ctx, queryAllSQL, queryVec, k)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var metadataJSON []byte
		if err := rows.Scan(&m.ID, &m.Content, &metadataJSON, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			p.logger.Warn("failed to parse record metadata", "record_id", m.ID, "error", err)
			m.Metadata = make(map[string]string)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return matches, nil
}

// Delete removes the given ids. The returned count is the number of ids
// submitted, not the number of rows that existed.
func (p *Postgres) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := p.db.Exec(ctx, `DELETE FROM vector_records WHERE id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("failed to delete vector records: %w", err)
	}
	p.logger.Debug("deleted vector records", "count", len(ids))
	return len(ids), nil
}

// IDs returns the ids of all records whose metadata contains every filter
// entry.
func (p *Postgres) IDs(ctx context.Context, filter map[string]string) ([]string, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}

	rows, err := p.db.Query(ctx, `SELECT id FROM vector_records WHERE metadata @> $1`, filterJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to list record ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list record ids: %w", err)
	}
	return ids, nil
}

// Count returns the number of records matching filter.
func (p *Postgres) Count(ctx context.Context, filter map[string]string) (int, error) {
	var count int64
	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal filter: %w", err)
		}
		if err := p.db.QueryRow(ctx, `SELECT count(*) FROM vector_records WHERE metadata @> $1`, filterJSON).Scan(&count); err != nil {
			return 0, fmt.Errorf("count failed: %w", err)
		}
	} else {
		if err := p.db.QueryRow(ctx, `SELECT count(*) FROM vector_records`).Scan(&count); err != nil {
			return 0, fmt.Errorf("count failed: %w", err)
		}
	}

	if count > math.MaxInt {
		return 0, fmt.Errorf("record count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}
