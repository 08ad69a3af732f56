// Package store persists the relational side of the pipeline: uploaded
// files, ingestion batches, chunk rows and chat messages. Vector records
// live in a separate table owned by the vectorindex package; the two are
// kept consistent by the ingestion orchestrator, not by transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/c2h5ohfu/AetherCell/internal/log"
	"github.com/c2h5ohfu/AetherCell/internal/scope"
)

// Querier is the subset of pgxpool.Pool the store needs. Defined here so
// tests can substitute a mock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store provides relational persistence. Safe for concurrent use.
type Store struct {
	db     Querier
	logger log.Logger
}

// New creates a Store.
func New(db Querier, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// --- stored files ---

// CreateStoredFile persists the raw upload bytes.
func (s *Store) CreateStoredFile(ctx context.Context, f StoredFile) error {
	var sessionID *string
	if f.SessionID != "" {
		sessionID = &f.SessionID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO stored_files (id, original_filename, file_type, content, content_length, uploader_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.Filename, f.FileType, f.Content, len(f.Content), f.UploaderID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to create stored file %q: %w", f.ID, err)
	}
	return nil
}

// GetStoredFile loads the raw upload bytes by id.
func (s *Store) GetStoredFile(ctx context.Context, id string) (StoredFile, error) {
	var f StoredFile
	var sessionID *string
	err := s.db.QueryRow(ctx, `
		SELECT id, original_filename, file_type, content, uploader_id, session_id, uploaded_at
		FROM stored_files WHERE id = $1`, id).
		Scan(&f.ID, &f.Filename, &f.FileType, &f.Content, &f.UploaderID, &sessionID, &f.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredFile{}, fmt.Errorf("stored file %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to get stored file %q: %w", id, err)
	}
	if sessionID != nil {
		f.SessionID = *sessionID
	}
	return f, nil
}

// DeleteStoredFile removes the raw upload bytes. Deleting an absent file
// is not an error.
func (s *Store) DeleteStoredFile(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM stored_files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete stored file %q: %w", id, err)
	}
	return nil
}

// DeleteStoredFilesBySession removes all uploads tied to a session.
func (s *Store) DeleteStoredFilesBySession(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM stored_files WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete stored files for session %q: %w", sessionID, err)
	}
	return nil
}

// --- batches ---

// CreateBatch records a new public ingestion operation in processing state.
func (s *Store) CreateBatch(ctx context.Context, b Batch) error {
	var fileID *string
	if b.StoredFileID != "" {
		fileID = &b.StoredFileID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO knowledge_batches (id, original_filename, uploader_id, status, stored_file_id)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Filename, b.UploaderID, StatusProcessing, fileID)
	if err != nil {
		return fmt.Errorf("failed to create batch %q: %w", b.ID, err)
	}
	return nil
}

// GetBatch returns one batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (Batch, error) {
	b, err := scanBatch(s.db.QueryRow(ctx, `
		SELECT id, original_filename, uploader_id, status, stored_file_id, uploaded_at
		FROM knowledge_batches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, fmt.Errorf("batch %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("failed to get batch %q: %w", id, err)
	}
	return b, nil
}

// ListBatches returns all batches, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]Batch, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, original_filename, uploader_id, status, stored_file_id, uploaded_at
		FROM knowledge_batches ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

// UpdateBatchStatus sets the batch status string.
func (s *Store) UpdateBatchStatus(ctx context.Context, id, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE knowledge_batches SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update batch %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %q: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteBatch removes the batch row; chunk rows cascade.
func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM knowledge_batches WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete batch %q: %w", id, err)
	}
	return nil
}

// BatchIDsByStatusOlderThan returns batches in the given status whose
// upload time is before the cutoff. Used to detect interrupted work.
func (s *Store) BatchIDsByStatusOlderThan(ctx context.Context, status string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM knowledge_batches WHERE status = $1 AND uploaded_at < $2`, status, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches by status: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var fileID *string
	if err := row.Scan(&b.ID, &b.Filename, &b.UploaderID, &b.Status, &fileID, &b.UploadedAt); err != nil {
		return Batch{}, err
	}
	if fileID != nil {
		b.StoredFileID = *fileID
	}
	return b, nil
}

// --- chunks ---

const insertChunkSQL = `
INSERT INTO chunks (id, batch_id, session_id, document_source, chunk_index, content, metadata, vector_state)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// AddChunks inserts chunk rows in pending vector state. Every row must
// link to exactly one owner; a violation rejects the whole set before
// anything is written.
func (s *Store) AddChunks(ctx context.Context, chunks []ChunkRow) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if err := scope.ValidateChunkLink(c.BatchID, c.SessionID); err != nil {
			return fmt.Errorf("chunk %q: %w", c.ID, err)
		}
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %q: %w", c.ID, err)
		}
		var batchID, sessionID *string
		if c.BatchID != "" {
			batchID = &c.BatchID
		}
		if c.SessionID != "" {
			sessionID = &c.SessionID
		}
		batch.Queue(insertChunkSQL, c.ID, batchID, sessionID, c.Source, c.Index, c.Content, metadataJSON, VectorStatePending)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk %q: %w", chunks[i].ID, err)
		}
	}

	s.logger.Debug("inserted chunk rows", "count", len(chunks))
	return nil
}

// MarkChunksCommitted flips chunk rows to committed once their vector
// records are stored.
func (s *Store) MarkChunksCommitted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE chunks SET vector_state = $2 WHERE id = ANY($1)`, ids, VectorStateCommitted)
	if err != nil {
		return fmt.Errorf("failed to mark chunks committed: %w", err)
	}
	return nil
}

// ChunkIDsByBatch returns all chunk ids belonging to a batch.
func (s *Store) ChunkIDsByBatch(ctx context.Context, batchID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM chunks WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks for batch %q: %w", batchID, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ChunkIDsBySession returns all chunk ids belonging to a session.
func (s *Store) ChunkIDsBySession(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM chunks WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks for session %q: %w", sessionID, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ChunkIDs returns every chunk id. Used by the reconciliation sweep to
// find orphaned vector records.
func (s *Store) ChunkIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// DeleteChunksByIDs removes chunk rows by id.
func (s *Store) DeleteChunksByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// CountChunksByBatch returns the number of chunk rows in a batch.
func (s *Store) CountChunksByBatch(ctx context.Context, batchID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE batch_id = $1`, batchID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for batch %q: %w", batchID, err)
	}
	return count, nil
}

// PendingChunks returns chunk rows still in pending vector state created
// before the cutoff. Recently inserted rows are excluded so the sweep
// does not race an in-flight ingestion.
func (s *Store) PendingChunks(ctx context.Context, cutoff time.Time) ([]ChunkRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, batch_id, session_id, document_source, chunk_index, content, metadata
		FROM chunks WHERE vector_state = $1 AND created_at < $2`,
		VectorStatePending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRow
	for rows.Next() {
		var c ChunkRow
		var batchID, sessionID *string
		var metadataJSON []byte
		if err := rows.Scan(&c.ID, &batchID, &sessionID, &c.Source, &c.Index, &c.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan pending chunk: %w", err)
		}
		if batchID != nil {
			c.BatchID = *batchID
		}
		if sessionID != nil {
			c.SessionID = *sessionID
		}
		if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
			s.logger.Warn("failed to parse chunk metadata", "chunk_id", c.ID, "error", err)
			c.Metadata = make(map[string]string)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}
	return chunks, nil
}

// --- chat messages ---

// SaveMessage appends one message to a session transcript.
func (s *Store) SaveMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_messages (session_id, role, content) VALUES ($1, $2, $3)`,
		sessionID, role, content)
	if err != nil {
		return fmt.Errorf("failed to save message for session %q: %w", sessionID, err)
	}
	return nil
}

// DeleteMessagesBySession removes a session transcript.
func (s *Store) DeleteMessagesBySession(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages for session %q: %w", sessionID, err)
	}
	return nil
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return ids, nil
}
