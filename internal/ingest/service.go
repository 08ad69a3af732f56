// Package ingest orchestrates the pipeline: uploaded file bytes are
// loaded, chunked, embedded and written to both the relational store and
// the vector index. It also answers scoped retrieval queries and owns
// deletion and drift repair across the two stores.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c2h5ohfu/AetherCell/internal/document"
	"github.com/c2h5ohfu/AetherCell/internal/log"
	"github.com/c2h5ohfu/AetherCell/internal/scope"
	"github.com/c2h5ohfu/AetherCell/internal/splitter"
	"github.com/c2h5ohfu/AetherCell/internal/store"
	"github.com/c2h5ohfu/AetherCell/internal/vectorindex"
)

// ErrNoChunks indicates a document produced no usable text.
var ErrNoChunks = errors.New("document produced no chunks")

// Loader turns raw file bytes into document segments.
type Loader interface {
	LoadBytes(ctx context.Context, data []byte, source string, typ document.Type) ([]document.Raw, error)
}

// Splitter subdivides document segments into chunks.
type Splitter interface {
	Split(raws []document.Raw, sourceName string) []splitter.Chunk
}

// Embedder converts texts to vectors. A count mismatch is a hard error.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Generator produces the upload acknowledgment text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Storage is the relational persistence the orchestrator needs.
type Storage interface {
	CreateStoredFile(ctx context.Context, f store.StoredFile) error
	GetStoredFile(ctx context.Context, id string) (store.StoredFile, error)
	DeleteStoredFile(ctx context.Context, id string) error
	DeleteStoredFilesBySession(ctx context.Context, sessionID string) error

	CreateBatch(ctx context.Context, b store.Batch) error
	GetBatch(ctx context.Context, id string) (store.Batch, error)
	ListBatches(ctx context.Context) ([]store.Batch, error)
	UpdateBatchStatus(ctx context.Context, id, status string) error
	DeleteBatch(ctx context.Context, id string) error
	BatchIDsByStatusOlderThan(ctx context.Context, status string, cutoff time.Time) ([]string, error)

	AddChunks(ctx context.Context, chunks []store.ChunkRow) error
	MarkChunksCommitted(ctx context.Context, ids []string) error
	ChunkIDsByBatch(ctx context.Context, batchID string) ([]string, error)
	ChunkIDsBySession(ctx context.Context, sessionID string) ([]string, error)
	ChunkIDs(ctx context.Context) ([]string, error)
	DeleteChunksByIDs(ctx context.Context, ids []string) error
	PendingChunks(ctx context.Context, cutoff time.Time) ([]store.ChunkRow, error)

	SaveMessage(ctx context.Context, sessionID, role, content string) error
	DeleteMessagesBySession(ctx context.Context, sessionID string) error
}

// Config tunes the orchestrator.
type Config struct {
	// Workers and QueueSize bound the background ingestion pool.
	Workers   int
	QueueSize int

	// TopK is the default result count for retrieval queries.
	TopK int

	// PendingAge is how old a pending chunk row must be before the
	// reconciliation sweep treats it as drifted rather than in-flight.
	PendingAge time.Duration
}

// Defaults for Config fields left zero.
const (
	DefaultTopK       = 5
	DefaultPendingAge = 10 * time.Minute
)

// SessionResult is the outcome of a synchronous session ingestion.
type SessionResult struct {
	StoredFileID string
	ChunkCount   int
	AckText      string
}

// Retrieved is one ranked retrieval result.
type Retrieved struct {
	Content  string
	Source   string
	Score    float64
	Metadata map[string]string
}

// ReconcileReport counts the drift repaired by one sweep.
type ReconcileReport struct {
	// OrphanVectorsDeleted is vector records with no chunk row.
	OrphanVectorsDeleted int

	// PendingCommitted is pending chunk rows whose vector already existed.
	PendingCommitted int

	// PendingReindexed is pending chunk rows re-embedded and upserted.
	PendingReindexed int

	// PendingFailed is pending chunk rows the sweep could not repair.
	PendingFailed int
}

// Service is the ingestion orchestrator. All collaborators are injected;
// construct once at process start and Close on shutdown.
type Service struct {
	loader    Loader
	splitter  Splitter
	embedder  Embedder
	index     vectorindex.Index
	store     Storage
	generator Generator
	logger    log.Logger

	pool       *Pool
	topK       int
	pendingAge time.Duration
}

// NewService wires the orchestrator and starts its worker pool.
func NewService(
	loader Loader,
	split Splitter,
	embedder Embedder,
	index vectorindex.Index,
	storage Storage,
	generator Generator,
	cfg Config,
	logger log.Logger,
) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.PendingAge <= 0 {
		cfg.PendingAge = DefaultPendingAge
	}
	return &Service{
		loader:     loader,
		splitter:   split,
		embedder:   embedder,
		index:      index,
		store:      storage,
		generator:  generator,
		logger:     logger,
		pool:       NewPool(cfg.Workers, cfg.QueueSize),
		topK:       cfg.TopK,
		pendingAge: cfg.PendingAge,
	}
}

// Close drains the background pool. Jobs already started run to
// completion.
func (s *Service) Close() {
	s.pool.Close()
}

// IngestPublic persists the upload, registers a processing batch and
// queues the pipeline in the background. The returned batch id is valid
// for status polls immediately.
func (s *Service) IngestPublic(ctx context.Context, data []byte, filename string, typ document.Type, uploaderID string) (string, error) {
	fileID := uuid.NewString()
	batchID := uuid.NewString()

	if err := s.store.CreateStoredFile(ctx, store.StoredFile{
		ID:         fileID,
		Filename:   filename,
		FileType:   string(typ),
		Content:    data,
		UploaderID: uploaderID,
	}); err != nil {
		return "", fmt.Errorf("failed to persist upload: %w", err)
	}

	if err := s.store.CreateBatch(ctx, store.Batch{
		ID:           batchID,
		Filename:     filename,
		UploaderID:   uploaderID,
		StoredFileID: fileID,
	}); err != nil {
		return "", fmt.Errorf("failed to register batch: %w", err)
	}

	err := s.pool.Submit(func() {
		// Detached from the request context: a started job runs to
		// completion even if the uploader disconnects.
		s.processBatch(context.Background(), batchID, fileID, filename, typ)
	})
	if err != nil {
		// The batch will never run; fail it now rather than leaving a
		// phantom processing record for the next restart to find.
		s.setStatus(ctx, batchID, store.StatusFailedInterrupted)
		return "", fmt.Errorf("failed to enqueue batch %s: %w", batchID, err)
	}

	s.logger.Info("queued public ingestion", "batch_id", batchID, "filename", filename, "uploader_id", uploaderID)
	return batchID, nil
}

// processBatch runs the public pipeline for one batch and records the
// terminal status.
func (s *Service) processBatch(ctx context.Context, batchID, fileID, filename string, typ document.Type) {
	file, err := s.store.GetStoredFile(ctx, fileID)
	if err != nil {
		s.logger.Error("failed to load stored upload", "batch_id", batchID, "error", err)
		s.setStatus(ctx, batchID, store.StatusFailedStorage)
		return
	}

	raws, err := s.loader.LoadBytes(ctx, file.Content, filename, typ)
	if err != nil {
		s.logger.Error("failed to parse document", "batch_id", batchID, "error", err)
		s.setStatus(ctx, batchID, store.StatusFailedProcessing)
		return
	}

	chunks := s.splitter.Split(raws, filename)
	if len(chunks) == 0 {
		s.logger.Warn("document produced no chunks", "batch_id", batchID, "filename", filename)
		s.setStatus(ctx, batchID, store.StatusFailedNoChunks)
		return
	}

	if err := s.indexChunks(ctx, chunks, batchID, "", scope.Public(), filename); err != nil {
		switch {
		case errors.Is(err, errIndexStorage):
			s.setStatus(ctx, batchID, store.StatusFailedStorage)
		default:
			s.setStatus(ctx, batchID, store.StatusFailedProcessing)
		}
		s.logger.Error("public ingestion failed", "batch_id", batchID, "error", err)
		return
	}

	s.setStatus(ctx, batchID, store.StatusCompleted)
	s.logger.Info("public ingestion completed", "batch_id", batchID, "chunks", len(chunks))
}

// errIndexStorage marks indexChunks failures in the persistence phase, as
// opposed to embedding failures. Internal to status categorization.
var errIndexStorage = errors.New("storage phase failed")

// indexChunks runs the shared embed-and-store tail of the pipeline. The
// relational rows go in first as pending, then the vectors, then the
// commit mark; the reconciliation sweep repairs a crash between steps.
func (s *Service) indexChunks(ctx context.Context, chunks []splitter.Chunk, batchID, sessionID string, sc scope.Scope, source string) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	ids := make([]string, len(chunks))
	rows := make([]store.ChunkRow, len(chunks))
	metadatas := make([]map[string]string, len(chunks))
	for i, c := range chunks {
		ids[i] = uuid.NewString()
		metadata := flattenMetadata(c.Metadata)
		for k, v := range sc.Tag() {
			metadata[k] = v
		}
		metadatas[i] = metadata
		rows[i] = store.ChunkRow{
			ID:        ids[i],
			BatchID:   batchID,
			SessionID: sessionID,
			Source:    source,
			Index:     i,
			Content:   c.Text,
			Metadata:  metadata,
		}
	}

	if err := s.store.AddChunks(ctx, rows); err != nil {
		return fmt.Errorf("%w: %v", errIndexStorage, err)
	}
	if err := s.index.Upsert(ctx, ids, texts, vectors, metadatas); err != nil {
		return fmt.Errorf("%w: %v", errIndexStorage, err)
	}
	if err := s.store.MarkChunksCommitted(ctx, ids); err != nil {
		return fmt.Errorf("%w: %v", errIndexStorage, err)
	}
	return nil
}

// setStatus records a terminal batch status. A failed update is logged
// and the batch stays in processing, where the startup requeue pass will
// find it.
func (s *Service) setStatus(ctx context.Context, batchID, status string) {
	if err := s.store.UpdateBatchStatus(ctx, batchID, status); err != nil {
		s.logger.Error("failed to update batch status; batch left in processing",
			"batch_id", batchID, "status", status, "error", err)
	}
}

// IngestSession runs the pipeline synchronously for a session upload,
// then generates and saves an acknowledgment. Ack generation and message
// persistence are best-effort; a completed ingestion is never rolled
// back for them.
func (s *Service) IngestSession(ctx context.Context, data []byte, filename string, typ document.Type, sessionID, uploaderID string) (SessionResult, error) {
	fileID := uuid.NewString()
	if err := s.store.CreateStoredFile(ctx, store.StoredFile{
		ID:         fileID,
		Filename:   filename,
		FileType:   string(typ),
		Content:    data,
		UploaderID: uploaderID,
		SessionID:  sessionID,
	}); err != nil {
		return SessionResult{}, fmt.Errorf("failed to persist upload: %w", err)
	}

	raws, err := s.loader.LoadBytes(ctx, data, filename, typ)
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to parse document: %w", err)
	}

	chunks := s.splitter.Split(raws, filename)
	if len(chunks) == 0 {
		return SessionResult{}, fmt.Errorf("%w: %s", ErrNoChunks, filename)
	}

	if err := s.indexChunks(ctx, chunks, "", sessionID, scope.Session(sessionID), filename); err != nil {
		return SessionResult{}, fmt.Errorf("session ingestion failed: %w", err)
	}

	ack := s.acknowledge(ctx, filename, len(chunks))
	if err := s.store.SaveMessage(ctx, sessionID, "assistant", ack); err != nil {
		s.logger.Warn("failed to save acknowledgment message", "session_id", sessionID, "error", err)
	}

	s.logger.Info("session ingestion completed", "session_id", sessionID, "filename", filename, "chunks", len(chunks))
	return SessionResult{StoredFileID: fileID, ChunkCount: len(chunks), AckText: ack}, nil
}

// acknowledge asks the model for a short confirmation, falling back to a
// fixed text when generation fails.
func (s *Service) acknowledge(ctx context.Context, filename string, chunkCount int) string {
	prompt := fmt.Sprintf(
		"The user uploaded a file named %q which was split into %d searchable sections. "+
			"Reply with one short, friendly sentence confirming you received it and can answer questions about it.",
		filename, chunkCount)

	ack, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("acknowledgment generation failed, using fallback", "filename", filename, "error", err)
		return fmt.Sprintf("I received %s and indexed it. You can ask me about its contents.", filename)
	}
	return ack
}

// Query embeds the question and returns the nearest chunks inside the
// given scope. Retrieval is advisory context for answer generation, so
// every failure degrades to an empty result rather than an error.
func (s *Service) Query(ctx context.Context, text string, sc scope.Scope, k int) ([]Retrieved, error) {
	if k <= 0 {
		k = s.topK
	}

	vector, err := s.embedder.EmbedOne(ctx, text)
	if err != nil {
		s.logger.Warn("query embedding failed", "scope", sc.String(), "error", err)
		return nil, nil
	}

	matches, err := s.index.Query(ctx, vector, k, sc.Filter())
	if err != nil {
		s.logger.Warn("vector search failed", "scope", sc.String(), "error", err)
		return nil, nil
	}

	results := make([]Retrieved, 0, len(matches))
	for _, m := range matches {
		metadata := m.Metadata
		if metadata == nil {
			metadata = make(map[string]string)
		}
		metadata["retrieval_score"] = strconv.FormatFloat(m.Distance, 'f', 6, 64)
		results = append(results, Retrieved{
			Content:  m.Content,
			Source:   metadata["source"],
			Score:    m.Distance,
			Metadata: metadata,
		})
	}
	return results, nil
}

// FormatContext renders retrieval results as a context block for prompt
// assembly. Empty results produce an empty string.
func FormatContext(results []Retrieved) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		source := r.Source
		if source == "" {
			source = "unknown"
		}
		fmt.Fprintf(&b, "[source: %s | score: %.4f]\n%s", source, r.Score, r.Content)
	}
	return b.String()
}

// DeleteBatch removes a batch from both stores: vector records first
// (best-effort), then the relational rows and the stored file. Returns
// the number of chunk ids submitted for deletion.
func (s *Service) DeleteBatch(ctx context.Context, batchID string) (int, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}

	ids, err := s.store.ChunkIDsByBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to collect chunks for batch %s: %w", batchID, err)
	}

	if _, err := s.index.Delete(ctx, ids); err != nil {
		// Orphaned vectors are cleaned up by the reconciliation sweep.
		s.logger.Error("failed to delete vector records", "batch_id", batchID, "error", err)
	}

	if err := s.store.DeleteBatch(ctx, batchID); err != nil {
		return 0, err
	}
	if batch.StoredFileID != "" {
		if err := s.store.DeleteStoredFile(ctx, batch.StoredFileID); err != nil {
			s.logger.Warn("failed to delete stored file", "batch_id", batchID, "error", err)
		}
	}

	s.logger.Info("deleted batch", "batch_id", batchID, "chunks", len(ids))
	return len(ids), nil
}

// DeleteScope removes everything a session owns: chunks in both stores,
// uploaded files and the chat transcript. Returns the number of chunk
// ids submitted for deletion.
func (s *Service) DeleteScope(ctx context.Context, sessionID string) (int, error) {
	ids, err := s.store.ChunkIDsBySession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to collect chunks for session %s: %w", sessionID, err)
	}

	if _, err := s.index.Delete(ctx, ids); err != nil {
		s.logger.Error("failed to delete vector records", "session_id", sessionID, "error", err)
	}

	if err := s.store.DeleteChunksByIDs(ctx, ids); err != nil {
		return 0, err
	}
	if err := s.store.DeleteStoredFilesBySession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete session files", "session_id", sessionID, "error", err)
	}
	if err := s.store.DeleteMessagesBySession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete session messages", "session_id", sessionID, "error", err)
	}

	s.logger.Info("deleted session scope", "session_id", sessionID, "chunks", len(ids))
	return len(ids), nil
}

// Reconcile repairs drift between the two stores in both directions:
// vector records without a chunk row are deleted, and pending chunk rows
// older than the cutoff are committed or re-indexed.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	chunkIDs, err := s.store.ChunkIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list chunk rows: %w", err)
	}
	known := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		known[id] = struct{}{}
	}

	vectorIDs, err := s.index.IDs(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("failed to list vector records: %w", err)
	}
	indexed := make(map[string]struct{}, len(vectorIDs))
	var orphans []string
	for _, id := range vectorIDs {
		indexed[id] = struct{}{}
		if _, ok := known[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		// The row listing predates the vector listing, so an ingestion
		// landing between the two reads shows up here as a false orphan
		// (rows go in before vectors). Re-check against a fresh row
		// snapshot before deleting anything.
		orphans, err = s.confirmOrphans(ctx, orphans)
		if err != nil {
			return report, err
		}
	}
	if len(orphans) > 0 {
		if _, err := s.index.Delete(ctx, orphans); err != nil {
			return report, fmt.Errorf("failed to delete orphaned vectors: %w", err)
		}
		report.OrphanVectorsDeleted = len(orphans)
	}

	pending, err := s.store.PendingChunks(ctx, time.Now().Add(-s.pendingAge))
	if err != nil {
		return report, fmt.Errorf("failed to list pending chunks: %w", err)
	}

	var toCommit []string
	for _, c := range pending {
		if _, ok := indexed[c.ID]; ok {
			toCommit = append(toCommit, c.ID)
			continue
		}
		if err := s.reindexChunk(ctx, c); err != nil {
			s.logger.Warn("failed to re-index pending chunk", "chunk_id", c.ID, "error", err)
			report.PendingFailed++
			continue
		}
		toCommit = append(toCommit, c.ID)
		report.PendingReindexed++
	}
	report.PendingCommitted = len(toCommit) - report.PendingReindexed

	if len(toCommit) > 0 {
		if err := s.store.MarkChunksCommitted(ctx, toCommit); err != nil {
			return report, fmt.Errorf("failed to commit repaired chunks: %w", err)
		}
	}

	if report.OrphanVectorsDeleted > 0 || len(pending) > 0 {
		s.logger.Info("reconciliation sweep finished",
			"orphan_vectors_deleted", report.OrphanVectorsDeleted,
			"pending_committed", report.PendingCommitted,
			"pending_reindexed", report.PendingReindexed,
			"pending_failed", report.PendingFailed)
	}
	return report, nil
}

// confirmOrphans drops candidates that gained a chunk row since the
// sweep's first listing.
func (s *Service) confirmOrphans(ctx context.Context, candidates []string) ([]string, error) {
	chunkIDs, err := s.store.ChunkIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to re-check chunk rows: %w", err)
	}
	known := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		known[id] = struct{}{}
	}

	confirmed := candidates[:0]
	for _, id := range candidates {
		if _, ok := known[id]; !ok {
			confirmed = append(confirmed, id)
		}
	}
	return confirmed, nil
}

// reindexChunk rebuilds the vector record for a chunk row that lost it.
func (s *Service) reindexChunk(ctx context.Context, c store.ChunkRow) error {
	sc, err := scope.ForChunkLink(c.BatchID, c.SessionID)
	if err != nil {
		return err
	}

	vector, err := s.embedder.EmbedOne(ctx, c.Content)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}

	metadata := make(map[string]string, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		metadata[k] = v
	}
	for k, v := range sc.Tag() {
		metadata[k] = v
	}
	return s.index.Upsert(ctx, []string{c.ID}, []string{c.Content}, [][]float32{vector}, []map[string]string{metadata})
}

// RequeueStuck marks batches stuck in processing before the cutoff as
// interrupted. Run at startup, before the pool accepts new work.
func (s *Service) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.store.BatchIDsByStatusOlderThan(ctx, store.StatusProcessing, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck batches: %w", err)
	}

	marked := 0
	for _, id := range ids {
		if err := s.store.UpdateBatchStatus(ctx, id, store.StatusFailedInterrupted); err != nil {
			s.logger.Error("failed to mark stuck batch", "batch_id", id, "error", err)
			continue
		}
		marked++
	}
	if marked > 0 {
		s.logger.Warn("marked interrupted batches", "count", marked)
	}
	return marked, nil
}

// BatchStatus returns one batch for status polling.
func (s *Service) BatchStatus(ctx context.Context, batchID string) (store.Batch, error) {
	return s.store.GetBatch(ctx, batchID)
}

// ListBatches returns all knowledge batches, newest first.
func (s *Service) ListBatches(ctx context.Context) ([]store.Batch, error) {
	return s.store.ListBatches(ctx)
}

// flattenMetadata stringifies splitter metadata for the vector store,
// which filters on flat string pairs.
func flattenMetadata(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			// dropped
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
