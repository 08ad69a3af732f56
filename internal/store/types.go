package store

import (
	"errors"
	"time"
)

// Batch status values. The "failed: ..." strings are surfaced verbatim to
// status polls, so they are part of the external contract.
const (
	StatusProcessing        = "processing"
	StatusCompleted         = "completed"
	StatusFailedNoChunks    = "failed: no chunks"
	StatusFailedStorage     = "failed: db error"
	StatusFailedProcessing  = "failed: processing error"
	StatusFailedInterrupted = "failed: interrupted"
)

// Chunk vector_state values for the two-phase write: rows are inserted as
// pending, then marked committed once their vector record is stored.
const (
	VectorStatePending   = "pending"
	VectorStateCommitted = "committed"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// StoredFile is the raw uploaded file, kept so batches can be re-processed
// and deletions can remove the original bytes.
type StoredFile struct {
	ID         string
	Filename   string
	FileType   string
	Content    []byte
	UploaderID string

	// SessionID is set for session uploads, empty for public knowledge.
	SessionID string

	UploadedAt time.Time
}

// Batch is one public-knowledge ingestion operation.
type Batch struct {
	ID           string
	Filename     string
	UploaderID   string
	Status       string
	StoredFileID string
	UploadedAt   time.Time
}

// ChunkRow is the relational side of one indexed chunk. Exactly one of
// BatchID and SessionID is set.
type ChunkRow struct {
	ID        string
	BatchID   string
	SessionID string
	Source    string
	Index     int
	Content   string
	Metadata  map[string]string
}
