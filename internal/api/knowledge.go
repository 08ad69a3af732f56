package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/c2h5ohfu/AetherCell/internal/document"
	"github.com/c2h5ohfu/AetherCell/internal/ingest"
	"github.com/c2h5ohfu/AetherCell/internal/store"
)

type batchView struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	UploaderID string `json:"uploader_id"`
	Status     string `json:"status"`
	UploadedAt string `json:"uploaded_at"`
}

func toBatchView(b store.Batch) batchView {
	return batchView{
		ID:         b.ID,
		Filename:   b.Filename,
		UploaderID: b.UploaderID,
		Status:     b.Status,
		UploadedAt: b.UploadedAt.UTC().Format(time.RFC3339),
	}
}

// readUpload pulls the "file" part out of a multipart request and
// resolves its declared type from the filename extension.
func readUpload(r *http.Request) ([]byte, string, document.Type, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", "", errors.New("expected multipart form with a file field")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", "", errors.New("missing file field")
	}
	defer file.Close()

	typ, err := document.ParseType(filepath.Ext(header.Filename))
	if err != nil {
		return nil, "", "", err
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", "", errors.New("failed to read upload")
	}
	return data, header.Filename, typ, nil
}

// handleUploadKnowledge accepts a public knowledge upload and returns the
// batch id immediately; processing continues in the background.
func (s *Server) handleUploadKnowledge(w http.ResponseWriter, r *http.Request) {
	data, filename, typ, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batchID, err := s.ingestor.IngestPublic(r.Context(), data, filename, typ, uploaderID(r))
	if err != nil {
		if errors.Is(err, ingest.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "ingestion queue is full, retry later")
			return
		}
		s.logger.Error("public upload failed", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"batch_id": batchID,
		"status":   store.StatusProcessing,
	})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.ingestor.ListBatches(r.Context())
	if err != nil {
		s.logger.Error("failed to list batches", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}

	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, toBatchView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": views})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	batch, err := s.ingestor.BatchStatus(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.logger.Error("failed to get batch", "batch_id", batchID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}
	writeJSON(w, http.StatusOK, toBatchView(batch))
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	deleted, err := s.ingestor.DeleteBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.logger.Error("failed to delete batch", "batch_id", batchID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted_chunks": deleted})
}
