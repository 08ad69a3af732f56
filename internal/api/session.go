package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/c2h5ohfu/AetherCell/internal/ingest"
	"github.com/c2h5ohfu/AetherCell/internal/scope"
)

// handleUploadSessionFile ingests a file into one conversation's private
// scope, synchronously, and returns the assistant acknowledgment.
func (s *Server) handleUploadSessionFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	data, filename, typ, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.ingestor.IngestSession(r.Context(), data, filename, typ, sessionID, uploaderID(r))
	if err != nil {
		if errors.Is(err, ingest.ErrNoChunks) {
			writeError(w, http.StatusUnprocessableEntity, "document contains no extractable text")
			return
		}
		s.logger.Error("session upload failed", "session_id", sessionID, "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stored_file_id": res.StoredFileID,
		"chunk_count":    res.ChunkCount,
		"ack":            res.AckText,
	})
}

// handleDeleteSession removes everything a session owns.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	deleted, err := s.ingestor.DeleteScope(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to delete session scope", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted_chunks": deleted})
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

type queryResult struct {
	Content  string            `json:"content"`
	Source   string            `json:"source"`
	Score    float64           `json:"retrieval_score"`
	Metadata map[string]string `json:"metadata"`
}

// handleQuery runs a scoped similarity search. An empty session_id
// queries the public knowledge base.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	sc := scope.Public()
	if req.SessionID != "" {
		sc = scope.Session(req.SessionID)
	}

	results, err := s.ingestor.Query(r.Context(), req.Query, sc, req.TopK)
	if err != nil {
		s.logger.Error("query failed", "scope", sc.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]queryResult, 0, len(results))
	for _, res := range results {
		out = append(out, queryResult{
			Content:  res.Content,
			Source:   res.Source,
			Score:    res.Score,
			Metadata: res.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": out,
		"context": ingest.FormatContext(results),
	})
}
