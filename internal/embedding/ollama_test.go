package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Ollama) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "test-model"})
	return srv, client
}

func TestEmbedMany_OrderPreserved(t *testing.T) {
	var gotReq embedRequest
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		resp := embedResponse{Embeddings: [][]float32{{0.1}, {0.2}, {0.3}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	vectors, err := client.EmbedMany(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []string{"a", "b", "c"}, gotReq.Input)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, []float32{0.1}, vectors[0])
	assert.Equal(t, []float32{0.3}, vectors[2])
}

func TestEmbedMany_CountMismatchAborts(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		resp := embedResponse{Embeddings: [][]float32{{0.1}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	vectors, err := client.EmbedMany(context.Background(), []string{"a", "b"})

	assert.ErrorIs(t, err, ErrCountMismatch)
	assert.Nil(t, vectors, "no partial result on mismatch")
}

func TestEmbedMany_EmptyVectorRejected(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		resp := embedResponse{Embeddings: [][]float32{{0.1}, {}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := client.EmbedMany(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestEmbedMany_BackendErrorPropagates(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	_, err := client.EmbedMany(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestEmbedMany_EmptyInput(t *testing.T) {
	client := NewOllama(OllamaConfig{BaseURL: "http://127.0.0.1:1", Model: "m"})

	vectors, err := client.EmbedMany(context.Background(), nil)

	require.NoError(t, err, "empty input must not hit the network")
	assert.Nil(t, vectors)
}

func TestEmbedOne(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		resp := embedResponse{Embeddings: [][]float32{{0.5, 0.6}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	vec, err := client.EmbedOne(context.Background(), "query")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.6}, vec)
}

func TestPing(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	assert.NoError(t, client.Ping(context.Background()))
}

func TestPing_Unreachable(t *testing.T) {
	client := NewOllama(OllamaConfig{BaseURL: "http://127.0.0.1:1", Model: "m"})
	assert.Error(t, client.Ping(context.Background()))
}
