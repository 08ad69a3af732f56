package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		require.NoError(t, json.NewEncoder(w).Encode(generateResponse{Response: "  I received your file.  "}))
	}))
	t.Cleanup(srv.Close)

	client := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "test-model"})
	text, err := client.Generate(context.Background(), "say hi")

	require.NoError(t, err)
	assert.Equal(t, "I received your file.", text, "response is trimmed")
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "say hi", gotReq.Prompt)
	assert.False(t, gotReq.Stream, "non-streaming mode")
}

func TestGenerate_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewOllama(OllamaConfig{BaseURL: srv.URL})
	_, err := client.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestGenerate_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(generateResponse{Response: "   "}))
	}))
	t.Cleanup(srv.Close)

	client := NewOllama(OllamaConfig{BaseURL: srv.URL})
	_, err := client.Generate(context.Background(), "hi")
	assert.Error(t, err)
}

func TestGenerate_Unreachable(t *testing.T) {
	client := NewOllama(OllamaConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Generate(context.Background(), "hi")
	assert.Error(t, err)
}
