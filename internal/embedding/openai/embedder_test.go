package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeEmbeddings(t *testing.T, w http.ResponseWriter, indexes []int) {
	t.Helper()
	data := make([]map[string]any, 0, len(indexes))
	for _, idx := range indexes {
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     idx,
			"embedding": []float32{float32(idx), 0.5},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  DefaultModel,
		"data":   data,
	}))
}

func TestEmbedBatchOrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"alpha", "beta", "gamma"}, req.Input)
		require.Equal(t, DefaultModel, req.Model)
		writeEmbeddings(t, w, []int{2, 0, 1})
	})

	e, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0, 0.5}, {1, 0.5}, {2, 0.5}}, vectors)
}

func TestEmbedBatchRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		writeEmbeddings(t, w, []int{0})
	})

	e, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1", MaxRetries: 2, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"only"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.EqualValues(t, 2, calls.Load())
}

func TestEmbedBatchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})

	e, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1", MaxRetries: 3, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	require.ErrorContains(t, err, "bad key")
	require.EqualValues(t, 1, calls.Load())
}

func TestEmbedBatchRejectsMissingVectors(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEmbeddings(t, w, []int{0})
	})
	e, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.ErrorContains(t, err, "missing vector for input 1")

	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}
