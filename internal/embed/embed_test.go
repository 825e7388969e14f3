package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/sentinel/internal/cache"
)

func TestOllamaEmbedder_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("Expected path /api/embeddings, got %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Prompt != "hello" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0.5, -0.25}})
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(Config{BaseURL: server.URL, Model: "nomic-embed-text"})
	if err != nil {
		t.Fatal(err)
	}
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if diff := cmp.Diff([]float32{0.5, -0.25}, vec); diff != "" {
		t.Errorf("vector mismatch (-want +got):\n%s", diff)
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer server.Close()

	e, _ := NewOllamaEmbedder(Config{BaseURL: server.URL, Model: "m"})
	if _, err := e.Embed(context.Background(), "x"); !errors.Is(err, ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
}

func TestOllamaEmbedder_RequiresModel(t *testing.T) {
	if _, err := NewOllamaEmbedder(Config{}); err == nil {
		t.Error("expected error without model")
	}
}

func TestOpenAIEmbedder_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("Expected path /embeddings, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if e.Model() != "text-embedding-3-small" {
		t.Errorf("unexpected default model %s", e.Model())
	}
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3 dims, got %d", len(vec))
	}
}

func TestOpenAIEmbedder_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(Config{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestNewEmbedder_Unknown(t *testing.T) {
	if _, err := NewEmbedder(Config{Provider: "word2vec"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Model() string { return "fake" }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, cache.NewMemoryCache(time.Minute, time.Minute), 0)
	ctx := context.Background()

	first, err := e.Embed(ctx, "abc")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Embed(ctx, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached vector differs:\n%s", diff)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls.Load())
	}

	_, _ = e.Embed(ctx, "other")
	if inner.calls.Load() != 2 {
		t.Errorf("expected miss for new text, got %d calls", inner.calls.Load())
	}
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{err: ErrEmbedding}
	e := NewCachedEmbedder(inner, cache.NewMemoryCache(time.Minute, time.Minute), 0)

	for i := 0; i < 2; i++ {
		if _, err := e.Embed(context.Background(), "x"); !errors.Is(err, ErrEmbedding) {
			t.Fatalf("expected ErrEmbedding, got %v", err)
		}
	}
	if inner.calls.Load() != 2 {
		t.Errorf("expected errors to bypass the cache, got %d calls", inner.calls.Load())
	}
}
