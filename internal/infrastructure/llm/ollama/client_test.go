package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/infrastructure/resilience"
)

func TestGeneratorBuildsEvidencePrompt(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		capturedPrompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":" ok "}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "gen", "embed"))
	answer, err := gen.GenerateAnswer(context.Background(), "question?", []domain.EvidenceItem{{
		Source:      domain.SourceChunk,
		Chunk:       &domain.Chunk{ID: "c1", Text: "chunk text"},
		Attribution: domain.Attribution{Page: 3, ChunkID: "c1"},
	}})
	if err != nil {
		t.Fatalf("GenerateAnswer() error = %v", err)
	}
	if answer != "ok" {
		t.Fatalf("expected trimmed answer, got %q", answer)
	}
	if !strings.Contains(capturedPrompt, "question?") || !strings.Contains(capturedPrompt, "[1] page=3, chunk=c1") {
		t.Fatalf("unexpected prompt: %s", capturedPrompt)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewEmbedder(New(server.URL, "gen", "embed")).Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 502 to be temporary, got %v", err)
	}
}

func TestEmbedRetriesRetryableStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	vectors, err := NewEmbedder(New(server.URL, "gen", "embed", WithResilience(executor))).Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 vectors after one retry, got %d vectors and %d calls", len(vectors), calls)
	}
}

func TestEmbedDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown model", http.StatusBadRequest)
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	_, err := NewEmbedder(New(server.URL, "gen", "embed", WithResilience(executor))).Embed(context.Background(), []string{"a"})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestEmbedRejectsVectorCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer server.Close()

	if _, err := NewEmbedder(New(server.URL, "gen", "embed")).Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
