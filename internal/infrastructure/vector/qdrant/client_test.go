package qdrant

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

func embeddedChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "0b6f1c0e-4a53-5d8e-9f0a-1c2d3e4f5a6b", DocumentID: "doc-1", Text: "a", PageStart: 1, PageEnd: 1, Type: domain.ChunkNarrative, Embedding: []float32{0.1, 0.2}},
		{ID: "table-chunk", DocumentID: "doc-1", Text: "| a | b |", PageStart: 4, PageEnd: 4, Type: domain.ChunkTableWhole, SourceTableID: "t1", Header: "Variable cost", Embedding: []float32{0.3, 0.4}},
	}
}

func TestReplaceDocumentChunksEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls, deleteCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/delete":
			atomic.AddInt32(&deleteCalls, 1)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	for i := 0; i < 2; i++ {
		if err := client.ReplaceDocumentChunks(context.Background(), "doc-1", embeddedChunks()); err != nil {
			t.Fatalf("ReplaceDocumentChunks() #%d error = %v", i+1, err)
		}
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if got := atomic.LoadInt32(&deleteCalls); got != 2 {
		t.Fatalf("expected previous points deleted on every replace, got %d", got)
	}
}

func TestReplaceDocumentChunksSendsPayloadAndNamedVectors(t *testing.T) {
	var upsert struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  map[string]any `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points" {
			if err := json.NewDecoder(r.Body).Decode(&upsert); err != nil {
				t.Errorf("decode upsert: %v", err)
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	if err := New(server.URL, "docs").ReplaceDocumentChunks(context.Background(), "doc-1", embeddedChunks()); err != nil {
		t.Fatalf("ReplaceDocumentChunks() error = %v", err)
	}
	if len(upsert.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(upsert.Points))
	}
	first, second := upsert.Points[0], upsert.Points[1]
	if first.ID != "0b6f1c0e-4a53-5d8e-9f0a-1c2d3e4f5a6b" {
		t.Fatalf("expected uuid chunk id to be kept, got %s", first.ID)
	}
	if second.ID == "table-chunk" || second.ID != pointID("table-chunk") {
		t.Fatalf("expected derived uuid point id, got %s", second.ID)
	}
	if _, ok := second.Vector[denseVectorName]; !ok {
		t.Fatalf("expected dense vector, got %v", second.Vector)
	}
	if _, ok := second.Vector[sparseVectorName]; !ok {
		t.Fatalf("expected sparse vector, got %v", second.Vector)
	}
	if second.Payload["chunk_id"] != "table-chunk" || second.Payload["table_id"] != "t1" || second.Payload["chunk_type"] != "table_whole" {
		t.Fatalf("unexpected payload: %v", second.Payload)
	}
}

func TestReplaceDocumentChunksUpsertsBeforeDeletingStalePoints(t *testing.T) {
	var calls []string
	var deleteReq struct {
		Filter struct {
			Must    []map[string]any `json:"must"`
			MustNot []struct {
				HasID []string `json:"has_id"`
			} `json:"must_not"`
		} `json:"filter"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			calls = append(calls, "upsert")
		case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/delete":
			calls = append(calls, "delete")
			if err := json.NewDecoder(r.Body).Decode(&deleteReq); err != nil {
				t.Errorf("decode delete: %v", err)
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	if err := New(server.URL, "docs").ReplaceDocumentChunks(context.Background(), "doc-1", embeddedChunks()); err != nil {
		t.Fatalf("ReplaceDocumentChunks() error = %v", err)
	}
	if strings.Join(calls, ",") != "upsert,delete" {
		t.Fatalf("expected upsert then delete, got %v", calls)
	}
	if len(deleteReq.Filter.Must) != 1 || deleteReq.Filter.Must[0]["key"] != "document_id" {
		t.Fatalf("expected delete scoped to the document, got %+v", deleteReq.Filter.Must)
	}
	if len(deleteReq.Filter.MustNot) != 1 {
		t.Fatalf("expected new points excluded from delete, got %+v", deleteReq.Filter.MustNot)
	}
	kept := deleteReq.Filter.MustNot[0].HasID
	if len(kept) != 2 || kept[0] != "0b6f1c0e-4a53-5d8e-9f0a-1c2d3e4f5a6b" || kept[1] != pointID("table-chunk") {
		t.Fatalf("unexpected kept ids: %v", kept)
	}
}

func TestReplaceDocumentChunksKeepsOldPointsWhenUpsertFails(t *testing.T) {
	var deletes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			http.Error(w, "bad vector", http.StatusBadRequest)
			return
		case r.URL.Path == "/collections/docs/points/delete":
			atomic.AddInt32(&deletes, 1)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	if err := New(server.URL, "docs").ReplaceDocumentChunks(context.Background(), "doc-1", embeddedChunks()); err == nil {
		t.Fatalf("expected upsert error")
	}
	if got := atomic.LoadInt32(&deletes); got != 0 {
		t.Fatalf("expected previous points untouched after a failed upsert, got %d deletes", got)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	err := New(server.URL, "docs").ReplaceDocumentChunks(context.Background(), "doc-1", embeddedChunks())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSearchMapsPayloadAndFilter(t *testing.T) {
	var request map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/search" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode search: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[{"score":0.82,"payload":{"chunk_id":"c1","document_id":"doc-1","text":"| a |","token_count":12,"page_start":4,"page_end":5,"table_id":"t1","chunk_type":"table_fragment","header":"Variable cost"}}]}`))
	}))
	defer server.Close()

	hits, err := New(server.URL, "docs").Search(context.Background(), []float32{0.1, 0.2}, 5, domain.ChunkFilter{
		PageFrom: 3, PageTo: 6, Types: []domain.ChunkType{domain.ChunkTableFragment},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	got := hits[0]
	if got.Score != 0.82 || got.Chunk.ID != "c1" || got.Chunk.PageEnd != 5 || got.Chunk.TokenCount != 12 || got.Chunk.Type != domain.ChunkTableFragment {
		t.Fatalf("unexpected hit: %+v", got)
	}

	filter, ok := request["filter"].(map[string]any)
	if !ok {
		t.Fatalf("expected filter in request, got %v", request)
	}
	if must, _ := filter["must"].([]any); len(must) != 3 {
		t.Fatalf("expected 3 filter conditions, got %v", filter["must"])
	}
	vector, _ := request["vector"].(map[string]any)
	if vector["name"] != denseVectorName {
		t.Fatalf("expected dense named vector, got %v", request["vector"])
	}
}

func TestSearchLexicalSkipsNoiseQuery(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	hits, err := New(server.URL, "docs").SearchLexical(context.Background(), "?!", 5, domain.ChunkFilter{})
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if len(hits) != 0 || atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no request and no hits, got %d hits and %d calls", len(hits), calls)
	}
}

func TestSearchTransportErrorIsStoreUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(url, "docs").Search(context.Background(), []float32{0.1}, 3, domain.ChunkFilter{})
	if !domain.IsKind(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSearchBeforeFirstIngestReturnsNoHits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Collection docs not found"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	hits, err := New(server.URL, "docs").Search(context.Background(), []float32{0.1}, 3, domain.ChunkFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestSearchRetriesUnavailableStore(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":[{"score":0.5,"payload":{"chunk_id":"c1"}}]}`))
	}))
	defer server.Close()

	cfg := resilience.QueryPathConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	client := New(server.URL, "docs", WithResilience(resilience.NewExecutor(cfg)))

	hits, err := client.Search(context.Background(), []float32{0.1}, 3, domain.ChunkFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry and one hit, got %d hits after %d calls", len(hits), calls)
	}
}

func TestSearchDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "wrong vector size", http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := resilience.QueryPathConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	client := New(server.URL, "docs", WithResilience(resilience.NewExecutor(cfg)))

	_, err := client.Search(context.Background(), []float32{0.1}, 3, domain.ChunkFilter{})
	if !domain.IsKind(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}
