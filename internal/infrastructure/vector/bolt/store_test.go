package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Autopsias/raglite/internal/core/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "vectors.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *Store) {
	t.Helper()
	err := store.ReplaceDocumentChunks(context.Background(), "doc-1", []domain.Chunk{
		{ID: "narr", Text: "intro", PageStart: 1, PageEnd: 2, Type: domain.ChunkNarrative, Embedding: []float32{1, 0}},
		{ID: "table", Text: "| a |", PageStart: 4, PageEnd: 4, Type: domain.ChunkTableWhole, SourceTableID: "t1", Embedding: []float32{0.8, 0.6}},
		{ID: "frag", Text: "| b |", PageStart: 5, PageEnd: 5, Type: domain.ChunkTableFragment, SourceTableID: "t2", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("ReplaceDocumentChunks() error = %v", err)
	}
}

func TestSearchRanksByCosine(t *testing.T) {
	store := openStore(t)
	seed(t, store)

	hits, err := store.Search(context.Background(), []float32{1, 0}, 2, domain.ChunkFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.ID != "narr" || hits[1].Chunk.ID != "table" {
		t.Fatalf("unexpected order: %s, %s", hits[0].Chunk.ID, hits[1].Chunk.ID)
	}
	if hits[0].Score != 1 || hits[1].Score < 0.79 || hits[1].Score > 0.81 {
		t.Fatalf("unexpected scores: %f, %f", hits[0].Score, hits[1].Score)
	}
	if hits[0].Chunk.DocumentID != "doc-1" {
		t.Fatalf("expected document id to be stored, got %q", hits[0].Chunk.DocumentID)
	}
}

func TestSearchAppliesPageAndTypeFilters(t *testing.T) {
	store := openStore(t)
	seed(t, store)

	hits, err := store.Search(context.Background(), []float32{1, 0}, 5, domain.ChunkFilter{
		PageFrom: 3, PageTo: 5, Types: []domain.ChunkType{domain.ChunkTableFragment},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "frag" {
		t.Fatalf("expected only the fragment, got %+v", hits)
	}
}

func TestReplaceDocumentChunksDropsPreviousVersion(t *testing.T) {
	store := openStore(t)
	seed(t, store)

	err := store.ReplaceDocumentChunks(context.Background(), "doc-1", []domain.Chunk{
		{ID: "narr-v2", Text: "intro v2", PageStart: 1, PageEnd: 1, Type: domain.ChunkNarrative, Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("ReplaceDocumentChunks() error = %v", err)
	}
	hits, err := store.Search(context.Background(), []float32{1, 0}, 10, domain.ChunkFilter{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "narr-v2" {
		t.Fatalf("expected only the new chunk set, got %+v", hits)
	}
}

func TestReplaceDocumentChunksRejectsUnembedded(t *testing.T) {
	store := openStore(t)
	err := store.ReplaceDocumentChunks(context.Background(), "doc-1", []domain.Chunk{{ID: "c1", Text: "x"}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSearchOnEmptyStore(t *testing.T) {
	store := openStore(t)
	hits, err := store.Search(context.Background(), []float32{1, 0}, 3, domain.ChunkFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}
