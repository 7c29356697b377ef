// Package bolt is the embedded vector store: chunks and embeddings live in a
// bbolt file and search is a brute-force cosine scan.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.etcd.io/bbolt"

	"github.com/Autopsias/raglite/internal/core/domain"
)

var bucketDocuments = []byte("documents")

type record struct {
	Chunk     domain.Chunk `json:"chunk"`
	Embedding []float32    `json:"embedding"`
}

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "open bolt store", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDocuments)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceDocumentChunks drops the document's bucket and writes the new chunk
// set in the same transaction.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if strings.TrimSpace(documentID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "replace document chunks", errors.New("document id is required"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		key := []byte(documentID)
		if docs.Bucket(key) != nil {
			if err := docs.DeleteBucket(key); err != nil {
				return fmt.Errorf("delete document bucket: %w", err)
			}
		}
		if len(chunks) == 0 {
			return nil
		}
		b, err := docs.CreateBucket(key)
		if err != nil {
			return fmt.Errorf("create document bucket: %w", err)
		}
		for _, ch := range chunks {
			if len(ch.Embedding) == 0 {
				return domain.WrapError(domain.ErrInvalidInput, "replace document chunks", fmt.Errorf("chunk %s is not embedded", ch.ID))
			}
			ch.DocumentID = documentID
			data, err := json.Marshal(record{Chunk: ch, Embedding: ch.Embedding})
			if err != nil {
				return fmt.Errorf("marshal chunk: %w", err)
			}
			if err := b.Put([]byte(ch.ID), data); err != nil {
				return fmt.Errorf("put chunk: %w", err)
			}
		}
		return nil
	})
}

// Search returns the k chunks with the highest cosine similarity.
func (s *Store) Search(ctx context.Context, queryVector []float32, k int, filter domain.ChunkFilter) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	queryNorm := norm(queryVector)
	out := make([]domain.ScoredChunk, 0, k)

	err := s.db.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		return docs.ForEach(func(docID, v []byte) error {
			if v != nil {
				return nil
			}
			if filter.DocumentID != "" && string(docID) != filter.DocumentID {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return docs.Bucket(docID).ForEach(func(_, data []byte) error {
				var rec record
				if err := json.Unmarshal(data, &rec); err != nil {
					return fmt.Errorf("unmarshal chunk: %w", err)
				}
				if !matches(rec.Chunk, filter) {
					return nil
				}
				out = append(out, domain.ScoredChunk{
					Chunk: rec.Chunk,
					Score: cosine(queryVector, queryNorm, rec.Embedding),
				})
				return nil
			})
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "bolt search", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func matches(ch domain.Chunk, filter domain.ChunkFilter) bool {
	if filter.PageFrom > 0 && ch.PageEnd < filter.PageFrom {
		return false
	}
	if filter.PageTo > 0 && ch.PageStart > filter.PageTo {
		return false
	}
	if len(filter.Types) > 0 && !lo.Contains(filter.Types, ch.Type) {
		return false
	}
	return true
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(q []float32, qNorm float64, v []float32) float64 {
	if len(q) != len(v) || qNorm == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	vNorm := norm(v)
	if vNorm == 0 {
		return 0
	}
	return dot / (qNorm * vNorm)
}
