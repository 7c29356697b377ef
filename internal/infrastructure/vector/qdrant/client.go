package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

var pointNamespace = uuid.MustParse("c4e1b0a7-2f3d-4e59-8b6c-0d7a9f1e3b24")

// Client stores chunks in one qdrant collection with a named dense vector for
// similarity search and a named sparse vector for keyword search.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Option func(*Client)

// WithResilience routes every request through executor. Without it each
// request is attempted once.
func WithResilience(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func New(baseURL, collection string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type point struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// ReplaceDocumentChunks upserts the new chunk set and then deletes the
// document's points that are not part of it.
func (c *Client) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if strings.TrimSpace(documentID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "replace document chunks", errors.New("document id is required"))
	}
	if len(chunks) == 0 {
		err := c.deleteDocumentPoints(ctx, documentID, nil)
		// Nothing to delete before the first upload creates the collection.
		if err != nil && !isNotFound(err) {
			return err
		}
		return nil
	}
	if len(chunks[0].Embedding) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "replace document chunks", errors.New("chunks must be embedded"))
	}
	if err := c.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}

	points := make([]point, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		id := pointID(ch.ID)
		ids = append(ids, id)
		points = append(points, point{
			ID: id,
			Vector: map[string]any{
				denseVectorName:  ch.Embedding,
				sparseVectorName: encodeSparseDocument(ch.Text, ch.Header),
			},
			Payload: map[string]any{
				"chunk_id":    ch.ID,
				"document_id": documentID,
				"text":        ch.Text,
				"token_count": ch.TokenCount,
				"page_start":  ch.PageStart,
				"page_end":    ch.PageEnd,
				"table_id":    ch.SourceTableID,
				"chunk_type":  string(ch.Type),
				"header":      ch.Header,
			},
		})
	}

	// The new version goes in before the old one is removed so searches never
	// see the document without chunks.
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPut, url, map[string]any{"points": points}, nil, "qdrant upsert"); err != nil {
		return err
	}
	return c.deleteDocumentPoints(ctx, documentID, ids)
}

// deleteDocumentPoints removes the points of a document except those in keep.
func (c *Client) deleteDocumentPoints(ctx context.Context, documentID string, keep []string) error {
	filter := buildFilter(domain.ChunkFilter{DocumentID: documentID})
	if len(keep) > 0 {
		filter["must_not"] = []map[string]any{{"has_id": keep}}
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPost, url, map[string]any{"filter": filter}, nil, "qdrant delete")
}

// Search is the dense nearest-neighbour primitive. Scores are qdrant cosine
// similarities.
func (c *Client) Search(ctx context.Context, queryVector []float32, k int, filter domain.ChunkFilter) ([]domain.ScoredChunk, error) {
	return c.search(ctx, map[string]any{"name": denseVectorName, "vector": queryVector}, k, filter, "qdrant search")
}

// SearchLexical scores chunks by the hashed BM25 sparse vector.
func (c *Client) SearchLexical(ctx context.Context, queryText string, k int, filter domain.ChunkFilter) ([]domain.ScoredChunk, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return []domain.ScoredChunk{}, nil
	}
	return c.search(ctx, map[string]any{"name": sparseVectorName, "vector": sparse}, k, filter, "qdrant lexical search")
}

func (c *Client) search(ctx context.Context, vector map[string]any, k int, filter domain.ChunkFilter, op string) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		reqBody["filter"] = f
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &searchResp, op); err != nil {
		// The collection appears with the first ingested document.
		if isNotFound(err) {
			return []domain.ScoredChunk{}, nil
		}
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.ScoredChunk{
			Chunk: domain.Chunk{
				ID:            getStringPayload(r.Payload, "chunk_id"),
				DocumentID:    getStringPayload(r.Payload, "document_id"),
				Text:          getStringPayload(r.Payload, "text"),
				TokenCount:    getIntPayload(r.Payload, "token_count"),
				PageStart:     getIntPayload(r.Payload, "page_start"),
				PageEnd:       getIntPayload(r.Payload, "page_end"),
				SourceTableID: getStringPayload(r.Payload, "table_id"),
				Type:          domain.ChunkType(getStringPayload(r.Payload, "chunk_type")),
				Header:        getStringPayload(r.Payload, "header"),
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func buildFilter(filter domain.ChunkFilter) map[string]any {
	must := make([]map[string]any, 0, 4)
	if filter.DocumentID != "" {
		must = append(must, map[string]any{"key": "document_id", "match": map[string]any{"value": filter.DocumentID}})
	}
	// A chunk matches a page range when its own range overlaps it.
	if filter.PageFrom > 0 {
		must = append(must, map[string]any{"key": "page_end", "range": map[string]any{"gte": filter.PageFrom}})
	}
	if filter.PageTo > 0 {
		must = append(must, map[string]any{"key": "page_start", "range": map[string]any{"lte": filter.PageTo}})
	}
	if len(filter.Types) > 0 {
		types := lo.Map(filter.Types, func(t domain.ChunkType, _ int) string { return string(t) })
		must = append(must, map[string]any{"key": "chunk_type", "match": map[string]any{"any": types}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{"size": vectorSize, "distance": "Cosine"},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.do(ctx, http.MethodPut, url, reqBody, nil, "qdrant ensure collection")
	// 409 means another writer created it first.
	var statusErr *resilience.HTTPStatusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict) {
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) do(ctx context.Context, method, url string, reqBody any, out any, op string) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", op, err)
	}
	err = c.executor.Execute(ctx, op, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, url, body, out, op)
	}, classifyQdrantError)
	if err == nil || domain.IsKind(err, domain.ErrStoreUnavailable) {
		return err
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrStoreUnavailable, op, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, url string, body []byte, out any, op string) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.WrapError(domain.ErrStoreUnavailable, op+" request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return domain.WrapError(domain.ErrStoreUnavailable, op, &resilience.HTTPStatusError{
		Service:    "qdrant",
		Operation:  op,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	})
}

// classifyQdrantError does not count 4xx answers against the breaker.
func classifyQdrantError(err error) resilience.ErrorClassification {
	return resilience.ClassifyTransport(err, nil)
}

func isNotFound(err error) bool {
	var statusErr *resilience.HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// pointID keeps uuid chunk ids and derives a stable uuid for any other id.
func pointID(chunkID string) string {
	if _, err := uuid.Parse(chunkID); err == nil {
		return chunkID
	}
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
