package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Autopsias/raglite/internal/config"
	"github.com/Autopsias/raglite/internal/core/domain"
)

type ingestErrFake struct {
	err error
}

func (f ingestErrFake) Upload(context.Context, string, string, io.Reader) (*domain.Document, error) {
	return nil, f.err
}

type retrieverFake struct {
	err     error
	lastReq domain.RetrievalRequest
}

func (f *retrieverFake) Retrieve(_ context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RetrievalResult{
		Route: domain.RouteStructured,
		Evidence: []domain.EvidenceItem{{
			ID:          "fact-1",
			Source:      domain.SourceFact,
			Attribution: domain.Attribution{Page: 46, TableID: "t1"},
		}},
	}, nil
}

type answerFake struct {
	err error
}

func (f answerFake) Answer(context.Context, domain.RetrievalRequest) (*domain.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Answer{Text: "ok", Route: domain.RouteHybrid}, nil
}

type docsErrFake struct {
	err error
}

func (f docsErrFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: "doc-1", Filename: "a", MimeType: "text/plain", StoragePath: "a", Status: domain.StatusReady}, nil
}

type entityAdminFake struct {
	err     error
	aliases map[string][]string
}

func (f *entityAdminFake) AddAlias(_ context.Context, entityID, alias string) error {
	if f.err != nil {
		return f.err
	}
	if f.aliases == nil {
		f.aliases = map[string][]string{}
	}
	f.aliases[entityID] = append(f.aliases[entityID], alias)
	return nil
}

func (f *entityAdminFake) Resolve(text string) domain.Resolution {
	return domain.Resolution{Mention: text, Status: domain.Resolved, Candidates: []domain.EntityCandidate{{EntityID: "portugal-cement"}}}
}

func newTestRouter(retriever *retrieverFake, answers answerFake, docs docsErrFake, entities *entityAdminFake) http.Handler {
	if retriever == nil {
		retriever = &retrieverFake{}
	}
	if entities == nil {
		entities = &entityAdminFake{}
	}
	return NewRouter(config.Config{}, ingestErrFake{}, retriever, answers, docs, entities).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRetrieveMapsNoEvidenceTo404WithDegradedPaths(t *testing.T) {
	handler := newTestRouter(&retrieverFake{err: &domain.NoEvidenceError{
		Route:    domain.RouteHybrid,
		Degraded: []domain.PathStatus{{Path: domain.PathStructured, Reason: domain.PathReasonTimeout}},
	}}, answerFake{}, docsErrFake{}, nil)

	res := postJSON(t, handler, "/v1/retrieve", map[string]any{"question": "variable cost Portugal August 2025"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Route != domain.RouteHybrid || len(body.Degraded) != 1 || body.Degraded[0].Reason != domain.PathReasonTimeout {
		t.Fatalf("unexpected no-evidence body: %+v", body)
	}
}

func TestRetrievePassesFilterToOrchestrator(t *testing.T) {
	retriever := &retrieverFake{}
	handler := newTestRouter(retriever, answerFake{}, docsErrFake{}, nil)

	res := postJSON(t, handler, "/v1/retrieve", map[string]any{
		"question": "EBITDA margin trend",
		"limit":    5,
		"filter":   map[string]any{"document_id": "doc-1", "page_from": 40, "page_to": 50, "types": []string{"table_whole"}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	got := retriever.lastReq
	if got.Limit != 5 || got.Filter.DocumentID != "doc-1" || got.Filter.PageFrom != 40 || got.Filter.PageTo != 50 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Filter.Types) != 1 || got.Filter.Types[0] != domain.ChunkTableWhole {
		t.Fatalf("unexpected chunk types: %+v", got.Filter.Types)
	}
}

func TestRetrieveRejectsInvertedPageRange(t *testing.T) {
	handler := newTestRouter(nil, answerFake{}, docsErrFake{}, nil)
	res := postJSON(t, handler, "/v1/retrieve", map[string]any{
		"question": "q",
		"filter":   map[string]any{"page_from": 9, "page_to": 2},
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAnswerMapsDomainInvalidInputTo400(t *testing.T) {
	handler := newTestRouter(nil, answerFake{err: domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("bad query"))}, docsErrFake{}, nil)

	res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "test"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAnswerMapsTemporaryFailureTo503(t *testing.T) {
	handler := newTestRouter(nil, answerFake{err: domain.WrapError(domain.ErrTemporary, "generate answer", errors.New("ollama 502"))}, docsErrFake{}, nil)

	res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "test"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestGetDocumentByIDReturns404ForNotFound(t *testing.T) {
	handler := newTestRouter(nil, answerFake{}, docsErrFake{err: domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New("id=missing"))}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestAddAliasReturns404ForUnknownEntity(t *testing.T) {
	entities := &entityAdminFake{err: domain.WrapError(domain.ErrEntityNotFound, "add alias", errors.New(`entity "nowhere"`))}
	handler := newTestRouter(nil, answerFake{}, docsErrFake{}, entities)

	res := postJSON(t, handler, "/v1/entities/nowhere/aliases", map[string]string{"alias": "NW"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestAddAliasStoresAlias(t *testing.T) {
	entities := &entityAdminFake{}
	handler := newTestRouter(nil, answerFake{}, docsErrFake{}, entities)

	res := postJSON(t, handler, "/v1/entities/portugal-cement/aliases", map[string]string{"alias": "PT Cement"})
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if got := entities.aliases["portugal-cement"]; len(got) != 1 || got[0] != "PT Cement" {
		t.Fatalf("unexpected aliases: %+v", entities.aliases)
	}
}

func TestResolveEntityRequiresQuery(t *testing.T) {
	handler := newTestRouter(nil, answerFake{}, docsErrFake{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/entities/resolve", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
