package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Autopsias/raglite/internal/config"
	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/core/ports"
)

type Router struct {
	cfg       config.Config
	ingest    ports.DocumentIngestor
	retriever ports.EvidenceRetriever
	answers   ports.AnswerService
	docs      ports.DocumentReader
	entities  ports.EntityAdmin
	metrics   MetricsRecorder

	openCircuits func() []string
}

// MetricsRecorder is the optional HTTP telemetry sink.
type MetricsRecorder interface {
	Middleware(service string, next http.Handler) http.Handler
	Handler() http.Handler
	RecordAnswer(err error)
}

type RouterOption func(*Router)

func WithMetrics(m MetricsRecorder) RouterOption {
	return func(rt *Router) { rt.metrics = m }
}

// WithOpenCircuits lets /healthz report dependencies behind an open breaker.
func WithOpenCircuits(fn func() []string) RouterOption {
	return func(rt *Router) { rt.openCircuits = fn }
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	retriever ports.EvidenceRetriever,
	answers ports.AnswerService,
	docs ports.DocumentReader,
	entities ports.EntityAdmin,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:       cfg,
		ingest:    ingest,
		retriever: retriever,
		answers:   answers,
		docs:      docs,
		entities:  entities,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocumentByID)
	mux.HandleFunc("POST /v1/retrieve", rt.retrieve)
	mux.HandleFunc("POST /v1/answer", rt.answer)
	mux.HandleFunc("GET /v1/entities/resolve", rt.resolveEntity)
	mux.HandleFunc("POST /v1/entities/{id}/aliases", rt.addAlias)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = recoverMiddleware(handler)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

type healthResponse struct {
	Status       string   `json:"status"`
	OpenCircuits []string `json:"open_circuits,omitempty"`
}

// healthz answers 200 while degraded.
func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if rt.openCircuits != nil {
		if open := rt.openCircuits(); len(open) > 0 {
			resp.Status = "degraded"
			resp.OpenCircuits = open
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "file exceeds upload limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "document id is required"})
		return
	}

	doc, err := rt.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type retrievalRequestBody struct {
	Question string `json:"question"`
	Limit    int    `json:"limit"`
	Filter   struct {
		DocumentID string   `json:"document_id"`
		PageFrom   int      `json:"page_from"`
		PageTo     int      `json:"page_to"`
		Types      []string `json:"types"`
	} `json:"filter"`
}

func decodeRetrievalRequest(r *http.Request) (domain.RetrievalRequest, error) {
	var body retrievalRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return domain.RetrievalRequest{}, errors.New("invalid json")
	}
	if strings.TrimSpace(body.Question) == "" {
		return domain.RetrievalRequest{}, errors.New("question is required")
	}
	if body.Limit < 0 {
		return domain.RetrievalRequest{}, errors.New("limit must not be negative")
	}
	if body.Filter.PageFrom > 0 && body.Filter.PageTo > 0 && body.Filter.PageFrom > body.Filter.PageTo {
		return domain.RetrievalRequest{}, errors.New("page_from must not exceed page_to")
	}

	filter := domain.ChunkFilter{
		DocumentID: strings.TrimSpace(body.Filter.DocumentID),
		PageFrom:   body.Filter.PageFrom,
		PageTo:     body.Filter.PageTo,
	}
	for _, t := range body.Filter.Types {
		filter.Types = append(filter.Types, domain.ChunkType(t))
	}
	return domain.RetrievalRequest{
		Question: body.Question,
		Limit:    body.Limit,
		Filter:   filter,
	}, nil
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRetrievalRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := rt.retriever.Retrieve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRetrievalRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	answer, err := rt.answers.Answer(r.Context(), req)
	if rt.metrics != nil {
		rt.metrics.RecordAnswer(err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) resolveEntity(w http.ResponseWriter, r *http.Request) {
	mention := strings.TrimSpace(r.URL.Query().Get("q"))
	if mention == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query parameter 'q' is required"})
		return
	}
	writeJSON(w, http.StatusOK, rt.entities.Resolve(mention))
}

func (rt *Router) addAlias(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Alias string `json:"alias"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	if err := rt.entities.AddAlias(r.Context(), r.PathValue("id"), body.Alias); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
