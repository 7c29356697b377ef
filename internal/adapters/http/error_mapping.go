package httpadapter

import (
	"errors"
	"net/http"

	"github.com/Autopsias/raglite/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrEntityNotFound),
		domain.IsKind(err, domain.ErrBothPathsEmpty):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidReference):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error    string              `json:"error"`
	Route    domain.Route        `json:"route,omitempty"`
	Degraded []domain.PathStatus `json:"degraded,omitempty"`
}

// writeError renders err with the status of its domain kind. A no-evidence
// outcome also reports the route and the degraded paths.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var noEvidence *domain.NoEvidenceError
	if errors.As(err, &noEvidence) {
		resp.Route = noEvidence.Route
		resp.Degraded = noEvidence.Degraded
	}
	writeJSON(w, mapErrorToHTTPStatus(err), resp)
}
