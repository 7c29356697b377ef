package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrEntityNotFound   = errors.New("entity not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidReference = errors.New("invalid reference data")
	ErrTemporary        = errors.New("temporary failure")

	// Query-time conditions. All of them except ErrBothPathsEmpty are
	// absorbed by the orchestrator and surface only as response metadata.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPathTimeout      = errors.New("retrieval path timeout")
	ErrNoStructuredPath = errors.New("no structured path")
	ErrEntityAmbiguous  = errors.New("entity ambiguous")
	ErrBothPathsEmpty   = errors.New("no evidence found")

	// Ingestion-time condition, recorded as an IngestionIssue rather than returned.
	ErrParseAmbiguity = errors.New("parse ambiguity")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// NoEvidenceError is the terminal "no evidence" outcome of a retrieval. It is
// distinct from a technical failure: at least one path completed and returned
// nothing.
type NoEvidenceError struct {
	Route    Route
	Degraded []PathStatus
}

func (e *NoEvidenceError) Error() string {
	if e == nil {
		return ErrBothPathsEmpty.Error()
	}
	if len(e.Degraded) == 0 {
		return fmt.Sprintf("%s (route=%s)", ErrBothPathsEmpty.Error(), e.Route)
	}
	parts := make([]string, 0, len(e.Degraded))
	for _, p := range e.Degraded {
		parts = append(parts, string(p.Path)+":"+p.Reason)
	}
	return fmt.Sprintf("%s (route=%s degraded=%s)", ErrBothPathsEmpty.Error(), e.Route, strings.Join(parts, ","))
}

func (e *NoEvidenceError) Is(target error) bool {
	return target == ErrBothPathsEmpty
}
