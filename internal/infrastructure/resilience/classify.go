package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/Autopsias/raglite/internal/core/domain"
)

// HTTPStatusError is a non-2xx answer from a remote dependency.
type HTTPStatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	msg := fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

var (
	notRecorded = ErrorClassification{}
	transient   = ErrorClassification{Retryable: true, RecordFailure: true}
	permanent   = ErrorClassification{RecordFailure: true}
)

// ClassifyTransport handles what every remote client shares: context
// errors are neither retried nor counted, an open breaker and network errors
// are transient, HTTPStatusError follows IsRetryableStatus. Anything else is
// handed to extra, or counted as a permanent failure when extra is nil.
func ClassifyTransport(err error, extra ErrorClassifier) ErrorClassification {
	switch {
	case err == nil:
		return notRecorded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return notRecorded
	case IsCircuitOpen(err):
		return transient
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if IsRetryableStatus(statusErr.StatusCode) {
			return transient
		}
		return notRecorded
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient
	}
	if extra != nil {
		return extra(err)
	}
	return permanent
}

// WrapTemporary marks err as domain.ErrTemporary when classifier considers
// it retryable, so callers upstream can tell a flaky dependency from a bad
// request.
func WrapTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier == nil {
		classifier = defaultClassifier
	}
	if classifier(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
