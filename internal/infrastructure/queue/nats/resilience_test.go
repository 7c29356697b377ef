package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/Autopsias/raglite/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"no servers", fmt.Errorf("nats publish: %w", nats.ErrNoServers), true, true},
		{"disconnected", nats.ErrDisconnected, true, true},
		{"canceled", context.Canceled, false, false},
		{"bad subject", nats.ErrBadSubject, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("expected retryable=%v record=%v, got %+v", tc.retryable, tc.record, got)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrTimeout); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	permanent := errors.New("nats publish: permissions violation")
	if err := wrapTemporaryIfNeeded(permanent); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error to stay untouched, got %v", err)
	}
}

func TestPublishRejectsEmptyDocumentID(t *testing.T) {
	q := &Queue{subject: "documents.ingest"}
	if err := q.PublishDocumentIngested(context.Background(), "  "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDispatchSkipsEmptyDocumentID(t *testing.T) {
	q := &Queue{subject: "documents.ingest"}
	var got []string
	handler := func(_ context.Context, id string) error {
		got = append(got, id)
		return errors.New("parse failed")
	}

	q.dispatch(context.Background(), "", handler)
	q.dispatch(context.Background(), "doc-1", handler)
	if len(got) != 1 || got[0] != "doc-1" {
		t.Fatalf("expected only doc-1 to be handled, got %v", got)
	}
}
