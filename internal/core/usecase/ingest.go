package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/core/ports"
)

const sniffLen = 512

// IngestDocumentUseCase accepts a source document, stores it and queues it
// for processing. Parsing happens later in the worker.
type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	formats ports.FormatChecker
	now     func() time.Time
}

type IngestOption func(*IngestDocumentUseCase)

// WithFormatChecker rejects uploads no parser can read.
func WithFormatChecker(formats ports.FormatChecker) IngestOption {
	return func(uc *IngestDocumentUseCase) { uc.formats = formats }
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	opts ...IngestOption,
) *IngestDocumentUseCase {
	uc := &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	const op = "upload document"

	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("filename is required"))
	}

	br := bufio.NewReaderSize(body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("document is empty"))
	}
	mimeType = resolveMimeType(mimeType, head)
	if uc.formats != nil && !uc.formats.Supports(filename, mimeType) {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("unsupported format: %s (%s)", filename, mimeType))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	if err := uc.storage.Save(ctx, storageKey, br); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	now := uc.now()
	doc := &domain.Document{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	slog.Info("document_uploaded", "document_id", doc.ID, "filename", doc.Filename, "mime_type", doc.MimeType)
	return doc, nil
}

// resolveMimeType keeps a declared type unless it is missing or generic, in
// which case the content is sniffed.
func resolveMimeType(declared string, head []byte) string {
	declared = strings.TrimSpace(declared)
	base, _, _ := strings.Cut(strings.ToLower(declared), ";")
	if base != "" && base != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(head)
}

func sanitizeFilename(name string) string {
	base := strings.ReplaceAll(filepath.Base(name), " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "document.bin"
	}
	return base
}
