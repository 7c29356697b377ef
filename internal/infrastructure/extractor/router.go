// Package extractor routes a stored document to the parser for its format.
package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/core/ports"
	"github.com/Autopsias/raglite/internal/infrastructure/extractor/jsondoc"
	"github.com/Autopsias/raglite/internal/infrastructure/extractor/pdf"
	"github.com/Autopsias/raglite/internal/infrastructure/extractor/plaintext"
	"github.com/Autopsias/raglite/internal/infrastructure/extractor/xlsx"
)

type Router struct {
	byExtension map[string]ports.DocumentParser
	byMIME      map[string]ports.DocumentParser
}

func NewRouter() *Router {
	text := plaintext.NewParser()
	sheet := xlsx.NewParser()
	pdfParser := pdf.NewParser()
	layout := jsondoc.NewParser()
	return &Router{
		byExtension: map[string]ports.DocumentParser{
			".txt":  text,
			".md":   text,
			".xlsx": sheet,
			".xlsm": sheet,
			".pdf":  pdfParser,
			".json": layout,
		},
		byMIME: map[string]ports.DocumentParser{
			"text/plain":       text,
			"text/markdown":    text,
			"application/pdf":  pdfParser,
			"application/json": layout,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": sheet,
		},
	}
}

// Supports reports whether a parser exists for the file name or MIME type.
func (r *Router) Supports(filename, mimeType string) bool {
	_, ok := r.parserFor(filename, mimeType)
	return ok
}

func (r *Router) parserFor(filename, mimeType string) (ports.DocumentParser, bool) {
	if parser, ok := r.byExtension[strings.ToLower(filepath.Ext(filename))]; ok {
		return parser, true
	}
	mime, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	parser, ok := r.byMIME[strings.TrimSpace(mime)]
	return parser, ok
}

func (r *Router) Parse(ctx context.Context, doc *domain.Document, body io.Reader) (*domain.ParsedDocument, error) {
	parser, ok := r.parserFor(doc.Filename, doc.MimeType)
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse document", fmt.Errorf("unsupported format: %s (%s)", doc.Filename, doc.MimeType))
	}

	parsed, err := parser.Parse(ctx, doc, body)
	if err != nil {
		return nil, err
	}
	if parsed.Period == "" {
		parsed.Period = periodFromFilename(doc.Filename)
	}
	return parsed, nil
}

// periodFromFilename reads the reporting period from names such as
// "Performance Review Aug-25.xlsx".
func periodFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ").Replace(base)
	periods := domain.FindPeriods(base)
	if len(periods) == 0 {
		return ""
	}
	return periods[0].Key()
}
