// Package pdf extracts per-page narrative text. Table structure inside PDFs
// comes from the external layout parser as a JSON document.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/Autopsias/raglite/internal/core/domain"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, doc *domain.Document, body io.Reader) (parsed *domain.ParsedDocument, err error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			parsed = nil
			err = domain.WrapError(domain.ErrInvalidInput, "parse pdf", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open pdf", err)
	}

	parsed = &domain.ParsedDocument{DocumentID: doc.ID}
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			continue
		}
		parsed.Elements = append(parsed.Elements, domain.Element{Kind: domain.ElementNarrative, Page: i, Text: text})
	}
	return parsed, nil
}
