// Package jsondoc reads documents already laid out by an external parser:
// a JSON object with typed narrative and table elements.
package jsondoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Autopsias/raglite/internal/core/domain"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, doc *domain.Document, body io.Reader) (*domain.ParsedDocument, error) {
	var parsed domain.ParsedDocument
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&parsed); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode parsed document", err)
	}
	parsed.DocumentID = doc.ID

	for i, el := range parsed.Elements {
		switch el.Kind {
		case domain.ElementNarrative:
		case domain.ElementTable:
			if el.Table == nil {
				return nil, domain.WrapError(domain.ErrInvalidInput, "decode parsed document", fmt.Errorf("element %d: table is missing", i))
			}
			if el.Table.Page == 0 {
				parsed.Elements[i].Table.Page = el.Page
			}
			if el.Table.ID != "" {
				// External ids are only unique within their own document.
				parsed.Elements[i].Table.ID = fmt.Sprintf("%s-%s", doc.ID, el.Table.ID)
			}
		default:
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode parsed document", fmt.Errorf("element %d: unknown kind %q", i, el.Kind))
		}
		if el.Page <= 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode parsed document", errors.New("every element needs a page number"))
		}
	}
	return &parsed, nil
}
