package plaintext

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/Autopsias/raglite/internal/core/domain"
)

// Parser reads UTF-8 text. A form feed starts a new page and runs of
// pipe-delimited lines become tables whose first line is the header row.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, doc *domain.Document, body io.Reader) (*domain.ParsedDocument, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse text", fmt.Errorf("unsupported binary format: %s", doc.Filename))
	}

	parsed := &domain.ParsedDocument{DocumentID: doc.ID}
	tables := 0
	for idx, page := range strings.Split(string(raw), "\f") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageNo := idx + 1
		var paragraph []string
		var tableLines []string
		flushParagraph := func() {
			text := strings.TrimSpace(strings.Join(paragraph, " "))
			paragraph = paragraph[:0]
			if text != "" {
				parsed.Elements = append(parsed.Elements, domain.Element{Kind: domain.ElementNarrative, Page: pageNo, Text: text})
			}
		}
		flushTable := func() {
			if len(tableLines) == 0 {
				return
			}
			tables++
			if table := parsePipeTable(tableLines, pageNo); table != nil {
				table.ID = fmt.Sprintf("%s-p%d-t%d", doc.ID, pageNo, tables)
				parsed.Elements = append(parsed.Elements, domain.Element{Kind: domain.ElementTable, Page: pageNo, Table: table})
			}
			tableLines = tableLines[:0]
		}

		scanner := bufio.NewScanner(strings.NewReader(page))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case strings.HasPrefix(line, "|"):
				flushParagraph()
				tableLines = append(tableLines, line)
			case line == "":
				flushTable()
				flushParagraph()
			default:
				flushTable()
				paragraph = append(paragraph, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("scan source document: %w", err)
		}
		flushTable()
		flushParagraph()
	}
	return parsed, nil
}

func parsePipeTable(lines []string, page int) *domain.RawTable {
	table := &domain.RawTable{Page: page}
	for _, line := range lines {
		cells := splitPipeRow(line)
		if isSeparatorRow(cells) {
			continue
		}
		row := make([]domain.Cell, 0, len(cells))
		header := len(table.Rows) == 0
		for _, c := range cells {
			row = append(row, domain.Cell{Text: c, Header: header})
		}
		table.Rows = append(table.Rows, row)
	}
	if len(table.Rows) < 2 {
		return nil
	}
	return table
}

func splitPipeRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}
