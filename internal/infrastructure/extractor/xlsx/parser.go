// Package xlsx turns spreadsheet sheets into raw tables. Each sheet is one
// page; leading bold or non-numeric rows are header rows.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Autopsias/raglite/internal/core/domain"
)

const maxHeaderRows = 3

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, doc *domain.Document, body io.Reader) (*domain.ParsedDocument, error) {
	f, err := excelize.OpenReader(body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open workbook", err)
	}
	defer f.Close()

	parsed := &domain.ParsedDocument{DocumentID: doc.ID}
	for idx, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		page := idx + 1
		table := buildTable(f, sheet, rows, page)
		if table == nil {
			continue
		}
		table.ID = fmt.Sprintf("%s-s%d", doc.ID, page)
		parsed.Elements = append(parsed.Elements, domain.Element{Kind: domain.ElementTable, Page: page, Table: table})
	}
	return parsed, nil
}

func buildTable(f *excelize.File, sheet string, rows [][]string, page int) *domain.RawTable {
	rows, rowNums := trimEmptyRows(rows)
	table := &domain.RawTable{Page: page, Title: sheet}

	// A single leading text cell above the grid is the table title.
	if len(rows) > 1 && nonEmpty(rows[0]) == 1 && strings.TrimSpace(rows[0][0]) != "" && nonEmpty(rows[1]) > 1 {
		table.Title = strings.TrimSpace(rows[0][0])
		rows, rowNums = rows[1:], rowNums[1:]
	}
	if len(rows) < 2 {
		return nil
	}

	headers := 0
	for headers < len(rows)-1 && headers < maxHeaderRows {
		if !isBoldRow(f, sheet, rows[headers], rowNums[headers]) && hasNumber(rows[headers]) {
			break
		}
		headers++
	}
	if headers == 0 {
		headers = 1
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	for i, r := range rows {
		row := make([]domain.Cell, width)
		for j := range row {
			if j < len(r) {
				row[j].Text = strings.TrimSpace(r[j])
			}
			row[j].Header = i < headers
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

// isBoldRow reports whether every non-empty cell of the row uses a bold font.
func isBoldRow(f *excelize.File, sheet string, row []string, rowNum int) bool {
	seen := false
	for col, text := range row {
		if strings.TrimSpace(text) == "" {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
		if err != nil {
			return false
		}
		styleID, err := f.GetCellStyle(sheet, cell)
		if err != nil {
			return false
		}
		style, err := f.GetStyle(styleID)
		if err != nil || style == nil || style.Font == nil || !style.Font.Bold {
			return false
		}
		seen = true
	}
	return seen
}

// hasNumber ignores the label column.
func hasNumber(row []string) bool {
	for j := 1; j < len(row); j++ {
		s := strings.NewReplacer(",", "", "(", "-", ")", "", "%", "", " ", "").Replace(strings.TrimSpace(row[j]))
		if s == "" {
			continue
		}
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return true
		}
	}
	return false
}

func nonEmpty(row []string) int {
	n := 0
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

// trimEmptyRows drops blank rows and returns the 1-based sheet row number of
// every kept row.
func trimEmptyRows(rows [][]string) ([][]string, []int) {
	out := make([][]string, 0, len(rows))
	nums := make([]int, 0, len(rows))
	for i, r := range rows {
		if nonEmpty(r) > 0 {
			out = append(out, r)
			nums = append(nums, i+1)
		}
	}
	return out, nums
}
