package chunking

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/core/ports"
)

var chunkNamespace = uuid.MustParse("0b7e3c52-9d4a-4f1e-8c61-2a5f9e7d3b10")

type Splitter struct {
	ChunkSize      int
	Overlap        int
	TableChunkSize int

	counter ports.TokenCounter
}

func NewSplitter(counter ports.TokenCounter, chunkSize, overlap, tableChunkSize int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 400
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	if tableChunkSize <= 0 {
		tableChunkSize = 2 * chunkSize
	}
	return &Splitter{
		ChunkSize:      chunkSize,
		Overlap:        overlap,
		TableChunkSize: tableChunkSize,
		counter:        counter,
	}
}

type narrativeBlock struct {
	text string
	page int
}

// Chunk emits narrative chunks packed to the token budget and one chunk per
// table, or header-prefixed row fragments when a table exceeds its budget.
func (s *Splitter) Chunk(doc *domain.ParsedDocument, version int) []domain.Chunk {
	if doc == nil {
		return nil
	}

	out := make([]domain.Chunk, 0, len(doc.Elements))
	var pending []narrativeBlock
	flush := func() {
		out = append(out, s.splitNarrative(pending)...)
		pending = pending[:0]
	}

	for _, el := range doc.Elements {
		switch el.Kind {
		case domain.ElementTable:
			flush()
			if el.Table != nil {
				out = append(out, s.splitTable(*el.Table)...)
			}
		default:
			if text := strings.TrimSpace(el.Text); text != "" {
				pending = append(pending, narrativeBlock{text: text, page: el.Page})
			}
		}
	}
	flush()

	for i := range out {
		out[i].DocumentID = doc.DocumentID
		out[i].ID = uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s/%d/%d", doc.DocumentID, version, i))).String()
	}
	return out
}

func (s *Splitter) splitNarrative(blocks []narrativeBlock) []domain.Chunk {
	words := make([]word, 0, 256)
	for _, b := range blocks {
		for _, w := range strings.Fields(b.text) {
			words = append(words, word{text: w, page: b.page, tokens: max(1, s.count(" "+w))})
		}
	}
	if len(words) == 0 {
		return nil
	}

	out := make([]domain.Chunk, 0, 4)
	for start := 0; start < len(words); {
		end := start
		budget := 0
		for end < len(words) && (end == start || budget+words[end].tokens <= s.ChunkSize) {
			budget += words[end].tokens
			end++
		}
		text := joinWords(words[start:end])
		out = append(out, domain.Chunk{
			Text:       text,
			TokenCount: s.count(text),
			PageStart:  words[start].page,
			PageEnd:    words[end-1].page,
			Type:       domain.ChunkNarrative,
		})
		if end >= len(words) {
			break
		}
		next := end - s.overlapWords(end-start)
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func (s *Splitter) splitTable(table domain.RawTable) []domain.Chunk {
	headerLines, dataLines := renderTable(table)
	if len(headerLines)+len(dataLines) == 0 {
		return nil
	}

	header := strings.Join(headerLines, "\n")
	prefix := header
	if table.Title != "" {
		prefix = strings.TrimSpace(table.Title + "\n" + header)
	}

	whole := strings.TrimSpace(prefix + "\n" + strings.Join(dataLines, "\n"))
	if tokens := s.count(whole); tokens <= s.TableChunkSize || len(dataLines) <= 1 {
		return []domain.Chunk{{
			Text: whole, TokenCount: tokens, PageStart: table.Page, PageEnd: table.Page,
			SourceTableID: table.ID, Type: domain.ChunkTableWhole, Header: header,
		}}
	}

	out := make([]domain.Chunk, 0, 4)
	rows := make([]string, 0, len(dataLines))
	emit := func() {
		text := strings.TrimSpace(prefix + "\n" + strings.Join(rows, "\n"))
		out = append(out, domain.Chunk{
			Text: text, TokenCount: s.count(text), PageStart: table.Page, PageEnd: table.Page,
			SourceTableID: table.ID, Type: domain.ChunkTableFragment, Header: header,
		})
		rows = rows[:0]
	}
	for _, line := range dataLines {
		if len(rows) > 0 && s.count(prefix+"\n"+strings.Join(append(rows, line), "\n")) > s.TableChunkSize {
			emit()
		}
		rows = append(rows, line)
	}
	if len(rows) > 0 {
		emit()
	}
	return out
}

// renderTable prints a table as pipe-delimited lines split into header and
// data rows.
func renderTable(table domain.RawTable) ([]string, []string) {
	var headerLines, dataLines []string
	inHeader := true
	for _, row := range table.Rows {
		cells := make([]string, len(row))
		allHeader := len(row) > 0
		empty := true
		for i, c := range row {
			cells[i] = strings.TrimSpace(c.Text)
			if cells[i] != "" {
				empty = false
				if !c.Header {
					allHeader = false
				}
			}
		}
		if empty {
			continue
		}
		line := "| " + strings.Join(cells, " | ") + " |"
		if inHeader && allHeader {
			headerLines = append(headerLines, line)
			continue
		}
		inHeader = false
		dataLines = append(dataLines, line)
	}
	if len(headerLines) == 0 && len(dataLines) > 1 {
		headerLines, dataLines = dataLines[:1], dataLines[1:]
	}
	return headerLines, dataLines
}

func (s *Splitter) overlapWords(chunkWords int) int {
	if s.Overlap <= 0 || s.ChunkSize <= 0 {
		return 0
	}
	return chunkWords * s.Overlap / s.ChunkSize
}

func (s *Splitter) count(text string) int {
	if s.counter == nil {
		return len(strings.Fields(text))
	}
	return s.counter.Count(text)
}

type word struct {
	text   string
	page   int
	tokens int
}

func joinWords(words []word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.text
	}
	return strings.Join(parts, " ")
}
