package tokenizer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// Counter counts BPE tokens. Without an encoder it falls back to a word
// based estimate.
type Counter struct {
	enc *tiktoken.Tiktoken
}

func NewCounter(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &Counter{enc: enc}, nil
}

// NewCounterOrFallback never fails; encoding load errors are logged and the
// word estimate is used instead.
func NewCounterOrFallback(encoding string) *Counter {
	c, err := NewCounter(encoding)
	if err != nil {
		slog.Warn("tokenizer_fallback", "encoding", encoding, "error", err.Error())
		return &Counter{}
	}
	return c
}

func (c *Counter) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// estimateTokens approximates BPE counts as 4/3 tokens per word.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}
