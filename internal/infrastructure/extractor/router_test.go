package extractor

import (
	"context"
	"strings"
	"testing"

	"github.com/Autopsias/raglite/internal/core/domain"
)

func TestRouterPicksParserByExtensionAndFillsPeriod(t *testing.T) {
	doc := &domain.Document{ID: "doc-1", Filename: "Performance_Review_Aug-25.txt", MimeType: "application/octet-stream"}
	parsed, err := NewRouter().Parse(context.Background(), doc, strings.NewReader("Costs rose in August."))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Period != "2025-08" {
		t.Fatalf("expected period from filename, got %q", parsed.Period)
	}
	if len(parsed.Elements) != 1 || parsed.Elements[0].Kind != domain.ElementNarrative {
		t.Fatalf("unexpected elements: %+v", parsed.Elements)
	}
}

func TestRouterFallsBackToMIME(t *testing.T) {
	doc := &domain.Document{ID: "doc-1", Filename: "upload", MimeType: "application/json; charset=utf-8"}
	parsed, err := NewRouter().Parse(context.Background(), doc, strings.NewReader(`{"period":"2025-Q3","elements":[{"kind":"narrative","page":1,"text":"x"}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Period != "2025-Q3" {
		t.Fatalf("expected document period to be kept, got %q", parsed.Period)
	}
}

func TestRouterRejectsUnknownFormat(t *testing.T) {
	doc := &domain.Document{ID: "doc-1", Filename: "image.png", MimeType: "image/png"}
	if _, err := NewRouter().Parse(context.Background(), doc, strings.NewReader("")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRouterSupports(t *testing.T) {
	r := NewRouter()
	cases := []struct {
		filename, mime string
		want           bool
	}{
		{"Performance Review Aug-25.xlsx", "", true},
		{"notes", "text/markdown; charset=utf-8", true},
		{"scan.tiff", "image/tiff", false},
		{"data.csv", "text/csv", false},
	}
	for _, tc := range cases {
		if got := r.Supports(tc.filename, tc.mime); got != tc.want {
			t.Fatalf("Supports(%q, %q) = %v, want %v", tc.filename, tc.mime, got, tc.want)
		}
	}
}
