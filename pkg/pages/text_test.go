package pages

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pdfreader/internal/pdftest"
)

func TestTextExtractorReadsRequestedPages(t *testing.T) {
	data := pdftest.Build(pdftest.Doc{Pages: []string{"Alpha page", "Beta   page", "", "Delta page"}})

	got, err := NewTextExtractor(2).Extract(context.Background(), data, []int{2, 3, 4, 9})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("pages = %+v, want 3 entries", got)
	}
	if got[0].Page != 2 || got[0].Text != "Beta page" {
		t.Fatalf("page 2 = %+v", got[0])
	}

	text := FormatPages(got)
	want := "--- Page 2 ---\nBeta page\n\n--- Page 4 ---\nDelta page"
	if text != want {
		t.Fatalf("FormatPages() = %q, want %q", text, want)
	}
}

func TestContextTextReportsFailureInline(t *testing.T) {
	got := NewTextExtractor(1).ContextText(context.Background(), []byte("not a pdf"), []int{1, 2})
	if !strings.HasPrefix(got, "Error extracting text from pages [1, 2]: ") {
		t.Fatalf("ContextText() = %q", got)
	}
}

func TestNormalizeTextKeepsLineBreaks(t *testing.T) {
	raw := "  Title\x00  here \r\n\r\n\r\nLine   one\nLine two  "
	want := "Title here\n\nLine one\nLine two"
	if got := normalizeText(raw); got != want {
		t.Fatalf("normalizeText() = %q, want %q", got, want)
	}
}

func TestFetcherEnforcesLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("%PDF-1.4 body"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(time.Second)
	data, err := f.Fetch(context.Background(), srv.URL+"/ok")
	if err != nil || string(data) != "%PDF-1.4 body" {
		t.Fatalf("fetch ok = %q, %v", data, err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}
	f.maxBytes = 16
	if _, err := f.Fetch(context.Background(), srv.URL+"/big"); !errors.Is(err, ErrDocumentTooLarge) {
		t.Fatalf("fetch big err = %v, want ErrDocumentTooLarge", err)
	}
}
