package pages

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// TextExtractor pulls plain text out of selected PDF pages.
type TextExtractor struct {
	concurrency int
}

// NewTextExtractor returns an extractor running up to concurrency pages at once.
func NewTextExtractor(concurrency int) *TextExtractor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &TextExtractor{concurrency: concurrency}
}

// PageText is the normalized text of one page.
type PageText struct {
	Page int
	Text string
}

// Extract returns the text of each requested page, in the order given.
// Pages outside the document are skipped.
func (e *TextExtractor) Extract(ctx context.Context, data []byte, pages []int) ([]PageText, error) {
	size := int64(len(data))
	reader, err := pdf.NewReader(bytes.NewReader(data), size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()

	out := make([]PageText, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, num := range pages {
		if num < 1 || num > total {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// pdf.Reader caches objects without locking; each worker opens its own.
			r, err := pdf.NewReader(bytes.NewReader(data), size)
			if err != nil {
				return fmt.Errorf("open pdf: %w", err)
			}
			text, err := pageText(r, num)
			if err != nil {
				return fmt.Errorf("page %d: %w", num, err)
			}
			out[i] = PageText{Page: num, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res := make([]PageText, 0, len(out))
	for _, p := range out {
		if p.Page != 0 {
			res = append(res, p)
		}
	}
	return res, nil
}

func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		// ledongthuc/pdf panics on some malformed content streams.
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed page: %v", rec)
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	raw, err := page.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	return normalizeText(raw), nil
}

// ContextText extracts pages and renders them as prompt blocks. Extraction
// failures are reported inline so the conversation can continue.
func (e *TextExtractor) ContextText(ctx context.Context, data []byte, pages []int) string {
	texts, err := e.Extract(ctx, data, pages)
	if err != nil {
		return ExtractionFailure(pages, err)
	}
	return FormatPages(texts)
}

// FormatPages renders "--- Page N ---" blocks separated by blank lines.
// Pages without text are left out.
func FormatPages(texts []PageText) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		body := strings.TrimSpace(t.Text)
		if body == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", t.Page, body))
	}
	return strings.Join(parts, "\n\n")
}

// ExtractionFailure is the inline text used when pages cannot be read.
func ExtractionFailure(pages []int, err error) string {
	return fmt.Sprintf("Error extracting text from pages %s: %v", FormatList(pages), err)
}

// FormatList renders pages as "[1, 2, 3]".
func FormatList(pages []int) string {
	return "[" + JoinPages(pages) + "]"
}

// JoinPages renders pages as "1, 2, 3".
func JoinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}

// normalizeText strips NUL and invalid UTF-8 and collapses runs of spaces
// while keeping line breaks.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
