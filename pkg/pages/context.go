// Package pages decides which document pages are given to the model and
// turns those pages into prompt text.
package pages

import "pdfreader/pkg/domain"

const (
	// DefaultRadius is the number of pages taken on each side of the current page.
	DefaultRadius = 2
	// DocumentCap bounds how many pages whole-document context may include.
	DocumentCap = 50
)

// Chapter is the page span of a resolved outline entry.
type Chapter struct {
	Title    string
	PageFrom int
	PageTo   int
}

// Request describes what the reader is looking at.
type Request struct {
	CurrentPage int
	TotalPages  int
	ContextType domain.ContextType
	Chapter     *Chapter
}

// Options tune the page window. Zero values fall back to defaults except
// Radius, where 0 means the current page only; use NewOptions for defaults.
type Options struct {
	Radius      int
	DocumentCap int
}

// NewOptions returns the default window settings.
func NewOptions() Options {
	return Options{Radius: DefaultRadius, DocumentCap: DocumentCap}
}

// ContextPages returns the ascending, deduplicated pages to extract for req.
// The result is empty only when req.TotalPages < 1.
func ContextPages(req Request, opts Options) []int {
	total := req.TotalPages
	if total < 1 {
		return []int{}
	}
	switch req.ContextType {
	case domain.ContextDocument:
		limit := opts.DocumentCap
		if limit <= 0 {
			limit = DocumentCap
		}
		return span(1, min(total, limit))
	case domain.ContextChapter, domain.ContextSection:
		if req.Chapter != nil {
			from := max(req.Chapter.PageFrom, 1)
			to := min(req.Chapter.PageTo, total)
			if from <= to {
				return span(from, to)
			}
		}
	}
	return window(req.CurrentPage, total, opts.Radius)
}

func window(current, total, radius int) []int {
	if radius < 0 {
		radius = 0
	}
	current = min(max(current, 1), total)
	return span(max(current-radius, 1), min(current+radius, total))
}

func span(from, to int) []int {
	pages := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		pages = append(pages, p)
	}
	return pages
}
