package pages

import (
	"reflect"
	"testing"

	"pdfreader/pkg/domain"
)

func TestContextPagesDefaultWindowStaysInRange(t *testing.T) {
	opts := NewOptions()
	for total := 1; total <= 12; total++ {
		for current := 1; current <= total; current++ {
			got := ContextPages(Request{CurrentPage: current, TotalPages: total, ContextType: domain.ContextPage}, opts)
			found := false
			for i, p := range got {
				if p < 1 || p > total {
					t.Fatalf("total=%d current=%d: page %d out of range", total, current, p)
				}
				if i > 0 && got[i-1] >= p {
					t.Fatalf("total=%d current=%d: pages not ascending: %v", total, current, got)
				}
				if p == current {
					found = true
				}
			}
			if !found {
				t.Fatalf("total=%d current=%d: current page missing from %v", total, current, got)
			}
		}
	}
}

func TestContextPagesCases(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		opts Options
		want []int
	}{
		{
			name: "middle of document",
			req:  Request{CurrentPage: 5, TotalPages: 10},
			opts: NewOptions(),
			want: []int{3, 4, 5, 6, 7},
		},
		{
			name: "first page",
			req:  Request{CurrentPage: 1, TotalPages: 10},
			opts: NewOptions(),
			want: []int{1, 2, 3},
		},
		{
			name: "radius zero",
			req:  Request{CurrentPage: 4, TotalPages: 10},
			opts: Options{Radius: 0},
			want: []int{4},
		},
		{
			name: "current page clamped",
			req:  Request{CurrentPage: 40, TotalPages: 10},
			opts: NewOptions(),
			want: []int{8, 9, 10},
		},
		{
			name: "chapter clamps to document",
			req:  Request{CurrentPage: 1, TotalPages: 10, ContextType: domain.ContextChapter, Chapter: &Chapter{PageFrom: 0, PageTo: 14}},
			opts: NewOptions(),
			want: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		{
			name: "section range",
			req:  Request{CurrentPage: 1, TotalPages: 10, ContextType: domain.ContextSection, Chapter: &Chapter{PageFrom: 4, PageTo: 6}},
			opts: NewOptions(),
			want: []int{4, 5, 6},
		},
		{
			name: "chapter missing falls back",
			req:  Request{CurrentPage: 2, TotalPages: 10, ContextType: domain.ContextChapter},
			opts: NewOptions(),
			want: []int{1, 2, 3, 4},
		},
		{
			name: "empty chapter range falls back",
			req:  Request{CurrentPage: 9, TotalPages: 9, ContextType: domain.ContextChapter, Chapter: &Chapter{PageFrom: 12, PageTo: 15}},
			opts: Options{Radius: 1},
			want: []int{8, 9},
		},
		{
			name: "no pages",
			req:  Request{CurrentPage: 1, TotalPages: 0, ContextType: domain.ContextDocument},
			opts: NewOptions(),
			want: []int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ContextPages(tt.req, tt.opts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ContextPages() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextPagesDocumentCap(t *testing.T) {
	for _, total := range []int{1, 7, 50, 51, 400} {
		got := ContextPages(Request{CurrentPage: 3, TotalPages: total, ContextType: domain.ContextDocument}, NewOptions())
		if len(got) == 0 || got[0] != 1 {
			t.Fatalf("total=%d: got %v, want non-empty starting at 1", total, got)
		}
		if len(got) > DocumentCap {
			t.Fatalf("total=%d: len = %d, want <= %d", total, len(got), DocumentCap)
		}
		if want := min(total, DocumentCap); len(got) != want {
			t.Fatalf("total=%d: len = %d, want %d", total, len(got), want)
		}
	}
}
