package outline

import (
	"fmt"
	"testing"

	"pdfreader/internal/pdftest"
	"pdfreader/pkg/domain"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestBuildResolvesPageRanges(t *testing.T) {
	items := []RawItem{
		{Level: 1, Title: "A", Page: 1},
		{Level: 2, Title: "A.1", Page: 2},
		{Level: 1, Title: "B", Page: 5},
	}
	got := Build(items, 10, seqIDs())
	want := []struct {
		title    string
		from, to int
		parent   string
	}{
		{"A", 1, 4, ""},
		{"A.1", 2, 4, "id-1"},
		{"B", 5, 10, ""},
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		e := got[i]
		if e.Title != w.title || e.PageFrom != w.from || e.PageTo != w.to || e.ParentID != w.parent || e.OrderIndex != i {
			t.Fatalf("entry %d = %+v, want %+v", i, e, w)
		}
	}
}

func TestBuildNestedEntriesDoNotTruncateAncestor(t *testing.T) {
	items := []RawItem{
		{Level: 1, Title: "  Part I ", Page: 1},
		{Level: 2, Title: "Ch 1", Page: 1},
		{Level: 3, Title: "Sec 1.1", Page: 2},
		{Level: 2, Title: "Ch 2", Page: 6},
		{Level: 1, Title: "Part II", Page: 9},
		{Level: 2, Title: "Ch 3", Page: 9},
	}
	got := Build(items, 12, seqIDs())
	wantRanges := [][2]int{{1, 8}, {1, 5}, {2, 5}, {6, 8}, {9, 12}, {9, 12}}
	for i, r := range wantRanges {
		if got[i].PageFrom != r[0] || got[i].PageTo != r[1] {
			t.Fatalf("%s range = %d-%d, want %d-%d", got[i].Title, got[i].PageFrom, got[i].PageTo, r[0], r[1])
		}
	}
	if got[0].Title != "Part I" {
		t.Fatalf("title = %q, want trimmed", got[0].Title)
	}
	if got[2].ParentID != got[1].ID || got[3].ParentID != got[0].ID || got[5].ParentID != got[4].ID {
		t.Fatalf("unexpected parents: %+v", got)
	}
}

func TestBuildClampsAndKeepsOrder(t *testing.T) {
	items := []RawItem{
		{Level: 1, Title: "Cover", Page: 0},
		{Level: 1, Title: "Same page", Page: 0},
		{Level: 1, Title: "Beyond", Page: 99},
	}
	got := Build(items, 5, seqIDs())
	for _, e := range got {
		if e.PageFrom < 1 || e.PageFrom > e.PageTo || e.PageTo > 5 {
			t.Fatalf("entry %+v violates 1 <= from <= to <= 5", e)
		}
	}
	if got[0].PageTo != 1 {
		t.Fatalf("Cover pageTo = %d, want 1", got[0].PageTo)
	}
	if got[2].PageFrom != 5 {
		t.Fatalf("Beyond pageFrom = %d, want 5", got[2].PageFrom)
	}
	if len(Build(nil, 5, seqIDs())) != 0 {
		t.Fatalf("empty input should give empty outline")
	}
}

func TestNewTreeLinksChildren(t *testing.T) {
	entries := Build([]RawItem{
		{Level: 1, Title: "A", Page: 1},
		{Level: 2, Title: "A.1", Page: 2},
		{Level: 2, Title: "A.2", Page: 3},
		{Level: 1, Title: "B", Page: 5},
	}, 10, seqIDs())
	tree := NewTree(entries)
	if len(tree.Roots) != 2 {
		t.Fatalf("roots = %v, want 2", tree.Roots)
	}
	if kids := tree.Nodes[tree.Roots[0]].Children; len(kids) != 2 || kids[0] != 1 || kids[1] != 2 {
		t.Fatalf("children of A = %v, want [1 2]", kids)
	}
	nested := tree.Nested()
	if len(nested) != 2 || len(nested[0].Children) != 2 || nested[0].Children[1].Title != "A.2" {
		t.Fatalf("nested = %+v", nested)
	}

	orphan := NewTree([]domain.OutlineEntry{{ID: "x", ParentID: "gone"}})
	if len(orphan.Roots) != 1 {
		t.Fatalf("orphan should become a root")
	}
}

func TestExtractorReadsPDFOutline(t *testing.T) {
	data := pdftest.Build(pdftest.Doc{
		Pages: []string{"1", "2", "3", "4", "5", "6"},
		Outline: []pdftest.Item{
			{Title: "Intro", Page: 1, Children: []pdftest.Item{
				{Title: "Background", Page: 2, Action: true},
			}},
			{Title: "Method", Page: 4, Named: "method"},
			{Title: "Notes"},
		},
		Info: map[string]string{"Title": "Paper", "Author": "Someone"},
	})

	info, err := Extractor{NewID: seqIDs()}.Inspect("doc-1", data)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.PageCount != 6 {
		t.Fatalf("page count = %d, want 6", info.PageCount)
	}
	if info.Metadata["Title"] != "Paper" || info.Metadata["Author"] != "Someone" {
		t.Fatalf("metadata = %v", info.Metadata)
	}
	want := []struct {
		title    string
		level    int
		from, to int
	}{
		{"Intro", 1, 1, 3},
		{"Background", 2, 2, 3},
		{"Method", 1, 4, 4},
		{"Notes", 1, 4, 6},
	}
	if len(info.Outline) != len(want) {
		t.Fatalf("outline = %+v, want %d entries", info.Outline, len(want))
	}
	for i, w := range want {
		e := info.Outline[i]
		if e.Title != w.title || e.Level != w.level || e.PageFrom != w.from || e.PageTo != w.to {
			t.Fatalf("entry %d = %+v, want %+v", i, e, w)
		}
		if e.DocumentID != "doc-1" {
			t.Fatalf("entry %d document = %q", i, e.DocumentID)
		}
	}
}

func TestExtractorSwallowsFailures(t *testing.T) {
	got := Extractor{NewID: seqIDs()}.Extract("doc", []byte("garbage"))
	if got == nil || len(got) != 0 {
		t.Fatalf("Extract() = %v, want empty non-nil list", got)
	}
	plain := pdftest.Build(pdftest.Doc{Pages: []string{"only page"}})
	if got := (Extractor{NewID: seqIDs()}).Extract("doc", plain); len(got) != 0 {
		t.Fatalf("Extract() = %v, want empty for PDF without outline", got)
	}
}

func TestExtractorDistinguishesIdenticalPageDictionaries(t *testing.T) {
	data := pdftest.Build(pdftest.Doc{
		Pages: []string{"cover", "", "", "end"},
		Outline: []pdftest.Item{
			{Title: "One", Page: 1},
			{Title: "Two", Page: 2},
			{Title: "Three", Page: 3},
			{Title: "Four", Page: 4, Action: true},
		},
		OmitEmptyContents: true,
	})

	got := Extractor{NewID: seqIDs()}.Extract("doc-1", data)
	want := [][2]int{{1, 1}, {2, 2}, {3, 3}, {4, 4}}
	if len(got) != len(want) {
		t.Fatalf("outline = %+v, want %d entries", got, len(want))
	}
	for i, w := range want {
		if got[i].PageFrom != w[0] || got[i].PageTo != w[1] {
			t.Fatalf("%s range = %d-%d, want %d-%d", got[i].Title, got[i].PageFrom, got[i].PageTo, w[0], w[1])
		}
	}
}
