package outline

import (
	"bytes"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/ledongthuc/pdf"
	"pdfreader/pkg/domain"
)

const (
	maxDepth = 64
	maxItems = 10000
)

// Extractor reads native PDF outlines.
type Extractor struct {
	NewID func() string
}

// Info is what the outline worker learns about a PDF in one parse.
type Info struct {
	PageCount int
	Metadata  map[string]string
	Outline   []domain.OutlineEntry
}

// Extract returns the outline of data. A missing outline and every parse
// failure yield an empty list; failures are logged, never returned.
func (e Extractor) Extract(documentID string, data []byte) []domain.OutlineEntry {
	info, err := e.Inspect(documentID, data)
	if err != nil {
		slog.Warn("outline extraction failed", "document_id", documentID, "err", err)
		return []domain.OutlineEntry{}
	}
	return info.Outline
}

// Inspect opens data once and reads page count, metadata, and outline.
// Only an unreadable file is an error; a broken outline degrades to empty.
func (e Extractor) Inspect(documentID string, data []byte) (info Info, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("open pdf: %w", err)
	}
	info.PageCount = reader.NumPage()
	info.Metadata = readMetadata(reader)
	info.Outline = e.outline(documentID, reader, info.PageCount)
	return info, nil
}

func (e Extractor) outline(documentID string, reader *pdf.Reader, totalPages int) (entries []domain.OutlineEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("outline extraction failed", "document_id", documentID, "err", fmt.Sprint(rec))
			entries = []domain.OutlineEntry{}
		}
	}()
	w := newWalker(reader)
	items := w.items()
	if w.ambiguousHits > 0 {
		slog.Warn("outline destinations matched several pages", "document_id", documentID, "items", w.ambiguousHits)
	}
	if len(items) == 0 {
		slog.Info("no outline found", "document_id", documentID)
		return []domain.OutlineEntry{}
	}
	newID := e.NewID
	if newID == nil {
		newID = func() string { return "" }
	}
	entries = Build(items, totalPages, newID)
	for i := range entries {
		entries[i].DocumentID = documentID
	}
	slog.Info("outline extracted", "document_id", documentID, "entries", len(entries))
	return entries
}

func readMetadata(reader *pdf.Reader) map[string]string {
	info := reader.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return nil
	}
	meta := make(map[string]string)
	for _, key := range info.Keys() {
		v := info.Key(key)
		if v.Kind() != pdf.String {
			continue
		}
		if text := strings.TrimSpace(v.Text()); text != "" {
			meta[key] = text
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

type walker struct {
	root pdf.Value
	// pages maps a page object's key to its 1-based number. Keys seen on
	// more than one page are ambiguous and never resolve.
	pages         map[string]int
	ambiguous     map[string]bool
	ambiguousHits int
	out           []RawItem
	lastPg        int
}

func newWalker(reader *pdf.Reader) *walker {
	root := reader.Trailer().Key("Root")
	w := &walker{root: root, pages: make(map[string]int), ambiguous: make(map[string]bool)}
	n := 0
	var visit func(node pdf.Value, depth int)
	visit = func(node pdf.Value, depth int) {
		if depth > maxDepth {
			return
		}
		switch node.Key("Type").Name() {
		case "Pages":
			kids := node.Key("Kids")
			for i := 0; i < kids.Len(); i++ {
				visit(kids.Index(i), depth+1)
			}
		case "Page":
			n++
			key := pageKey(node)
			if _, dup := w.pages[key]; dup {
				w.ambiguous[key] = true
			} else {
				w.pages[key] = n
			}
		}
	}
	visit(root.Key("Pages"), 0)
	return w
}

func (w *walker) items() []RawItem {
	w.lastPg = 1
	w.walk(w.root.Key("Outlines").Key("First"), 1)
	return w.out
}

func (w *walker) walk(node pdf.Value, level int) {
	if level > maxDepth {
		return
	}
	for ; node.Kind() == pdf.Dict; node = node.Key("Next") {
		if len(w.out) >= maxItems {
			return
		}
		page, ok := w.resolve(node)
		if !ok {
			page = w.lastPg
		}
		w.lastPg = page
		w.out = append(w.out, RawItem{Level: level, Title: node.Key("Title").Text(), Page: page})
		w.walk(node.Key("First"), level+1)
	}
}

// resolve finds the 1-based target page of an outline item.
func (w *walker) resolve(item pdf.Value) (int, bool) {
	dest := item.Key("Dest")
	if dest.IsNull() {
		action := item.Key("A")
		if action.Key("S").Name() != "GoTo" {
			return 0, false
		}
		dest = action.Key("D")
	}
	return w.destPage(dest, 0)
}

func (w *walker) destPage(dest pdf.Value, hops int) (int, bool) {
	if hops > 4 {
		return 0, false
	}
	switch dest.Kind() {
	case pdf.Array:
		target := dest.Index(0)
		switch target.Kind() {
		case pdf.Dict:
			key := pageKey(target)
			if w.ambiguous[key] {
				w.ambiguousHits++
				return 0, false
			}
			page, ok := w.pages[key]
			return page, ok
		case pdf.Integer:
			return int(target.Int64()) + 1, true
		}
		return 0, false
	case pdf.Dict:
		// Named destinations may map to << /D [...] >>.
		return w.destPage(dest.Key("D"), hops+1)
	case pdf.Name:
		return w.destPage(w.root.Key("Dests").Key(dest.Name()), hops+1)
	case pdf.String:
		name := dest.RawString()
		if v, ok := lookupName(w.root.Key("Names").Key("Dests"), name, 0); ok {
			return w.destPage(v, hops+1)
		}
		return w.destPage(w.root.Key("Dests").Key(name), hops+1)
	}
	return 0, false
}

// pageKey identifies a page object. ledongthuc/pdf keeps the indirect
// reference a value was loaded from in an unexported field, which reflect
// can still read. Without it the rendered dictionary is used, which is
// equal for pages with identical dictionaries.
func pageKey(page pdf.Value) string {
	ptr := reflect.ValueOf(page).FieldByName("ptr")
	if ptr.Kind() == reflect.Struct {
		id, gen := ptr.FieldByName("id"), ptr.FieldByName("gen")
		if id.CanUint() && gen.CanUint() && id.Uint() != 0 {
			return fmt.Sprintf("ref:%d.%d", id.Uint(), gen.Uint())
		}
	}
	return "dict:" + page.String()
}

// lookupName searches a PDF name tree.
func lookupName(node pdf.Value, key string, depth int) (pdf.Value, bool) {
	if node.Kind() != pdf.Dict || depth > maxDepth {
		return pdf.Value{}, false
	}
	if names := node.Key("Names"); names.Kind() == pdf.Array {
		for i := 0; i+1 < names.Len(); i += 2 {
			if names.Index(i).RawString() == key {
				return names.Index(i + 1), true
			}
		}
	}
	kids := node.Key("Kids")
	for i := 0; i < kids.Len(); i++ {
		kid := kids.Index(i)
		if limits := kid.Key("Limits"); limits.Len() == 2 {
			if key < limits.Index(0).RawString() || key > limits.Index(1).RawString() {
				continue
			}
		}
		if v, ok := lookupName(kid, key, depth+1); ok {
			return v, true
		}
	}
	return pdf.Value{}, false
}
