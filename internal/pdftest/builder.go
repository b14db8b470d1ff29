// Package pdftest writes small, valid PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Item is one outline entry. Page is 1-based; 0 leaves the entry without a
// destination. Named routes the destination through the catalog's /Dests
// dictionary, Action wraps it in a /GoTo action.
type Item struct {
	Title    string
	Page     int
	Named    string
	Action   bool
	Children []Item
}

// Doc describes the file to build.
type Doc struct {
	Pages   []string
	Outline []Item
	Info    map[string]string
	// OmitEmptyContents writes pages with empty text without a /Contents
	// stream, so their dictionaries are identical.
	OmitEmptyContents bool
}

type builder struct {
	objs [][]byte
}

func (b *builder) alloc() int {
	b.objs = append(b.objs, nil)
	return len(b.objs)
}

func (b *builder) set(id int, body string) {
	b.objs[id-1] = []byte(body)
}

// Build renders doc as PDF bytes with a classic xref table.
func Build(doc Doc) []byte {
	b := &builder{}
	catalog := b.alloc()
	pagesID := b.alloc()
	font := b.alloc()
	b.set(font, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	pageIDs := make([]int, len(doc.Pages))
	for i, text := range doc.Pages {
		pageID := b.alloc()
		pageIDs[i] = pageID
		if text == "" && doc.OmitEmptyContents {
			b.set(pageID, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> >>", pagesID, font))
			continue
		}
		contentID := b.alloc()
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escape(text))
		b.set(contentID, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
		b.set(pageID, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", pagesID, font, contentID))
	}
	kids := make([]string, len(pageIDs))
	for i, id := range pageIDs {
		kids[i] = fmt.Sprintf("%d 0 R", id)
	}
	b.set(pagesID, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pageIDs)))

	named := map[string]string{}
	dest := func(page int) string {
		if page < 1 || page > len(pageIDs) {
			return ""
		}
		return fmt.Sprintf("[%d 0 R /XYZ 0 792 0]", pageIDs[page-1])
	}

	var writeItems func(parent int, items []Item) (first, last int)
	writeItems = func(parent int, items []Item) (int, int) {
		ids := make([]int, len(items))
		for i := range items {
			ids[i] = b.alloc()
		}
		for i, item := range items {
			var sb strings.Builder
			fmt.Fprintf(&sb, "<< /Title (%s) /Parent %d 0 R", escape(item.Title), parent)
			if i > 0 {
				fmt.Fprintf(&sb, " /Prev %d 0 R", ids[i-1])
			}
			if i < len(items)-1 {
				fmt.Fprintf(&sb, " /Next %d 0 R", ids[i+1])
			}
			if len(item.Children) > 0 {
				first, last := writeItems(ids[i], item.Children)
				fmt.Fprintf(&sb, " /First %d 0 R /Last %d 0 R /Count %d", first, last, len(item.Children))
			}
			target := dest(item.Page)
			if item.Named != "" && target != "" {
				named[item.Named] = target
				target = "/" + item.Named
			}
			if target != "" {
				if item.Action {
					fmt.Fprintf(&sb, " /A << /S /GoTo /D %s >>", target)
				} else {
					fmt.Fprintf(&sb, " /Dest %s", target)
				}
			}
			sb.WriteString(" >>")
			b.set(ids[i], sb.String())
		}
		return ids[0], ids[len(ids)-1]
	}

	catalogBody := fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R", pagesID)
	if len(doc.Outline) > 0 {
		root := b.alloc()
		first, last := writeItems(root, doc.Outline)
		b.set(root, fmt.Sprintf("<< /Type /Outlines /First %d 0 R /Last %d 0 R /Count %d >>", first, last, len(doc.Outline)))
		catalogBody += fmt.Sprintf(" /Outlines %d 0 R", root)
	}
	if len(named) > 0 {
		keys := make([]string, 0, len(named))
		for k := range named {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("<<")
		for _, k := range keys {
			fmt.Fprintf(&sb, " /%s %s", k, named[k])
		}
		sb.WriteString(" >>")
		dests := b.alloc()
		b.set(dests, sb.String())
		catalogBody += fmt.Sprintf(" /Dests %d 0 R", dests)
	}
	b.set(catalog, catalogBody+" >>")

	info := 0
	if len(doc.Info) > 0 {
		keys := make([]string, 0, len(doc.Info))
		for k := range doc.Info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("<<")
		for _, k := range keys {
			fmt.Fprintf(&sb, " /%s (%s)", k, escape(doc.Info[k]))
		}
		sb.WriteString(" >>")
		info = b.alloc()
		b.set(info, sb.String())
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(b.objs))
	for i, body := range b.objs {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(b.objs)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root %d 0 R", len(b.objs)+1, catalog)
	if info != 0 {
		fmt.Fprintf(&out, " /Info %d 0 R", info)
	}
	fmt.Fprintf(&out, " >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return out.Bytes()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
