// Package outline turns a PDF's native bookmarks into page-ranged outline
// entries.
package outline

import (
	"strings"

	"pdfreader/pkg/domain"
)

// RawItem is a bookmark in document order. Page is 1-based; values outside
// the document are clamped by Build.
type RawItem struct {
	Level int
	Title string
	Page  int
}

// Build assigns ids, parents, and page ranges to a flat bookmark list.
// Every entry ends up with 1 <= PageFrom <= PageTo <= totalPages.
func Build(items []RawItem, totalPages int, newID func() string) []domain.OutlineEntry {
	if len(items) == 0 {
		return []domain.OutlineEntry{}
	}
	if totalPages < 1 {
		totalPages = 1
	}
	entries := make([]domain.OutlineEntry, len(items))

	type frame struct {
		index int
		level int
	}
	var parents []frame
	for i, item := range items {
		level := max(item.Level, 1)
		for len(parents) > 0 && parents[len(parents)-1].level >= level {
			parents = parents[:len(parents)-1]
		}
		parentID := ""
		if len(parents) > 0 {
			parentID = entries[parents[len(parents)-1].index].ID
		}
		entries[i] = domain.OutlineEntry{
			ID:         newID(),
			Title:      strings.TrimSpace(item.Title),
			Level:      level,
			PageFrom:   clamp(item.Page, 1, totalPages),
			ParentID:   parentID,
			OrderIndex: i,
		}
		parents = append(parents, frame{index: i, level: level})
	}

	// An entry closes when a later entry at its level or shallower starts.
	var open []int
	for i := range entries {
		for len(open) > 0 && entries[open[len(open)-1]].Level >= entries[i].Level {
			j := open[len(open)-1]
			open = open[:len(open)-1]
			entries[j].PageTo = max(entries[j].PageFrom, entries[i].PageFrom-1)
		}
		open = append(open, i)
	}
	for _, j := range open {
		entries[j].PageTo = totalPages
	}
	return entries
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Node is an entry with the indexes of its children.
type Node struct {
	Entry    domain.OutlineEntry
	Children []int
}

// Tree is an index-based view of an outline: entries live in Nodes and
// reference each other by position.
type Tree struct {
	Nodes []Node
	Roots []int
}

// NewTree links entries by ParentID in one pass. Entries whose parent is
// missing become roots.
func NewTree(entries []domain.OutlineEntry) Tree {
	t := Tree{Nodes: make([]Node, len(entries)), Roots: []int{}}
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		t.Nodes[i] = Node{Entry: e}
		index[e.ID] = i
	}
	for i, e := range entries {
		if p, ok := index[e.ParentID]; ok && e.ParentID != "" && p != i {
			t.Nodes[p].Children = append(t.Nodes[p].Children, i)
			continue
		}
		t.Roots = append(t.Roots, i)
	}
	return t
}

// NestedEntry is the JSON shape of a tree node.
type NestedEntry struct {
	domain.OutlineEntry
	Children []NestedEntry `json:"children,omitempty"`
}

// Nested renders the tree for API responses.
func (t Tree) Nested() []NestedEntry {
	var render func(i int, depth int) NestedEntry
	render = func(i int, depth int) NestedEntry {
		n := t.Nodes[i]
		out := NestedEntry{OutlineEntry: n.Entry}
		if depth >= maxDepth {
			return out
		}
		for _, c := range n.Children {
			out.Children = append(out.Children, render(c, depth+1))
		}
		return out
	}
	res := make([]NestedEntry, 0, len(t.Roots))
	for _, r := range t.Roots {
		res = append(res, render(r, 0))
	}
	return res
}
