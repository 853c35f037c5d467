// Package sourcemap provides the bidirectional range correspondence between
// an emitted fragment and the original documents it was generated from.
package sourcemap

import (
	"sort"

	"github.com/tmplhint/tmplhint/pkg/position"
)

// Kind classifies a mapping entry. Transparent fragment text is a faithful
// rendition of user-authored text and may be surfaced; Synthetic text is
// scaffolding that must never reach the user.
type Kind uint8

const (
	Transparent Kind = iota
	Synthetic
)

func (k Kind) String() string {
	if k == Synthetic {
		return "synthetic"
	}
	return "transparent"
}

// Entry maps one fragment span to one original span.
type Entry struct {
	Fragment position.Span
	Original position.Span
	Doc      string
	Kind     Kind
}

// Builder accumulates entries in fragment order while the emitter writes.
type Builder struct {
	entries []Entry
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Add(e Entry) {
	b.entries = append(b.entries, e)
}

// Build freezes the accumulated entries into a queryable map. Lookups
// require the entries sorted by fragment start, so Build sorts rather
// than trusting insertion order.
func (b *Builder) Build() *Map {
	byFragment := make([]Entry, len(b.entries))
	copy(byFragment, b.entries)
	sort.SliceStable(byFragment, func(i, j int) bool {
		return byFragment[i].Fragment.Start < byFragment[j].Fragment.Start
	})

	byOriginal := make([]int, len(byFragment))
	for i := range byOriginal {
		byOriginal[i] = i
	}
	sort.SliceStable(byOriginal, func(i, j int) bool {
		a, b := byFragment[byOriginal[i]], byFragment[byOriginal[j]]
		if a.Doc != b.Doc {
			return a.Doc < b.Doc
		}
		return a.Original.Start < b.Original.Start
	})

	return &Map{byFragment: byFragment, byOriginal: byOriginal}
}

// Map answers point and range queries in both directions. It is immutable:
// every re-emit builds a fresh map.
type Map struct {
	byFragment []Entry
	byOriginal []int
}

// Entries returns all entries in fragment order.
func (m *Map) Entries() []Entry {
	return m.byFragment
}

// EntryAtFragment finds the entry covering a fragment offset. At a boundary
// where one entry ends exactly where another starts, the ending entry wins
// (end-of-token hover semantics).
func (m *Map) EntryAtFragment(offset int) (Entry, bool) {
	// first entry starting after offset
	i := sort.Search(len(m.byFragment), func(i int) bool {
		return m.byFragment[i].Fragment.Start > offset
	})
	// a Transparent entry ending exactly at offset wins over the entry
	// starting there (end-of-token hover); Synthetic endings never do
	for j := i - 1; j >= 0; j-- {
		e := m.byFragment[j]
		if e.Fragment.EndsAt(offset) && e.Kind == Transparent {
			return e, true
		}
		if e.Fragment.End < offset {
			break
		}
	}
	for j := i - 1; j >= 0; j-- {
		e := m.byFragment[j]
		if e.Fragment.Contains(offset) {
			return e, true
		}
		if e.Fragment.End < offset {
			break
		}
	}
	return Entry{}, false
}

// EntryAtOriginal finds the entry covering an original-document offset, with
// the same end-of-token tie-break as EntryAtFragment.
func (m *Map) EntryAtOriginal(doc string, offset int) (Entry, bool) {
	i := sort.Search(len(m.byOriginal), func(i int) bool {
		e := m.byFragment[m.byOriginal[i]]
		if e.Doc != doc {
			return e.Doc > doc
		}
		return e.Original.Start > offset
	})
	for j := i - 1; j >= 0; j-- {
		e := m.byFragment[m.byOriginal[j]]
		if e.Doc != doc {
			break
		}
		if e.Original.EndsAt(offset) && e.Kind == Transparent {
			return e, true
		}
	}
	// several fragment spans may anchor to the same original span (a block
	// param is both copied and guarded); the Transparent one wins
	var fallback Entry
	haveFallback := false
	for j := i - 1; j >= 0; j-- {
		e := m.byFragment[m.byOriginal[j]]
		if e.Doc != doc {
			break
		}
		if !e.Original.Contains(offset) {
			continue
		}
		if e.Kind == Transparent {
			return e, true
		}
		if !haveFallback {
			fallback, haveFallback = e, true
		}
	}
	return fallback, haveFallback
}

// ToFragment projects an original offset into the fragment. Synthetic
// entries project to their fragment start; Transparent entries preserve the
// offset delta (their texts are verbatim copies).
func (m *Map) ToFragment(doc string, offset int) (int, Kind, bool) {
	e, ok := m.EntryAtOriginal(doc, offset)
	if !ok {
		return 0, 0, false
	}
	if e.Kind == Synthetic {
		return e.Fragment.Start, Synthetic, true
	}
	return e.Fragment.Start + (offset - e.Original.Start), Transparent, true
}

// ToOriginal projects a fragment offset back into its original document.
func (m *Map) ToOriginal(offset int) (string, int, Kind, bool) {
	e, ok := m.EntryAtFragment(offset)
	if !ok {
		return "", 0, 0, false
	}
	if e.Kind == Synthetic {
		return e.Doc, e.Original.Start, Synthetic, true
	}
	delta := offset - e.Fragment.Start
	if delta > e.Original.Len() {
		delta = e.Original.Len()
	}
	return e.Doc, e.Original.Start + delta, Transparent, true
}

// OriginalSpan maps a fragment span back to an original span. The result is
// clipped to the Transparent entries it intersects; a span that lies
// entirely in Synthetic or unmapped territory reports ok=false.
func (m *Map) OriginalSpan(frag position.Span) (string, position.Span, bool) {
	doc := ""
	out := position.Span{}
	found := false
	for _, e := range m.byFragment {
		if e.Kind != Transparent || !e.Fragment.Overlaps(frag) {
			continue
		}
		clipped := frag.Clip(e.Fragment)
		start := e.Original.Start + (clipped.Start - e.Fragment.Start)
		span := position.NewSpan(start, start+clipped.Len())
		if !found {
			doc, out, found = e.Doc, span, true
			continue
		}
		if e.Doc != doc {
			continue
		}
		if span.Start < out.Start {
			out.Start = span.Start
		}
		if span.End > out.End {
			out.End = span.End
		}
	}
	if !found || out.Len() == 0 {
		return "", position.Span{}, false
	}
	return doc, out, true
}

// FragmentSpan maps an original span into the fragment, clipped to the
// Transparent entries covering it.
func (m *Map) FragmentSpan(doc string, orig position.Span) (position.Span, bool) {
	out := position.Span{}
	found := false
	for _, e := range m.byFragment {
		if e.Kind != Transparent || e.Doc != doc || !e.Original.Overlaps(orig) {
			continue
		}
		clipped := orig.Clip(e.Original)
		start := e.Fragment.Start + (clipped.Start - e.Original.Start)
		span := position.NewSpan(start, start+clipped.Len())
		if !found {
			out, found = span, true
			continue
		}
		if span.Start < out.Start {
			out.Start = span.Start
		}
		if span.End > out.End {
			out.End = span.End
		}
	}
	return out, found
}

// NearestTransparent widens a fragment offset landing in Synthetic
// territory to the closest enclosing or preceding Transparent entry.
func (m *Map) NearestTransparent(offset int) (Entry, bool) {
	i := sort.Search(len(m.byFragment), func(i int) bool {
		return m.byFragment[i].Fragment.Start > offset
	})
	for j := i - 1; j >= 0; j-- {
		if m.byFragment[j].Kind == Transparent {
			return m.byFragment[j], true
		}
	}
	for j := i; j < len(m.byFragment); j++ {
		if m.byFragment[j].Kind == Transparent {
			return m.byFragment[j], true
		}
	}
	return Entry{}, false
}
