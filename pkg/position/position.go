// Package position provides byte-offset spans and line/column conversion
// for template and fragment documents.
package position

import "fmt"

// Place is a zero-based line/character pair, the coordinate system used by
// editors.
type Place struct {
	Line      int
	Character int
}

// Span is a half-open byte range [Start, End) in a document.
type Span struct {
	Start int
	End   int
}

func NewSpan(start, end int) Span {
	return Span{Start: start, End: end}
}

func (s Span) Len() int {
	return s.End - s.Start
}

func (s Span) IsZero() bool {
	return s.Start == 0 && s.End == 0
}

// Contains reports whether offset falls inside the span. A zero-width span
// contains only its own start offset.
func (s Span) Contains(offset int) bool {
	if s.Len() == 0 {
		return offset == s.Start
	}
	return offset >= s.Start && offset < s.End
}

// EndsAt reports whether the span's end coincides with offset. Used for the
// end-of-token tie-break when two entries touch at a boundary.
func (s Span) EndsAt(offset int) bool {
	return s.End == offset && s.Len() > 0
}

// Overlaps reports whether two spans share at least one offset. Zero-width
// spans overlap a span that contains their start.
func (s Span) Overlaps(o Span) bool {
	if s.Len() == 0 {
		return o.Start <= s.Start && s.Start <= o.End
	}
	if o.Len() == 0 {
		return s.Start <= o.Start && o.Start <= s.End
	}
	return s.Start < o.End && o.Start < s.End
}

// Covers reports whether o lies entirely inside s.
func (s Span) Covers(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// Clip returns the portion of s that lies inside bounds.
func (s Span) Clip(bounds Span) Span {
	out := s
	if out.Start < bounds.Start {
		out.Start = bounds.Start
	}
	if out.End > bounds.End {
		out.End = bounds.End
	}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// PlaceOf calculates the zero-based line and character for a byte offset.
func PlaceOf(text string, offset int) Place {
	if offset > len(text) {
		offset = len(text)
	}
	line := 0
	lastNewline := -1
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
			lastNewline = i
		}
	}
	return Place{Line: line, Character: offset - lastNewline - 1}
}

// OffsetOf converts a zero-based line/character place back into a byte
// offset. Places beyond the end of the text clamp to len(text).
func OffsetOf(text string, p Place) int {
	offset := 0
	line := 0
	for line < p.Line && offset < len(text) {
		if text[offset] == '\n' {
			line++
		}
		offset++
	}
	offset += p.Character
	if offset > len(text) {
		offset = len(text)
	}
	return offset
}
