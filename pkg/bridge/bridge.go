// Package bridge answers editor queries about template documents. Every
// query runs the same way: translate the template position into the emitted
// fragment, ask the host checker, and translate the answer back. Positions
// that land in synthetic scaffolding produce no answer rather than a wrong
// one.
package bridge

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tmplhint/tmplhint/pkg/emit"
	"github.com/tmplhint/tmplhint/pkg/hostcheck"
	"github.com/tmplhint/tmplhint/pkg/parser"
	"github.com/tmplhint/tmplhint/pkg/position"
	"github.com/tmplhint/tmplhint/pkg/sourcemap"
)

// Snapshot is one fully processed template document: parsed, emitted and
// checked. It is immutable; an edit produces a new snapshot. A muted
// document carries only its source, with Fragment and Analysis nil.
type Snapshot struct {
	Doc      string
	Source   string
	Template *parser.Template
	Syntax   []parser.SyntaxDiagnostic
	Fragment *emit.Fragment
	Analysis *hostcheck.Analysis
	FragName string
	Host     *hostcheck.Host
}

// Build processes a template document against its host binding.
func Build(ctx context.Context, doc, source string, host *hostcheck.Host, ambientThis string) (*Snapshot, error) {
	if host.Muted {
		// interop is off and a script backs this template: no checking,
		// no answers, for either side of the pair
		zerolog.Ctx(ctx).Debug().Str("doc", doc).Msg("document muted by configuration")
		return &Snapshot{Doc: doc, Source: source, Host: host}, nil
	}

	tpl, syntax := parser.Parse(doc, source)
	frag := emit.Emit(doc, tpl, host.EmitContext(ambientThis))
	fragName := filepath.Base(doc) + ".go"

	analysis, err := hostcheck.Analyze(ctx, host.PackageName, fragName, frag.Text, host.Files)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("doc", doc).
		Int("fragment_bytes", len(frag.Text)).
		Int("syntax_diagnostics", len(syntax)).
		Msg("snapshot built")

	return &Snapshot{
		Doc:      doc,
		Source:   source,
		Template: tpl,
		Syntax:   syntax,
		Fragment: frag,
		Analysis: analysis,
		FragName: fragName,
		Host:     host,
	}, nil
}

// Hover is the answer to a hover query, located in template coordinates.
type Hover struct {
	// Name is the hovered token as the template spells it.
	Name string
	Type string
	Doc  string
	Span position.Span
}

// HoverAt reports type information for the template offset. Offsets over
// markup, comments or scaffolding report ok=false.
func (s *Snapshot) HoverAt(offset int) (Hover, bool) {
	if s.Fragment == nil {
		return Hover{}, false
	}
	fragOff, kind, ok := s.Fragment.Map.ToFragment(s.Doc, offset)
	if !ok || kind == sourcemap.Synthetic {
		return Hover{}, false
	}
	ti, ok := s.Analysis.TypeAt(fragOff)
	if !ok {
		return Hover{}, false
	}

	h := Hover{Name: ti.Name, Type: ti.Type, Doc: ti.Doc}
	// the receiver alias renders back as the keyword the user wrote
	if h.Name == "self" {
		h.Name = "this"
	}
	if _, span, ok := s.Fragment.Map.OriginalSpan(ti.Ident); ok {
		h.Span = span
	} else if e, ok := s.Fragment.Map.EntryAtOriginal(s.Doc, offset); ok {
		h.Span = e.Original
	} else {
		h.Span = position.NewSpan(offset, offset)
	}
	return h, true
}

// Diagnostic is a problem in the template document.
type Diagnostic struct {
	Span    position.Span
	Message string
	// Source distinguishes template syntax problems from host type errors.
	Source string
}

const (
	SourceSyntax = "syntax"
	SourceTypes  = "types"
)

// Diagnostics merges template syntax problems with the host checker's type
// errors, the latter translated back to template spans. Errors confined to
// scaffolding with no user-visible anchor are dropped.
func (s *Snapshot) Diagnostics() []Diagnostic {
	if s.Fragment == nil {
		return nil
	}
	var out []Diagnostic
	for _, d := range s.Syntax {
		out = append(out, Diagnostic{Span: d.Loc, Message: d.Message, Source: SourceSyntax})
	}
	for _, d := range s.Analysis.Diagnostics() {
		span, ok := s.mapDiagSpan(d.Span)
		if !ok {
			continue
		}
		out = append(out, Diagnostic{Span: span, Message: d.Message, Source: SourceTypes})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.Start != out[j].Span.Start {
			return out[i].Span.Start < out[j].Span.Start
		}
		return out[i].Message < out[j].Message
	})
	return dedupe(out)
}

// mapDiagSpan translates a fragment error span to the template, clipped to
// its Transparent portion. A span that touches no user-authored text is
// suppressed outright; anchoring it to some nearby token would blame text
// that is not at fault.
func (s *Snapshot) mapDiagSpan(span position.Span) (position.Span, bool) {
	_, orig, ok := s.Fragment.Map.OriginalSpan(span)
	return orig, ok
}

func dedupe(in []Diagnostic) []Diagnostic {
	out := in[:0]
	for i, d := range in {
		if i > 0 && d == in[i-1] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Location addresses either a span in the template document or one in a
// sibling Go source.
type Location struct {
	// Template reports whether Path is the template document itself.
	Template bool
	Path     string
	Span     position.Span
}

// DefinitionAt resolves the reference at a template offset to its
// declaration: a sibling Go declaration for host members, or a template
// span for names the template itself binds.
func (s *Snapshot) DefinitionAt(offset int) (Location, bool) {
	if s.Fragment == nil {
		return Location{}, false
	}
	fragOff, kind, ok := s.Fragment.Map.ToFragment(s.Doc, offset)
	if !ok || kind == sourcemap.Synthetic {
		return Location{}, false
	}
	loc, ok := s.Analysis.DefinitionAt(fragOff)
	if !ok {
		return Location{}, false
	}
	return s.mapLocation(loc)
}

// ReferencesAt lists every use of the referenced object, across the
// template and the sibling sources.
func (s *Snapshot) ReferencesAt(offset int, includeDecl bool) []Location {
	if s.Fragment == nil {
		return nil
	}
	fragOff, kind, ok := s.Fragment.Map.ToFragment(s.Doc, offset)
	if !ok || kind == sourcemap.Synthetic {
		return nil
	}
	var out []Location
	for _, ref := range s.Analysis.ReferencesAt(fragOff, includeDecl) {
		loc, ok := s.mapLocation(ref)
		if !ok {
			continue
		}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Span.Start < out[j].Span.Start
	})
	return dedupeLocations(out)
}

func (s *Snapshot) mapLocation(loc hostcheck.Location) (Location, bool) {
	if loc.File != s.FragName {
		return Location{Path: loc.File, Span: loc.Span}, true
	}
	if _, span, ok := s.Fragment.Map.OriginalSpan(loc.Span); ok {
		return Location{Template: true, Path: s.Doc, Span: span}, true
	}
	// the object lives in scaffolding (a prologue declaration); widen to
	// the nearest Transparent entry, typically the name's first use
	if e, ok := s.Fragment.Map.NearestTransparent(loc.Span.Start); ok {
		return Location{Template: true, Path: s.Doc, Span: e.Original}, true
	}
	return Location{}, false
}

func dedupeLocations(in []Location) []Location {
	out := in[:0]
	for i, l := range in {
		if i > 0 && l == in[i-1] {
			continue
		}
		out = append(out, l)
	}
	return out
}
