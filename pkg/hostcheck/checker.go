package hostcheck

import (
	"context"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tmplhint/tmplhint/pkg/position"
)

// Diagnostic is a type error located in fragment offsets.
type Diagnostic struct {
	Span    position.Span
	Message string
}

// Location addresses a span inside one of the checked files: the fragment
// or a sibling Go source.
type Location struct {
	File string
	Span position.Span
}

// TypeInfo is what hover needs about an identifier in the fragment.
type TypeInfo struct {
	// Ident is the identifier's span in the fragment.
	Ident position.Span
	Name  string
	Type  string
	// Doc is the declaration comment of the identifier's object, empty
	// when it has none.
	Doc string
}

// Analysis is a completed type-check of one fragment against its sibling
// sources. It answers point queries in fragment offsets; translation to
// template coordinates is the caller's concern.
type Analysis struct {
	fset     *token.FileSet
	pkg      *types.Package
	info     *types.Info
	files    map[string]*ast.File
	fragName string
	diags    []Diagnostic
}

// Analyze parses the fragment together with its sibling sources and runs
// the type checker over the combined package. Type errors do not fail the
// call; they become the analysis' diagnostics.
func Analyze(ctx context.Context, pkgName, fragName, fragText string, siblings map[string]string) (*Analysis, error) {
	a := &Analysis{
		fset:     token.NewFileSet(),
		fragName: fragName,
		files:    map[string]*ast.File{},
		info: &types.Info{
			Types:      map[ast.Expr]types.TypeAndValue{},
			Defs:       map[*ast.Ident]types.Object{},
			Uses:       map[*ast.Ident]types.Object{},
			Selections: map[*ast.SelectorExpr]*types.Selection{},
		},
	}

	var ordered []string
	for name := range siblings {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	var astFiles []*ast.File
	for _, name := range ordered {
		f, err := parser.ParseFile(a.fset, name, siblings[name], parser.ParseComments)
		if err != nil {
			// a broken sibling is the user's in-progress Go edit; checking
			// proceeds without it
			zerolog.Ctx(ctx).Debug().Err(err).Str("file", name).Msg("skipping unparsable sibling")
			continue
		}
		a.files[name] = f
		astFiles = append(astFiles, f)
	}

	fragAST, err := parser.ParseFile(a.fset, fragName, fragText, parser.ParseComments)
	if err != nil {
		// the emitter promises parsable fragments; if that still breaks,
		// the document gets one whole-fragment problem instead of losing
		// hover and diagnostics wholesale
		zerolog.Ctx(ctx).Warn().Err(err).Str("fragment", fragName).Msg("fragment failed to parse")
		a.diags = append(a.diags, Diagnostic{
			Span:    position.NewSpan(0, len(fragText)),
			Message: "template could not be analyzed: " + err.Error(),
		})
		return a, nil
	}
	a.files[fragName] = fragAST
	astFiles = append(astFiles, fragAST)

	conf := types.Config{
		Importer: importer.Default(),
		Error:    a.collectError,
	}
	pkg, _ := conf.Check(pkgName, a.fset, astFiles, a.info)
	a.pkg = pkg

	zerolog.Ctx(ctx).Trace().
		Str("fragment", fragName).
		Int("siblings", len(ordered)).
		Int("diagnostics", len(a.diags)).
		Msg("fragment checked")
	return a, nil
}

func (a *Analysis) collectError(err error) {
	terr, ok := err.(types.Error)
	if !ok {
		return
	}
	pos := terr.Fset.Position(terr.Pos)
	if pos.Filename != a.fragName {
		return
	}
	a.diags = append(a.diags, Diagnostic{
		Span:    a.widen(terr.Pos),
		Message: terr.Msg,
	})
}

// widen grows a point error position to the smallest covering identifier or
// selector so the reported range is a whole token.
func (a *Analysis) widen(pos token.Pos) position.Span {
	f := a.files[a.fragName]
	var best ast.Node
	ast.Inspect(f, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		if pos < n.Pos() || pos >= n.End() {
			return false
		}
		// descent visits nested nodes after their parents, so the last
		// match is the smallest covering one
		switch n.(type) {
		case *ast.Ident, *ast.SelectorExpr, *ast.BasicLit:
			best = n
		}
		return true
	})
	if best == nil {
		off := a.offsetOf(pos)
		return position.NewSpan(off, off)
	}
	return position.NewSpan(a.offsetOf(best.Pos()), a.offsetOf(best.End()))
}

// Diagnostics returns the fragment's type errors in report order.
func (a *Analysis) Diagnostics() []Diagnostic {
	return a.diags
}

func (a *Analysis) tokenFile(name string) *token.File {
	f, ok := a.files[name]
	if !ok {
		return nil
	}
	return a.fset.File(f.Pos())
}

func (a *Analysis) posIn(name string, offset int) token.Pos {
	tf := a.tokenFile(name)
	if tf == nil || offset < 0 || offset > tf.Size() {
		return token.NoPos
	}
	return tf.Pos(offset)
}

func (a *Analysis) offsetOf(pos token.Pos) int {
	return a.fset.Position(pos).Offset
}

// identAt finds the identifier at a fragment offset. An offset sitting at
// the end boundary of an identifier still addresses it.
func (a *Analysis) identAt(name string, offset int) *ast.Ident {
	f, ok := a.files[name]
	if !ok {
		return nil
	}
	pos := a.posIn(name, offset)
	if !pos.IsValid() {
		return nil
	}
	var inside, ending *ast.Ident
	ast.Inspect(f, func(n ast.Node) bool {
		id, ok := n.(*ast.Ident)
		if !ok {
			return true
		}
		if id.Pos() <= pos && pos < id.End() {
			inside = id
		} else if pos == id.End() {
			ending = id
		}
		return true
	})
	if inside != nil {
		return inside
	}
	return ending
}

func (a *Analysis) objectAt(offset int) (*ast.Ident, types.Object) {
	id := a.identAt(a.fragName, offset)
	if id == nil {
		return nil, nil
	}
	return id, a.info.ObjectOf(id)
}

// TypeAt reports the type and documentation of the identifier at a
// fragment offset.
func (a *Analysis) TypeAt(offset int) (TypeInfo, bool) {
	id, obj := a.objectAt(offset)
	if id == nil {
		return TypeInfo{}, false
	}
	ti := TypeInfo{
		Ident: position.NewSpan(a.offsetOf(id.Pos()), a.offsetOf(id.End())),
		Name:  id.Name,
	}
	switch {
	case obj != nil && obj.Type() != nil:
		ti.Type = types.TypeString(obj.Type(), types.RelativeTo(a.pkg))
		ti.Doc = a.docOf(obj)
	default:
		tv, ok := a.info.Types[id]
		if !ok || tv.Type == nil {
			return TypeInfo{}, false
		}
		ti.Type = types.TypeString(tv.Type, types.RelativeTo(a.pkg))
	}
	return ti, true
}

// DefinitionAt resolves the identifier at a fragment offset to its
// declaration site. Universe names (any, nil, true) have none.
func (a *Analysis) DefinitionAt(offset int) (Location, bool) {
	_, obj := a.objectAt(offset)
	if obj == nil || !obj.Pos().IsValid() {
		return Location{}, false
	}
	p := a.fset.Position(obj.Pos())
	if _, known := a.files[p.Filename]; !known {
		// declared in an imported package, out of reach for the template
		return Location{}, false
	}
	return Location{
		File: p.Filename,
		Span: position.NewSpan(p.Offset, p.Offset+len(obj.Name())),
	}, true
}

// ReferencesAt lists every identifier in the checked package resolving to
// the same object as the one at the given fragment offset. The declaration
// itself is included when includeDecl is set.
func (a *Analysis) ReferencesAt(offset int, includeDecl bool) []Location {
	_, obj := a.objectAt(offset)
	if obj == nil {
		return nil
	}
	var out []Location
	for name, f := range a.files {
		ast.Inspect(f, func(n ast.Node) bool {
			id, ok := n.(*ast.Ident)
			if !ok {
				return true
			}
			if a.info.ObjectOf(id) != obj {
				return true
			}
			if !includeDecl && a.info.Defs[id] == obj {
				return true
			}
			out = append(out, Location{
				File: name,
				Span: position.NewSpan(a.offsetOf(id.Pos()), a.offsetOf(id.End())),
			})
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Span.Start < out[j].Span.Start
	})
	return out
}

// docOf finds the declaration comment attached to an object's definition.
func (a *Analysis) docOf(obj types.Object) string {
	if obj == nil || !obj.Pos().IsValid() {
		return ""
	}
	p := a.fset.Position(obj.Pos())
	f, ok := a.files[p.Filename]
	if !ok {
		return ""
	}
	var doc string
	ast.Inspect(f, func(n ast.Node) bool {
		if n == nil || doc != "" {
			return false
		}
		switch n := n.(type) {
		case *ast.FuncDecl:
			if n.Name.Pos() == obj.Pos() {
				doc = n.Doc.Text()
				return false
			}
		case *ast.GenDecl:
			for _, spec := range n.Specs {
				switch spec := spec.(type) {
				case *ast.TypeSpec:
					if spec.Name.Pos() == obj.Pos() {
						doc = firstOf(spec.Doc.Text(), n.Doc.Text())
						return false
					}
				case *ast.ValueSpec:
					for _, name := range spec.Names {
						if name.Pos() == obj.Pos() {
							doc = firstOf(spec.Doc.Text(), n.Doc.Text())
							return false
						}
					}
				}
			}
		case *ast.Field:
			for _, name := range n.Names {
				if name.Pos() == obj.Pos() {
					doc = firstOf(n.Doc.Text(), n.Comment.Text())
					return false
				}
			}
		}
		return true
	})
	return strings.TrimSpace(doc)
}

func firstOf(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
