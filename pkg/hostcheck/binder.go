// Package hostcheck runs the host language's own checker over emitted
// fragments. The fragment is parsed and type-checked in memory as one more
// file of the package its sibling Go sources declare; nothing is written to
// disk and the build is never involved.
package hostcheck

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	"github.com/tmplhint/tmplhint/pkg/emit"
)

// Host describes the Go surroundings of one template document: the sibling
// sources of its directory and the component binding derived from them.
type Host struct {
	// PackageName is taken from the sibling package clause, or "templates"
	// when the template stands alone.
	PackageName string

	// Files maps sibling file names to their source text.
	Files map[string]string

	// Component is the struct backing this template, nil for template-only
	// documents.
	Component *emit.ComponentRef

	// Resolver resolves component tags and helper names against the
	// sibling package's declarations.
	Resolver emit.Resolver

	// ScriptBacked reports whether a sibling declaration backs this
	// template.
	ScriptBacked bool

	// Muted reports that the document must produce no results at all.
	// Set for script-backed templates when interop is disabled; checking
	// half of such a pair would report against code the user told us not
	// to look at.
	Muted bool
}

// EmitContext adapts the binding into what the emitter consumes.
func (h *Host) EmitContext(ambientThis string) emit.HostContext {
	ctx := emit.HostContext{
		PackageName: h.PackageName,
		Component:   h.Component,
		Resolver:    h.Resolver,
	}
	if h.Component == nil {
		ctx.AmbientThis = ambientThis
	}
	return ctx
}

// BindHost inspects the template's directory and resolves its backing
// declarations. With interop disabled a script-backed document is muted
// entirely and a standalone one keeps checking as template-only.
func BindHost(fsys afero.Fs, templatePath string, interop bool) (*Host, error) {
	host := &Host{PackageName: "templates", Files: map[string]string{}}

	dir := filepath.Dir(templatePath)
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Errorf("reading template directory %q: %w", dir, err)
	}
	files := map[string]string{}
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		src, err := afero.ReadFile(fsys, filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Errorf("reading sibling source %q: %w", name, err)
		}
		files[name] = string(src)
	}

	binder := newPackageBinder(files)
	typeName := ComponentTypeName(templatePath)

	if !interop {
		_, backed := binder.ResolveComponent(typeName)
		host.Muted = backed
		return host, nil
	}

	host.Files = files
	if binder.packageName != "" {
		host.PackageName = binder.packageName
	}
	host.Resolver = binder

	if ref, ok := binder.ResolveComponent(typeName); ok {
		host.Component = &ref
		host.ScriptBacked = true
	}
	return host, nil
}

// ComponentTypeName derives the backing type name from a template path:
// "user-card.hbs" binds to "UserCard".
func ComponentTypeName(templatePath string) string {
	base := filepath.Base(templatePath)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	var b strings.Builder
	upper := true
	for _, r := range base {
		switch {
		case r == '-' || r == '_' || r == ' ':
			upper = true
		case upper:
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// packageBinder resolves names against the parsed sibling declarations.
type packageBinder struct {
	packageName string
	types       map[string]bool
	funcs       map[string]bool
}

func newPackageBinder(files map[string]string) *packageBinder {
	b := &packageBinder{types: map[string]bool{}, funcs: map[string]bool{}}
	fset := token.NewFileSet()
	for name, src := range files {
		// declarations are all the binder needs; full bodies get parsed
		// again at check time. Unparsable siblings contribute nothing,
		// matching how the checker skips them.
		f, err := parser.ParseFile(fset, name, src, parser.SkipObjectResolution)
		if err != nil {
			continue
		}
		b.packageName = f.Name.Name
		for _, decl := range f.Decls {
			switch decl := decl.(type) {
			case *ast.FuncDecl:
				if decl.Recv == nil {
					b.funcs[decl.Name.Name] = true
				}
			case *ast.GenDecl:
				if decl.Tok != token.TYPE {
					continue
				}
				for _, spec := range decl.Specs {
					if ts, ok := spec.(*ast.TypeSpec); ok {
						b.types[ts.Name.Name] = true
					}
				}
			}
		}
	}
	return b
}

func (b *packageBinder) ResolveComponent(name string) (emit.ComponentRef, bool) {
	if !b.types[name] {
		return emit.ComponentRef{}, false
	}
	ref := emit.ComponentRef{TypeName: name}
	if b.types[name+"Args"] {
		ref.ArgsTypeName = name + "Args"
	}
	return ref, true
}

func (b *packageBinder) ResolveHelper(name string) (emit.HelperRef, bool) {
	if !b.funcs[name] {
		return emit.HelperRef{}, false
	}
	return emit.HelperRef{FuncName: name}, true
}
