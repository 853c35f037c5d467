// Package emit translates a template AST into a type-checkable Go fragment
// while recording the bidirectional position map between the two.
package emit

import (
	"go/token"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmplhint/tmplhint/pkg/parser"
	"github.com/tmplhint/tmplhint/pkg/position"
	"github.com/tmplhint/tmplhint/pkg/sourcemap"
)

// Fragment is the synthetic Go text generated for one template document,
// plus the position map that makes it addressable in original coordinates.
// Fragments are ephemeral: rebuilt on every edit, never written to disk.
type Fragment struct {
	Doc  string
	Text string
	Map  *sourcemap.Map
}

// RenderFuncName is the name of the synthetic method/function holding the
// emitted template body.
const RenderFuncName = "__render"

// Emit translates a parsed template into a Go fragment. It never fails:
// constructs that cannot be resolved degrade to any-typed placeholders so
// that the rest of the document keeps its type information. Emission is
// deterministic: the same AST and host context produce byte-identical
// output.
func Emit(doc string, tpl *parser.Template, host HostContext) *Fragment {
	e := &emitter{
		doc:  doc,
		host: host,
		sm:   sourcemap.NewBuilder(),
		use:  scanTemplate(tpl, host),
	}
	e.prologue()
	e.nodes(tpl.Nodes)
	e.raw("\n}\n")
	return &Fragment{Doc: doc, Text: e.buf.String(), Map: e.sm.Build()}
}

// scopeKind records whether a bound name carries a real inferred type
// (each/let bindings) or degraded to any (element yields, unknown helpers).
// Member access through an any-typed binding cannot type-check and is
// wrapped instead of emitted.
type scopeKind bool

const (
	scopeTyped scopeKind = true
	scopeAny   scopeKind = false
)

type emitter struct {
	doc    string
	host   HostContext
	buf    strings.Builder
	sm     *sourcemap.Builder
	use    *usage
	scopes []map[string]scopeKind
	indent int
}

var goIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// goIdent reports whether a template name can appear in the fragment as a
// Go identifier. Keywords are legal template names (`type`, `range`,
// `default`) but would break the fragment's parse, so they take the same
// degrade path as punctuation-laden names.
func goIdent(name string) bool {
	return !token.IsKeyword(name) && goIdentRe.MatchString(name)
}

func (e *emitter) off() int {
	return e.buf.Len()
}

func (e *emitter) raw(s string) {
	e.buf.WriteString(s)
}

// syn writes scaffolding text anchored at an original span; it is never
// surfaced to the user.
func (e *emitter) syn(s string, anchor position.Span) {
	start := e.off()
	e.buf.WriteString(s)
	e.sm.Add(sourcemap.Entry{
		Fragment: position.NewSpan(start, e.off()),
		Original: anchor,
		Doc:      e.doc,
		Kind:     sourcemap.Synthetic,
	})
}

// lit writes user-equivalent text mapped transparently onto its original
// span. Caller guarantees the emitted text stands for orig byte-for-byte;
// equal lengths keep within-entry offset deltas exact.
func (e *emitter) lit(s string, orig position.Span) {
	start := e.off()
	e.buf.WriteString(s)
	e.sm.Add(sourcemap.Entry{
		Fragment: position.NewSpan(start, e.off()),
		Original: orig,
		Doc:      e.doc,
		Kind:     sourcemap.Transparent,
	})
}

// nli starts a new statement line at the current nesting depth.
func (e *emitter) nli() {
	e.raw("\n")
	for i := 0; i < e.indent; i++ {
		e.raw("\t")
	}
}

func (e *emitter) pushScope(params []parser.BlockParam, kind scopeKind) {
	scope := make(map[string]scopeKind, len(params))
	for _, p := range params {
		scope[p.Name] = kind
	}
	e.scopes = append(e.scopes, scope)
}

func (e *emitter) popScope() {
	e.scopes = e.scopes[:len(e.scopes)-1]
}

func (e *emitter) lookup(name string) (scopeKind, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if kind, ok := e.scopes[i][name]; ok {
			return kind, true
		}
	}
	return scopeAny, false
}

// templateOnly reports whether `this` has no declared backing type and the
// prologue synthesized an open struct for it.
func (e *emitter) templateOnly() bool {
	return e.host.Component == nil && e.host.AmbientThis == ""
}

// bindKind picks the scope kind for each/let bindings. Without a declared
// backing type every iterated or bound value is any, and member access
// through it would surface spurious errors, so such bindings degrade.
func (e *emitter) bindKind() scopeKind {
	if e.templateOnly() {
		return scopeAny
	}
	return scopeTyped
}

func (e *emitter) prologue() {
	e.raw("package " + e.host.packageName() + "\n\n")
	e.raw("func __truthy(v any) bool { return v != nil }\n\n")
	e.raw("func __h(vs ...any) any { return nil }\n\n")

	if c := e.host.Component; c != nil {
		e.raw("func (self *" + c.TypeName + ") " + RenderFuncName + "() {")
		if c.ArgsTypeName != "" {
			e.raw("\n\tvar __args " + c.ArgsTypeName + "\n\t_ = __args")
		} else {
			for _, name := range sortedNames(e.use.args) {
				if goIdent(name) {
					e.raw("\n\tvar __arg_" + name + " any\n\t_ = __arg_" + name)
				}
			}
		}
		e.indent = 1
		return
	}

	e.raw("func " + RenderFuncName + "() {")
	if e.host.AmbientThis != "" {
		e.raw("\n\tvar self " + e.host.AmbientThis + "\n\t_ = self")
	} else if len(e.use.members) > 0 {
		e.raw("\n\tvar self struct {")
		for _, name := range sortedNames(e.use.members) {
			if !goIdent(name) {
				continue
			}
			typ := "any"
			if e.use.memberIter[name] {
				typ = "[]any"
			}
			e.raw("\n\t\t" + name + " " + typ)
		}
		e.raw("\n\t}\n\t_ = self")
	} else {
		e.raw("\n\tvar self any\n\t_ = self")
	}
	for _, name := range sortedNames(e.use.args) {
		if goIdent(name) {
			e.raw("\n\tvar __arg_" + name + " any\n\t_ = __arg_" + name)
		}
	}
	for _, name := range sortedNames(e.use.free) {
		if !goIdent(name) || builtinHelpers[name] {
			continue
		}
		typ := "any"
		if e.use.freeIter[name] {
			typ = "[]any"
		}
		e.raw("\n\tvar " + name + " " + typ + "\n\t_ = " + name)
	}
	e.indent = 1
}

var builtinHelpers = map[string]bool{
	"each":   true,
	"if":     true,
	"unless": true,
	"let":    true,
	"with":   true,
	"else":   true,
}

func (e *emitter) nodes(nodes []parser.Node) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *parser.MustacheNode:
			e.stmtMustache(n)
		case *parser.BlockNode:
			e.block(n)
		case *parser.ElementNode:
			e.element(n)
		}
	}
}

// stmtMustache emits `_ = expr` for an interpolation.
func (e *emitter) stmtMustache(n *parser.MustacheNode) {
	e.nli()
	e.syn("_ = ", anchorAt(n.Loc.Start))
	e.expr(n.Expr, n.ExprLoc)
}

func anchorAt(offset int) position.Span {
	return position.NewSpan(offset, offset)
}

func (e *emitter) block(n *parser.BlockNode) {
	switch n.Helper {
	case "if":
		e.blockIf(n, false)
	case "unless":
		e.blockIf(n, true)
	case "each":
		e.blockEach(n)
	case "let", "with":
		e.blockLet(n)
	default:
		e.blockGeneric(n)
	}
}

func (e *emitter) condArg(n *parser.BlockNode) {
	if n.Expr != nil && len(n.Expr.Args) > 0 {
		e.term(n.Expr.Args[0], n.ExprLoc)
		return
	}
	e.syn("__h()", n.ExprLoc)
}

func (e *emitter) blockIf(n *parser.BlockNode, negate bool) {
	e.nli()
	op := "if __truthy("
	if negate {
		op = "if !__truthy("
	}
	e.syn(op, n.HelperLoc)
	e.condArg(n)
	e.syn(") {", n.HelperLoc)
	e.indent++
	e.pushScope(n.Params, scopeAny)
	e.declAnyParams(n.Params)
	e.nodes(n.Body)
	e.popScope()
	e.indent--
	if len(n.Else) > 0 {
		e.nli()
		e.syn("} else {", anchorAt(n.Loc.End))
		e.indent++
		e.nodes(n.Else)
		e.indent--
	}
	e.nli()
	e.syn("}", anchorAt(n.Loc.End))
}

func (e *emitter) blockEach(n *parser.BlockNode) {
	e.nli()
	params := n.Params
	named := 0
	for _, p := range params[:min(len(params), 2)] {
		if goIdent(p.Name) {
			named++
		}
	}
	switch {
	case named == 0:
		// no usable binding; `for _, _ := range` would not declare
		// anything and go/types rejects it
		e.syn("for range ", n.HelperLoc)
		e.condArg(n)
		e.syn(" {", n.HelperLoc)
	case len(params) == 1:
		e.syn("for _, ", n.HelperLoc)
		e.param(params[0])
		e.syn(" := range ", n.HelperLoc)
		e.condArg(n)
		e.syn(" {", n.HelperLoc)
	default:
		e.syn("for ", n.HelperLoc)
		e.param(params[1]) // index/key comes second in template order
		e.syn(", ", n.HelperLoc)
		e.param(params[0])
		e.syn(" := range ", n.HelperLoc)
		e.condArg(n)
		e.syn(" {", n.HelperLoc)
	}
	e.indent++
	e.pushScope(clipParams(params, 2), e.bindKind())
	for _, p := range params[:min(len(params), 2)] {
		if goIdent(p.Name) {
			e.nli()
			e.syn("_ = "+p.Name, p.Loc)
		}
	}
	e.declAnyParams(paramsTail(params, 2))
	e.pushScope(paramsTail(params, 2), scopeAny)
	e.nodes(n.Body)
	e.popScope()
	e.popScope()
	e.indent--
	e.nli()
	e.syn("}", anchorAt(n.Loc.End))
	if len(n.Else) > 0 {
		e.nli()
		e.syn("{", anchorAt(n.Loc.End))
		e.indent++
		e.nodes(n.Else)
		e.indent--
		e.nli()
		e.syn("}", anchorAt(n.Loc.End))
	}
}

// blockLet emits `{ p := (arg); _ = p; ... }` so every binding carries the
// argument's inferred type.
func (e *emitter) blockLet(n *parser.BlockNode) {
	e.nli()
	e.syn("{", n.HelperLoc)
	e.indent++
	var args []*parser.Term
	if n.Expr != nil {
		args = n.Expr.Args
	}
	for i, p := range n.Params {
		if !goIdent(p.Name) {
			continue
		}
		e.nli()
		if i < len(args) {
			e.param(p)
			e.syn(" := (", p.Loc)
			e.term(args[i], n.ExprLoc)
			e.syn(")", p.Loc)
		} else {
			e.syn("var ", p.Loc)
			e.param(p)
			e.syn(" any", p.Loc)
		}
		e.nli()
		e.syn("_ = "+p.Name, p.Loc)
	}
	for i := len(n.Params); i < len(args); i++ {
		e.nli()
		e.syn("_ = ", n.ExprLoc)
		e.term(args[i], n.ExprLoc)
	}
	e.pushScope(n.Params, e.bindKind())
	e.nodes(n.Body)
	e.popScope()
	e.indent--
	e.nli()
	e.syn("}", anchorAt(n.Loc.End))
	if len(n.Else) > 0 {
		e.nli()
		e.syn("{", anchorAt(n.Loc.End))
		e.indent++
		e.nodes(n.Else)
		e.indent--
		e.nli()
		e.syn("}", anchorAt(n.Loc.End))
	}
}

// blockGeneric handles custom block helpers: the invocation expression is
// checked as a call and the block parameters degrade to any.
func (e *emitter) blockGeneric(n *parser.BlockNode) {
	e.nli()
	e.syn("_ = ", n.HelperLoc)
	e.expr(n.Expr, n.ExprLoc)
	if len(n.Params) > 0 {
		e.nli()
		e.syn("{", n.HelperLoc)
		e.indent++
		e.pushScope(n.Params, scopeAny)
		e.declAnyParams(n.Params)
		e.nodes(n.Body)
		e.popScope()
		e.indent--
		e.nli()
		e.syn("}", anchorAt(n.Loc.End))
	} else {
		e.nodes(n.Body)
	}
	if len(n.Else) > 0 {
		e.nli()
		e.syn("{", anchorAt(n.Loc.End))
		e.indent++
		e.nodes(n.Else)
		e.indent--
		e.nli()
		e.syn("}", anchorAt(n.Loc.End))
	}
}

// param emits a block-parameter name transparently, so hovering it resolves
// to the synthetic local it declares.
func (e *emitter) param(p parser.BlockParam) {
	if goIdent(p.Name) {
		e.lit(p.Name, p.Loc)
		return
	}
	e.syn("_", p.Loc)
}

func (e *emitter) declAnyParams(params []parser.BlockParam) {
	for _, p := range params {
		if !goIdent(p.Name) {
			continue
		}
		e.nli()
		e.syn("var ", p.Loc)
		e.lit(p.Name, p.Loc)
		e.syn(" any", p.Loc)
		e.nli()
		e.syn("_ = "+p.Name, p.Loc)
	}
}

func clipParams(params []parser.BlockParam, n int) []parser.BlockParam {
	if len(params) > n {
		return params[:n]
	}
	return params
}

func paramsTail(params []parser.BlockParam, n int) []parser.BlockParam {
	if len(params) > n {
		return params[n:]
	}
	return nil
}

func (e *emitter) element(n *parser.ElementNode) {
	component := parser.IsComponentTag(n.Tag)
	ref, resolved := ComponentRef{}, false
	if component {
		ref, resolved = e.host.resolveComponent(n.Tag)
	}

	// attribute expressions that do not land in the args literal still
	// evaluate, so their references keep hover and diagnostics
	for _, attr := range n.Attrs {
		if attr.Mustache == nil {
			continue
		}
		if resolved && ref.ArgsTypeName != "" && attr.Arg {
			continue
		}
		e.stmtMustache(attr.Mustache)
	}

	if resolved && ref.TypeName != "" {
		e.nli()
		e.syn("_ = ", n.TagLoc)
		if ref.TypeName == n.Tag {
			e.lit(n.Tag, n.TagLoc)
		} else {
			e.syn(ref.TypeName, n.TagLoc)
		}
		e.syn("{}", n.TagLoc)
	}

	if resolved && ref.ArgsTypeName != "" {
		if args := argAttrs(n.Attrs); len(args) > 0 {
			e.nli()
			e.syn("_ = "+ref.ArgsTypeName+"{", n.TagLoc)
			e.indent++
			for _, attr := range args {
				e.nli()
				e.lit(attr.Name, attr.NameLoc)
				e.syn(": ", attr.NameLoc)
				e.attrValue(attr)
				e.syn(",", attr.NameLoc)
			}
			e.indent--
			e.nli()
			e.syn("}", anchorAt(n.Loc.End))
		}
	}

	if len(n.Params) > 0 {
		e.nli()
		e.syn("{", n.TagLoc)
		e.indent++
		e.pushScope(n.Params, scopeAny)
		e.declAnyParams(n.Params)
		e.nodes(n.Body)
		e.popScope()
		e.indent--
		e.nli()
		e.syn("}", anchorAt(n.Loc.End))
	} else {
		e.nodes(n.Body)
	}
}

func argAttrs(attrs []*parser.AttrNode) []*parser.AttrNode {
	var out []*parser.AttrNode
	for _, attr := range attrs {
		if attr.Arg && goIdent(attr.Name) {
			out = append(out, attr)
		}
	}
	return out
}

func (e *emitter) attrValue(attr *parser.AttrNode) {
	switch {
	case attr.Mustache != nil:
		e.expr(attr.Mustache.Expr, attr.Mustache.ExprLoc)
	case attr.Literal != "":
		e.syn(strconv.Quote(attr.Literal), attr.Loc)
	default:
		// a bare @flag binds true
		e.syn("true", attr.Loc)
	}
}

// expr emits a mustache expression. Calls resolve through the host's helper
// resolver; everything unresolvable funnels through the __h sink so the
// fragment still type-checks.
func (e *emitter) expr(x *parser.Expression, anchor position.Span) {
	if x == nil || x.Head == nil {
		e.syn("__h()", anchor)
		return
	}
	if !x.IsCall() {
		e.term(x.Head, anchor)
		return
	}

	if p := x.Head.Path; p != nil && !p.This && !p.IsArg() && len(p.Tail) == 0 {
		if ref, ok := e.host.resolveHelper(p.Head); ok {
			wrap := len(x.Named) > 0
			if wrap {
				e.syn("__h(", anchor)
			}
			if ref.FuncName == p.Head {
				e.lit(p.Head, p.HeadSpan())
			} else {
				e.syn(ref.FuncName, p.HeadSpan())
			}
			e.syn("(", anchor)
			for i, a := range x.Args {
				if i > 0 {
					e.syn(", ", anchor)
				}
				e.term(a, anchor)
			}
			e.syn(")", anchor)
			if wrap {
				for _, na := range x.Named {
					e.syn(", ", anchor)
					e.term(na.Value, anchor)
				}
				e.syn(")", anchor)
			}
			return
		}
	}

	e.syn("__h(", anchor)
	e.term(x.Head, anchor)
	for _, a := range x.Args {
		e.syn(", ", anchor)
		e.term(a, anchor)
	}
	for _, na := range x.Named {
		e.syn(", ", anchor)
		e.term(na.Value, anchor)
	}
	e.syn(")", anchor)
}

func (e *emitter) term(t *parser.Term, anchor position.Span) {
	if t == nil {
		e.syn("__h()", anchor)
		return
	}
	switch {
	case t.Str != nil:
		if strings.HasPrefix(*t.Str, `"`) {
			e.lit(*t.Str, t.Span())
		} else {
			e.syn(strconv.Quote(strings.Trim(*t.Str, "'")), t.Span())
		}
	case t.Num != nil:
		e.lit(*t.Num, t.Span())
	case t.Bool != nil:
		e.lit(*t.Bool, t.Span())
	case t.Null:
		e.syn("nil", t.Span())
	case t.Sub != nil:
		e.syn("(", t.Span())
		e.expr(t.Sub, t.Span())
		e.syn(")", t.Span())
	case t.Path != nil:
		e.path(t.Path)
	default:
		e.syn("__h()", anchor)
	}
}

func (e *emitter) path(p *parser.PathExpr) {
	headSpan := p.HeadSpan()
	switch {
	case p.This:
		// a synthesized open `this` only supports one member level; deeper
		// access cannot type-check against an any field and degrades
		if e.templateOnly() && len(p.Tail) > 1 {
			e.syn("__h(", p.Span())
			e.lit("self", headSpan)
			e.seg(p.Tail[0])
			e.syn(")", p.Span())
			return
		}
		e.lit("self", headSpan)
		for _, seg := range p.Tail {
			e.seg(seg)
		}

	case p.IsArg():
		name := p.ArgName()
		nameSpan := position.NewSpan(headSpan.Start+1, headSpan.End)
		typedArgs := e.host.Component != nil && e.host.Component.ArgsTypeName != ""
		if !goIdent(name) {
			e.syn("__h()", headSpan)
			return
		}
		if typedArgs {
			e.syn("__args.", headSpan)
			e.lit(name, nameSpan)
			for _, seg := range p.Tail {
				e.seg(seg)
			}
			return
		}
		if len(p.Tail) > 0 {
			e.syn("__h(__arg_", headSpan)
			e.lit(name, nameSpan)
			e.syn(")", headSpan)
			return
		}
		e.syn("__arg_", headSpan)
		e.lit(name, nameSpan)

	default:
		if !goIdent(p.Head) {
			e.syn("__h()", headSpan)
			return
		}
		kind, scoped := e.lookup(p.Head)
		anyBase := (scoped && kind == scopeAny) ||
			(!scoped && e.host.Component == nil)
		if anyBase && len(p.Tail) > 0 {
			e.syn("__h(", p.Span())
			e.lit(p.Head, headSpan)
			e.syn(")", p.Span())
			return
		}
		e.lit(p.Head, headSpan)
		for _, seg := range p.Tail {
			e.seg(seg)
		}
	}
}

func (e *emitter) seg(s *parser.PathSegment) {
	if !goIdent(s.Name) {
		e.syn(".__invalid", s.Span())
		return
	}
	e.syn(".", anchorAt(s.Span().Start))
	e.lit(s.Name, s.Span())
}
