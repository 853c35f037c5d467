package emit

import (
	"sort"

	"github.com/tmplhint/tmplhint/pkg/parser"
)

// usage is what a pre-emission pass learns about the template: which free
// identifiers, `this` members and @-arguments it references, and which of
// those are iterated by #each. The emitter's prologue is synthesized from
// this before any body text is written, so the body's offsets are final.
type usage struct {
	free       map[string]bool
	freeIter   map[string]bool
	members    map[string]bool
	memberIter map[string]bool
	args       map[string]bool
}

func newUsage() *usage {
	return &usage{
		free:       map[string]bool{},
		freeIter:   map[string]bool{},
		members:    map[string]bool{},
		memberIter: map[string]bool{},
		args:       map[string]bool{},
	}
}

func sortedNames(m map[string]bool) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type scanner struct {
	host   HostContext
	scopes []map[string]bool
	out    *usage
}

func scanTemplate(tpl *parser.Template, host HostContext) *usage {
	s := &scanner{host: host, out: newUsage()}
	s.nodes(tpl.Nodes)
	return s.out
}

func (s *scanner) inScope(name string) bool {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if s.scopes[i][name] {
			return true
		}
	}
	return false
}

func (s *scanner) pushParams(params []parser.BlockParam) {
	scope := make(map[string]bool, len(params))
	for _, p := range params {
		scope[p.Name] = true
	}
	s.scopes = append(s.scopes, scope)
}

func (s *scanner) popParams() {
	s.scopes = s.scopes[:len(s.scopes)-1]
}

func (s *scanner) nodes(nodes []parser.Node) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *parser.MustacheNode:
			s.expr(n.Expr)
		case *parser.BlockNode:
			if builtinHelpers[n.Helper] {
				s.exprArgs(n.Expr)
			} else {
				s.expr(n.Expr)
			}
			if n.Helper == "each" {
				s.markIterated(n.Expr)
			}
			s.pushParams(n.Params)
			s.nodes(n.Body)
			s.popParams()
			s.nodes(n.Else)
		case *parser.ElementNode:
			for _, attr := range n.Attrs {
				if attr.Mustache != nil {
					s.expr(attr.Mustache.Expr)
				}
			}
			s.pushParams(n.Params)
			s.nodes(n.Body)
			s.popParams()
		}
	}
}

func (s *scanner) markIterated(e *parser.Expression) {
	if e == nil || len(e.Args) == 0 || e.Args[0].Path == nil {
		return
	}
	p := e.Args[0].Path
	switch {
	case p.This && len(p.Tail) == 1:
		s.out.memberIter[p.Tail[0].Name] = true
	case !p.This && !p.IsArg() && len(p.Tail) == 0 && !s.inScope(p.Head):
		s.out.freeIter[p.Head] = true
	}
}

func (s *scanner) expr(e *parser.Expression) {
	if e == nil {
		return
	}
	if !e.IsCall() {
		s.term(e.Head)
		s.exprArgs(e)
		return
	}
	// the head of an unresolvable call is emitted as a value reference, so
	// it needs a declaration like any other free identifier
	if p := pathOf(e.Head); p != nil && !p.This && !p.IsArg() && len(p.Tail) == 0 {
		if _, ok := s.host.resolveHelper(p.Head); !ok && !s.inScope(p.Head) {
			s.out.free[p.Head] = true
		}
	} else {
		s.term(e.Head)
	}
	s.exprArgs(e)
}

// exprArgs scans positional and named arguments without touching the head.
func (s *scanner) exprArgs(e *parser.Expression) {
	if e == nil {
		return
	}
	for _, t := range e.Args {
		s.term(t)
	}
	for _, n := range e.Named {
		s.term(n.Value)
	}
}

func pathOf(t *parser.Term) *parser.PathExpr {
	if t == nil {
		return nil
	}
	return t.Path
}

func (s *scanner) term(t *parser.Term) {
	if t == nil {
		return
	}
	if t.Sub != nil {
		s.expr(t.Sub)
	}
	if t.Path == nil {
		return
	}
	p := t.Path
	switch {
	case p.This:
		if len(p.Tail) > 0 {
			s.out.members[p.Tail[0].Name] = true
		}
	case p.IsArg():
		s.out.args[p.ArgName()] = true
	default:
		if !s.inScope(p.Head) {
			s.out.free[p.Head] = true
		}
	}
}
