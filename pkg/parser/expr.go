package parser

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/tmplhint/tmplhint/pkg/position"
	"gitlab.com/tozd/go/errors"
)

// Expression is a mustache interior: a head term optionally followed by
// positional and key=value arguments (helper-call form).
type Expression struct {
	Pos    lexer.Position
	Head   *Term       `parser:"@@"`
	Args   []*Term     `parser:"@@*"`
	Named  []*NamedArg `parser:"@@*"`
	EndPos lexer.Position
}

// NamedArg is a key=value argument. The lexer folds the key and '=' into a
// single NamedKey token, which is what keeps the grammar unambiguous.
type NamedArg struct {
	Pos    lexer.Position
	Key    string `parser:"@NamedKey"`
	Value  *Term  `parser:"@@"`
	EndPos lexer.Position
}

// Term is a single value: a literal, a parenthesized sub-expression, or a
// path.
type Term struct {
	Pos    lexer.Position
	Str    *string     `parser:"  @String"`
	Num    *string     `parser:"| @Number"`
	Bool   *string     `parser:"| @Bool"`
	Null   bool        `parser:"| @Null"`
	Sub    *Expression `parser:"| '(' @@ ')'"`
	Path   *PathExpr   `parser:"| @@"`
	EndPos lexer.Position
}

// PathExpr is a dotted reference: `this.a.b`, `@arg.c`, or `ident.d`.
type PathExpr struct {
	Pos    lexer.Position
	This   bool           `parser:"( @This"`
	Arg    string         `parser:"| @ArgName"`
	Head   string         `parser:"| @Ident )"`
	Tail   []*PathSegment `parser:"( '.' @@ )*"`
	EndPos lexer.Position
}

// PathSegment is one dotted member access with its own location.
type PathSegment struct {
	Pos  lexer.Position
	Name string `parser:"@Ident"`
}

func (e *Expression) Span() position.Span {
	return position.NewSpan(e.Pos.Offset, e.EndPos.Offset)
}

func (t *Term) Span() position.Span {
	return position.NewSpan(t.Pos.Offset, t.EndPos.Offset)
}

func (p *PathExpr) Span() position.Span {
	return position.NewSpan(p.Pos.Offset, p.EndPos.Offset)
}

// HeadName returns the first path component without sigils: "this", the
// argument name without '@', or the bare identifier.
func (p *PathExpr) HeadName() string {
	switch {
	case p.This:
		return "this"
	case p.Arg != "":
		return strings.TrimPrefix(p.Arg, "@")
	default:
		return p.Head
	}
}

// HeadSpan returns the source span of the first path component, sigil
// included for @-arguments.
func (p *PathExpr) HeadSpan() position.Span {
	start := p.Pos.Offset
	switch {
	case p.This:
		return position.NewSpan(start, start+len("this"))
	case p.Arg != "":
		return position.NewSpan(start, start+len(p.Arg))
	default:
		return position.NewSpan(start, start+len(p.Head))
	}
}

// IsArg reports whether the path is an @-argument reference.
func (p *PathExpr) IsArg() bool {
	return p.Arg != ""
}

// ArgName returns the argument name without the '@' sigil.
func (p *PathExpr) ArgName() string {
	return strings.TrimPrefix(p.Arg, "@")
}

func (s *PathSegment) Span() position.Span {
	return position.NewSpan(s.Pos.Offset, s.Pos.Offset+len(s.Name))
}

// KeyName returns the named-argument key without the trailing '='.
func (a *NamedArg) KeyName() string {
	return strings.TrimSuffix(a.Key, "=")
}

// KeySpan returns the source span of the key identifier.
func (a *NamedArg) KeySpan() position.Span {
	return position.NewSpan(a.Pos.Offset, a.Pos.Offset+len(a.KeyName()))
}

// IsCall reports whether the expression has arguments, i.e. its head is a
// helper invocation rather than a plain value.
func (e *Expression) IsCall() bool {
	return len(e.Args) > 0 || len(e.Named) > 0
}

var expressionParser = buildExpressionParser()

// ParseExpression parses a mustache interior. All node offsets are shifted
// by base so that they address the enclosing document directly.
func ParseExpression(src string, base int) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("empty expression")
	}
	expr, err := expressionParser.ParseString("", src)
	if err != nil {
		return nil, errors.Errorf("parsing expression %q: %w", src, err)
	}
	shiftExpression(expr, base)
	return expr, nil
}

func shiftExpression(e *Expression, base int) {
	if e == nil {
		return
	}
	e.Pos.Offset += base
	e.EndPos.Offset += base
	shiftTerm(e.Head, base)
	for _, t := range e.Args {
		shiftTerm(t, base)
	}
	for _, n := range e.Named {
		n.Pos.Offset += base
		n.EndPos.Offset += base
		shiftTerm(n.Value, base)
	}
}

func shiftTerm(t *Term, base int) {
	if t == nil {
		return
	}
	t.Pos.Offset += base
	t.EndPos.Offset += base
	if t.Sub != nil {
		shiftExpression(t.Sub, base)
	}
	if t.Path != nil {
		t.Path.Pos.Offset += base
		t.Path.EndPos.Offset += base
		for _, seg := range t.Path.Tail {
			seg.Pos.Offset += base
		}
	}
}
