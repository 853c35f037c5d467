package parser

import (
	"github.com/tmplhint/tmplhint/pkg/position"
)

// Node is a template AST node. Every node carries its span in the original
// document; sibling spans never overlap and children nest strictly inside
// their parent.
type Node interface {
	Span() position.Span
}

// Template is a parsed template document.
type Template struct {
	Name  string
	Nodes []Node
}

// TextNode is literal markup between constructs.
type TextNode struct {
	Loc  position.Span
	Text string
}

func (n *TextNode) Span() position.Span { return n.Loc }

// CommentNode is a `{{! ... }}` or `{{!-- ... --}}` comment.
type CommentNode struct {
	Loc  position.Span
	Text string
}

func (n *CommentNode) Span() position.Span { return n.Loc }

// MustacheNode is an interpolation `{{expr}}`. Expr is nil when the interior
// failed to parse; the failure is reported as a syntax diagnostic and the
// node degrades to a placeholder downstream.
type MustacheNode struct {
	Loc     position.Span
	Expr    *Expression
	ExprLoc position.Span
}

func (n *MustacheNode) Span() position.Span { return n.Loc }

// BlockParam is a name bound by an `as |...|` clause.
type BlockParam struct {
	Name string
	Loc  position.Span
}

// BlockNode is a `{{#helper args as |p...|}} ... {{else}} ... {{/helper}}`
// construct. Helper is the head of Expr, kept separately for convenience.
type BlockNode struct {
	Loc       position.Span
	Helper    string
	HelperLoc position.Span
	Expr      *Expression
	ExprLoc   position.Span
	Params    []BlockParam
	Body      []Node
	Else      []Node
}

func (n *BlockNode) Span() position.Span { return n.Loc }

// AttrNode is an attribute or @-argument binding on an element tag. Exactly
// one of Mustache and Literal is meaningful.
type AttrNode struct {
	Loc      position.Span
	Name     string
	NameLoc  position.Span
	Arg      bool
	Mustache *MustacheNode
	Literal  string
}

// ElementNode is an element or component invocation
// `<Tag @a={{x}} as |p|> ... </Tag>`.
type ElementNode struct {
	Loc         position.Span
	Tag         string
	TagLoc      position.Span
	Attrs       []*AttrNode
	Params      []BlockParam
	Body        []Node
	SelfClosing bool
}

func (n *ElementNode) Span() position.Span { return n.Loc }

// ErrorNode marks a malformed region. It never aborts parsing of sibling
// content.
type ErrorNode struct {
	Loc     position.Span
	Message string
}

func (n *ErrorNode) Span() position.Span { return n.Loc }

// SyntaxDiagnostic is a localized template syntax problem.
type SyntaxDiagnostic struct {
	Loc     position.Span
	Message string
}

// IsComponentTag reports whether a tag name denotes a component invocation
// (leading uppercase) rather than a plain element.
func IsComponentTag(tag string) bool {
	if tag == "" {
		return false
	}
	return tag[0] >= 'A' && tag[0] <= 'Z'
}
