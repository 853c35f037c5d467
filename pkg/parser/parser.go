package parser

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/tmplhint/tmplhint/pkg/position"
)

// Parse parses a template document. It never fails outright: malformed
// regions become ErrorNode leaves (or nil-expression mustaches) with a
// diagnostic, and parsing continues with the rest of the document.
func Parse(name, text string) (*Template, []SyntaxDiagnostic) {
	b := &treeBuilder{text: text}
	b.toks = b.scan(name, text)
	b.run()
	return &Template{Name: name, Nodes: b.root}, b.diags
}

type tok struct {
	typ string
	val string
	off int
}

func (t tok) end() int {
	return t.off + len(t.val)
}

func (t tok) span() position.Span {
	return position.NewSpan(t.off, t.end())
}

// openFrame is one entry of the explicit container stack. Exactly one of
// block and elem is set.
type openFrame struct {
	block  *BlockNode
	elem   *ElementNode
	inElse bool
}

type treeBuilder struct {
	text  string
	toks  []tok
	i     int
	root  []Node
	stack []*openFrame
	diags []SyntaxDiagnostic
}

var tokenNames = func() map[lexer.TokenType]string {
	names := make(map[lexer.TokenType]string, len(TemplateLexer.Symbols()))
	for name, typ := range TemplateLexer.Symbols() {
		names[typ] = name
	}
	return names
}()

func (b *treeBuilder) scan(name, text string) []tok {
	lx, err := TemplateLexer.LexString(name, text)
	if err != nil {
		b.diag(position.NewSpan(0, 0), "lexing template: "+err.Error())
		return nil
	}
	var out []tok
	for {
		t, err := lx.Next()
		if err != nil {
			b.diag(position.NewSpan(t.Pos.Offset, t.Pos.Offset), "lexing template: "+err.Error())
			return out
		}
		if t.EOF() {
			return out
		}
		out = append(out, tok{typ: tokenNames[t.Type], val: t.Value, off: t.Pos.Offset})
	}
}

func (b *treeBuilder) skipWhitespace() {
	for b.i < len(b.toks) && b.toks[b.i].typ == "whitespace" {
		b.i++
	}
}

func (b *treeBuilder) diag(loc position.Span, msg string) {
	b.diags = append(b.diags, SyntaxDiagnostic{Loc: loc, Message: msg})
}

// append attaches a node to the innermost open container, or to the root.
func (b *treeBuilder) append(n Node) {
	if len(b.stack) == 0 {
		b.root = append(b.root, n)
		return
	}
	top := b.stack[len(b.stack)-1]
	switch {
	case top.block != nil && top.inElse:
		top.block.Else = append(top.block.Else, n)
	case top.block != nil:
		top.block.Body = append(top.block.Body, n)
	default:
		top.elem.Body = append(top.elem.Body, n)
	}
}

func (b *treeBuilder) run() {
	for b.i < len(b.toks) {
		t := b.toks[b.i]
		switch t.typ {
		case "Text", "Char":
			b.parseText(t)
		case "BlockComment", "Comment":
			b.append(&CommentNode{Loc: t.span(), Text: t.val})
			b.i++
		case "OpenMustache":
			b.parseMustache(t)
		case "OpenBlock":
			b.parseBlockOpen(t)
		case "OpenEndBlock":
			b.parseBlockClose(t)
		case "TagOpen":
			b.parseTag(t)
		case "TagClose":
			b.parseTagClose(t)
		default:
			b.diag(t.span(), "unexpected input: "+t.val)
			b.append(&ErrorNode{Loc: t.span(), Message: "unexpected input"})
			b.i++
		}
	}
	for len(b.stack) > 0 {
		top := b.stack[len(b.stack)-1]
		b.stack = b.stack[:len(b.stack)-1]
		if top.block != nil {
			top.block.Loc.End = len(b.text)
			b.diag(top.block.Loc, "unclosed block {{#"+top.block.Helper+"}}")
		} else {
			top.elem.Loc.End = len(b.text)
			b.diag(top.elem.Loc, "unclosed element <"+top.elem.Tag+">")
		}
	}
}

func (b *treeBuilder) parseText(first tok) {
	start := first.off
	var sb strings.Builder
	for b.i < len(b.toks) {
		t := b.toks[b.i]
		if t.typ != "Text" && t.typ != "Char" {
			break
		}
		sb.WriteString(t.val)
		b.i++
	}
	b.append(&TextNode{
		Loc:  position.NewSpan(start, start+sb.Len()),
		Text: sb.String(),
	})
}

// collectMustache consumes tokens from the opening delimiter through the
// matching close and returns the interior tokens plus the full span.
func (b *treeBuilder) collectMustache(open tok) (interior []tok, loc position.Span, ok bool) {
	b.i++ // past the open delimiter
	for b.i < len(b.toks) {
		t := b.toks[b.i]
		if t.typ == "CloseMustache" {
			b.i++
			return interior, position.NewSpan(open.off, t.end()), true
		}
		if t.typ != "whitespace" {
			interior = append(interior, t)
		}
		b.i++
	}
	loc = position.NewSpan(open.off, len(b.text))
	b.diag(loc, "unterminated mustache")
	return interior, loc, false
}

// splitParams separates an interior token list into the expression tokens
// and the `as |...|` clause, if present.
func splitParams(interior []tok) (exprToks, paramToks []tok) {
	for i, t := range interior {
		if t.typ == "As" {
			return interior[:i], interior[i+1:]
		}
	}
	return interior, nil
}

func (b *treeBuilder) parseParams(toks []tok, closing position.Span) []BlockParam {
	var params []BlockParam
	pipes := 0
	for _, t := range toks {
		switch t.typ {
		case "Pipe":
			pipes++
		case "Ident", "AttrName", "This":
			if pipes == 1 {
				params = append(params, BlockParam{Name: t.val, Loc: t.span()})
			} else {
				b.diag(t.span(), "block parameter outside |...| delimiters")
			}
		default:
			b.diag(t.span(), "unexpected token in block parameters: "+t.val)
		}
	}
	if len(toks) > 0 && pipes != 2 {
		b.diag(closing, "malformed block parameter list")
	}
	return params
}

// parseInterior parses the expression portion of a mustache interior.
// Returns a nil expression (with a recorded diagnostic) when malformed.
func (b *treeBuilder) parseInterior(exprToks []tok, loc position.Span) (*Expression, position.Span) {
	if len(exprToks) == 0 {
		b.diag(loc, "empty expression")
		return nil, position.NewSpan(loc.Start, loc.Start)
	}
	span := position.NewSpan(exprToks[0].off, exprToks[len(exprToks)-1].end())
	expr, err := ParseExpression(b.text[span.Start:span.End], span.Start)
	if err != nil {
		b.diag(span, "invalid expression: "+err.Error())
		return nil, span
	}
	return expr, span
}

func (b *treeBuilder) parseMustache(open tok) {
	interior, loc, ok := b.collectMustache(open)
	if !ok {
		b.append(&ErrorNode{Loc: loc, Message: "unterminated mustache"})
		return
	}

	if len(interior) == 1 && interior[0].typ == "Else" {
		if len(b.stack) > 0 && b.stack[len(b.stack)-1].block != nil && !b.stack[len(b.stack)-1].inElse {
			b.stack[len(b.stack)-1].inElse = true
		} else {
			b.diag(loc, "{{else}} outside a block")
			b.append(&ErrorNode{Loc: loc, Message: "{{else}} outside a block"})
		}
		return
	}

	expr, exprLoc := b.parseInterior(interior, loc)
	b.append(&MustacheNode{Loc: loc, Expr: expr, ExprLoc: exprLoc})
}

func (b *treeBuilder) parseBlockOpen(open tok) {
	interior, loc, ok := b.collectMustache(open)
	if !ok {
		b.append(&ErrorNode{Loc: loc, Message: "unterminated block opening"})
		return
	}

	exprToks, paramToks := splitParams(interior)
	expr, exprLoc := b.parseInterior(exprToks, loc)

	block := &BlockNode{
		Loc:     loc,
		Expr:    expr,
		ExprLoc: exprLoc,
		Params:  b.parseParams(paramToks, loc),
	}
	if expr != nil && expr.Head != nil && expr.Head.Path != nil {
		block.Helper = expr.Head.Path.HeadName()
		block.HelperLoc = expr.Head.Path.HeadSpan()
	} else {
		block.HelperLoc = exprLoc
	}

	b.append(block)
	b.stack = append(b.stack, &openFrame{block: block})
}

func (b *treeBuilder) parseBlockClose(open tok) {
	interior, loc, ok := b.collectMustache(open)
	if !ok {
		b.append(&ErrorNode{Loc: loc, Message: "unterminated block closing"})
		return
	}

	name := ""
	for _, t := range interior {
		if t.typ == "Ident" || t.typ == "This" {
			name = t.val
			break
		}
	}

	if len(b.stack) == 0 || b.stack[len(b.stack)-1].block == nil {
		b.diag(loc, "closing {{/"+name+"}} without a matching open block")
		b.append(&ErrorNode{Loc: loc, Message: "unmatched block closing"})
		return
	}

	top := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	if top.block.Helper != name {
		b.diag(loc, "closing {{/"+name+"}} does not match {{#"+top.block.Helper+"}}")
	}
	top.block.Loc.End = loc.End
}

var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

func (b *treeBuilder) parseTag(open tok) {
	tag := open.val[1:]
	elem := &ElementNode{
		Loc:    position.NewSpan(open.off, open.end()),
		Tag:    tag,
		TagLoc: position.NewSpan(open.off+1, open.end()),
	}
	b.i++ // past TagOpen

	inParams := false
	pipes := 0
	for b.i < len(b.toks) {
		t := b.toks[b.i]
		switch t.typ {
		case "whitespace":
			b.i++
		case "TagEnd", "TagSelfEnd":
			b.i++
			elem.Loc.End = t.end()
			if t.typ == "TagSelfEnd" || voidTags[tag] {
				elem.SelfClosing = t.typ == "TagSelfEnd"
				b.append(elem)
				return
			}
			b.append(elem)
			b.stack = append(b.stack, &openFrame{elem: elem})
			return
		case "As":
			inParams = true
			b.i++
		case "Pipe":
			if inParams {
				pipes++
				if pipes == 2 {
					inParams = false
				}
			} else {
				b.diag(t.span(), "unexpected | in tag")
			}
			b.i++
		case "AttrArg", "AttrName":
			if inParams && pipes == 1 {
				elem.Params = append(elem.Params, BlockParam{Name: t.val, Loc: t.span()})
				b.i++
				continue
			}
			b.parseAttr(elem, t)
		case "OpenMustache":
			// a bare splattribute-style mustache in tag position; parse and
			// keep it as a valueless binding so its expression still checks
			interior, loc, ok := b.collectMustache(t)
			if !ok {
				b.append(&ErrorNode{Loc: loc, Message: "unterminated mustache in tag"})
				return
			}
			expr, exprLoc := b.parseInterior(interior, loc)
			elem.Attrs = append(elem.Attrs, &AttrNode{
				Loc:      loc,
				Mustache: &MustacheNode{Loc: loc, Expr: expr, ExprLoc: exprLoc},
			})
		default:
			b.diag(t.span(), "unexpected token in tag: "+t.val)
			b.i++
		}
	}

	elem.Loc.End = len(b.text)
	b.diag(elem.Loc, "unterminated tag <"+tag+">")
	b.append(&ErrorNode{Loc: elem.Loc, Message: "unterminated tag"})
}

func (b *treeBuilder) parseAttr(elem *ElementNode, nameTok tok) {
	attr := &AttrNode{
		Loc:     nameTok.span(),
		Name:    nameTok.val,
		NameLoc: nameTok.span(),
		Arg:     nameTok.typ == "AttrArg",
	}
	if attr.Arg {
		attr.Name = strings.TrimPrefix(attr.Name, "@")
		attr.NameLoc = position.NewSpan(nameTok.off+1, nameTok.end())
	}
	b.i++ // past name
	b.skipWhitespace()

	if b.i >= len(b.toks) || b.toks[b.i].typ != "Equals" {
		elem.Attrs = append(elem.Attrs, attr)
		return
	}
	b.i++ // past '='
	b.skipWhitespace()

	if b.i >= len(b.toks) {
		b.diag(attr.Loc, "attribute "+attr.Name+" is missing a value")
		elem.Attrs = append(elem.Attrs, attr)
		return
	}

	val := b.toks[b.i]
	switch val.typ {
	case "String":
		attr.Literal = strings.Trim(val.val, `"'`)
		attr.Loc.End = val.end()
		b.i++
	case "OpenMustache":
		interior, loc, ok := b.collectMustache(val)
		if !ok {
			b.diag(attr.Loc, "unterminated attribute value")
			elem.Attrs = append(elem.Attrs, attr)
			return
		}
		expr, exprLoc := b.parseInterior(interior, loc)
		attr.Mustache = &MustacheNode{Loc: loc, Expr: expr, ExprLoc: exprLoc}
		attr.Loc.End = loc.End
	default:
		b.diag(val.span(), "unexpected attribute value: "+val.val)
		b.i++
	}
	elem.Attrs = append(elem.Attrs, attr)
}

func (b *treeBuilder) parseTagClose(t tok) {
	name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(t.val, "</"), ">"))
	b.i++

	if len(b.stack) == 0 || b.stack[len(b.stack)-1].elem == nil {
		b.diag(t.span(), "closing </"+name+"> without a matching open tag")
		b.append(&ErrorNode{Loc: t.span(), Message: "unmatched closing tag"})
		return
	}

	top := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	if top.elem.Tag != name {
		b.diag(t.span(), "closing </"+name+"> does not match <"+top.elem.Tag+">")
	}
	top.elem.Loc.End = t.end()
}
