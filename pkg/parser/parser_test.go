package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmplhint/tmplhint/pkg/parser"
	"github.com/tmplhint/tmplhint/pkg/position"
)

func TestParse_Interpolation(t *testing.T) {
	src := `Hello {{this.message}}!`
	tpl, diags := parser.Parse("greeting.hbs", src)
	require.Empty(t, diags)
	require.Len(t, tpl.Nodes, 3)

	text, ok := tpl.Nodes[0].(*parser.TextNode)
	require.True(t, ok)
	assert.Equal(t, "Hello ", text.Text)
	assert.Equal(t, position.NewSpan(0, 6), text.Span())

	mustache, ok := tpl.Nodes[1].(*parser.MustacheNode)
	require.True(t, ok)
	assert.Equal(t, position.NewSpan(6, 22), mustache.Span())
	require.NotNil(t, mustache.Expr)

	path := mustache.Expr.Head.Path
	require.NotNil(t, path)
	assert.True(t, path.This)
	require.Len(t, path.Tail, 1)
	assert.Equal(t, "message", path.Tail[0].Name)
	// the member name must span exactly its own characters
	assert.Equal(t, "message", src[path.Tail[0].Span().Start:path.Tail[0].Span().End])

	tail, ok := tpl.Nodes[2].(*parser.TextNode)
	require.True(t, ok)
	assert.Equal(t, "!", tail.Text)
}

func TestParse_BlockWithParams(t *testing.T) {
	src := `{{#each this.items as |item idx|}}{{item}}{{else}}none{{/each}}`
	tpl, diags := parser.Parse("list.hbs", src)
	require.Empty(t, diags)
	require.Len(t, tpl.Nodes, 1)

	block, ok := tpl.Nodes[0].(*parser.BlockNode)
	require.True(t, ok)
	assert.Equal(t, "each", block.Helper)
	assert.Equal(t, position.NewSpan(0, len(src)), block.Span())

	require.Len(t, block.Params, 2)
	assert.Equal(t, "item", block.Params[0].Name)
	assert.Equal(t, "item", src[block.Params[0].Loc.Start:block.Params[0].Loc.End])
	assert.Equal(t, "idx", block.Params[1].Name)

	require.Len(t, block.Body, 1)
	require.Len(t, block.Else, 1)
	elseText, ok := block.Else[0].(*parser.TextNode)
	require.True(t, ok)
	assert.Equal(t, "none", elseText.Text)
}

func TestParse_NestedBlocks(t *testing.T) {
	src := `{{#each this.rows as |row|}}{{#each row as |cell|}}{{cell}}{{/each}}{{/each}}`
	tpl, diags := parser.Parse("grid.hbs", src)
	require.Empty(t, diags)

	outer := tpl.Nodes[0].(*parser.BlockNode)
	require.Len(t, outer.Body, 1)
	inner, ok := outer.Body[0].(*parser.BlockNode)
	require.True(t, ok)
	assert.Equal(t, "each", inner.Helper)
	assert.True(t, outer.Span().Covers(inner.Span()))
	require.Len(t, inner.Body, 1)
}

func TestParse_ComponentInvocation(t *testing.T) {
	src := `<Card @title={{this.heading}} class="wide" as |body|>{{body}}</Card>`
	tpl, diags := parser.Parse("page.hbs", src)
	require.Empty(t, diags)
	require.Len(t, tpl.Nodes, 1)

	elem, ok := tpl.Nodes[0].(*parser.ElementNode)
	require.True(t, ok)
	assert.Equal(t, "Card", elem.Tag)
	assert.True(t, parser.IsComponentTag(elem.Tag))
	assert.Equal(t, "Card", src[elem.TagLoc.Start:elem.TagLoc.End])

	require.Len(t, elem.Attrs, 2)
	arg := elem.Attrs[0]
	assert.True(t, arg.Arg)
	assert.Equal(t, "title", arg.Name)
	assert.Equal(t, "title", src[arg.NameLoc.Start:arg.NameLoc.End])
	require.NotNil(t, arg.Mustache)
	require.NotNil(t, arg.Mustache.Expr)

	plain := elem.Attrs[1]
	assert.False(t, plain.Arg)
	assert.Equal(t, "class", plain.Name)
	assert.Equal(t, "wide", plain.Literal)

	require.Len(t, elem.Params, 1)
	assert.Equal(t, "body", elem.Params[0].Name)
	require.Len(t, elem.Body, 1)
}

func TestParse_SelfClosingAndVoid(t *testing.T) {
	src := `<Icon @name={{this.icon}} /><br><p>hi</p>`
	tpl, diags := parser.Parse("mixed.hbs", src)
	require.Empty(t, diags)
	require.Len(t, tpl.Nodes, 3)

	icon := tpl.Nodes[0].(*parser.ElementNode)
	assert.True(t, icon.SelfClosing)

	br := tpl.Nodes[1].(*parser.ElementNode)
	assert.Equal(t, "br", br.Tag)
	assert.Empty(t, br.Body)

	p := tpl.Nodes[2].(*parser.ElementNode)
	assert.Equal(t, "p", p.Tag)
	require.Len(t, p.Body, 1)
}

func TestParse_Comments(t *testing.T) {
	src := `{{!-- block --}}{{! short }}text`
	tpl, diags := parser.Parse("comments.hbs", src)
	require.Empty(t, diags)
	require.Len(t, tpl.Nodes, 3)

	_, ok := tpl.Nodes[0].(*parser.CommentNode)
	assert.True(t, ok)
	_, ok = tpl.Nodes[1].(*parser.CommentNode)
	assert.True(t, ok)
}

func TestParse_HelperCallExpression(t *testing.T) {
	src := `{{formatDate this.when "long" zone=this.tz}}`
	tpl, diags := parser.Parse("date.hbs", src)
	require.Empty(t, diags)

	mustache := tpl.Nodes[0].(*parser.MustacheNode)
	require.NotNil(t, mustache.Expr)
	assert.True(t, mustache.Expr.IsCall())
	assert.Equal(t, "formatDate", mustache.Expr.Head.Path.HeadName())
	require.Len(t, mustache.Expr.Args, 2)
	require.Len(t, mustache.Expr.Named, 1)
	assert.Equal(t, "zone", mustache.Expr.Named[0].KeyName())
}

func TestParse_MalformedBlockIsContained(t *testing.T) {
	src := `{{#each}}{{valid}}` + "\n" + `{{also.valid}}`
	tpl, diags := parser.Parse("broken.hbs", src)
	// the empty each expression and the unclosed block are both reported
	require.NotEmpty(t, diags)

	// sibling content inside the broken block still parses
	block, ok := tpl.Nodes[0].(*parser.BlockNode)
	require.True(t, ok)
	require.Len(t, block.Body, 3)
	first, ok := block.Body[0].(*parser.MustacheNode)
	require.True(t, ok)
	require.NotNil(t, first.Expr)
	assert.Equal(t, "valid", first.Expr.Head.Path.HeadName())
}

func TestParse_UnmatchedClose(t *testing.T) {
	src := `{{/each}}ok`
	tpl, diags := parser.Parse("stray.hbs", src)
	require.NotEmpty(t, diags)

	_, ok := tpl.Nodes[0].(*parser.ErrorNode)
	require.True(t, ok)
	text, ok := tpl.Nodes[1].(*parser.TextNode)
	require.True(t, ok)
	assert.Equal(t, "ok", text.Text)
}

func TestParse_UnterminatedMustache(t *testing.T) {
	src := `before {{this.x`
	tpl, diags := parser.Parse("cut.hbs", src)
	require.NotEmpty(t, diags)
	require.Len(t, tpl.Nodes, 2)

	_, ok := tpl.Nodes[1].(*parser.ErrorNode)
	assert.True(t, ok)
}

func TestParseExpression_Offsets(t *testing.T) {
	expr, err := parser.ParseExpression("this.name", 10)
	require.NoError(t, err)
	path := expr.Head.Path
	require.NotNil(t, path)
	assert.Equal(t, position.NewSpan(10, 14), path.HeadSpan())
	require.Len(t, path.Tail, 1)
	assert.Equal(t, position.NewSpan(15, 19), path.Tail[0].Span())
}

func TestParseExpression_ArgPath(t *testing.T) {
	expr, err := parser.ParseExpression("@title.length", 0)
	require.NoError(t, err)
	path := expr.Head.Path
	require.True(t, path.IsArg())
	assert.Equal(t, "title", path.ArgName())
	assert.Equal(t, position.NewSpan(0, 6), path.HeadSpan())
}
