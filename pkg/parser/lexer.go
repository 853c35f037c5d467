// Package parser parses handlebars-style component templates into an AST
// with byte-accurate source spans.
package parser

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	// TemplateRules defines the stateful lexer for template documents.
	// Root scans text and delimiters, Mustache scans expression interiors,
	// Tag scans element/component open tags.
	TemplateRules = lexer.Rules{
		"Root": {
			{Name: "BlockComment", Pattern: `{{!--(?s:.*?)--}}`, Action: nil},
			{Name: "Comment", Pattern: `{{!(?s:.*?)}}`, Action: nil},
			{Name: "OpenBlock", Pattern: `{{~?#`, Action: lexer.Push("Mustache")},
			{Name: "OpenEndBlock", Pattern: `{{~?/`, Action: lexer.Push("Mustache")},
			{Name: "OpenMustache", Pattern: `{{~?`, Action: lexer.Push("Mustache")},
			{Name: "TagClose", Pattern: `</[A-Za-z][A-Za-z0-9_.-]*\s*>`, Action: nil},
			{Name: "TagOpen", Pattern: `<[A-Za-z][A-Za-z0-9_.-]*`, Action: lexer.Push("Tag")},
			{Name: "Text", Pattern: `[^<{]+`, Action: nil},
			{Name: "Char", Pattern: `.|\n`, Action: nil},
		},
		"Mustache": {
			{Name: "whitespace", Pattern: `\s+`, Action: nil},
			{Name: "Else", Pattern: `else\b`, Action: nil},
			{Name: "As", Pattern: `as\b`, Action: nil},
			{Name: "This", Pattern: `this\b`, Action: nil},
			{Name: "Bool", Pattern: `true\b|false\b`, Action: nil},
			{Name: "Null", Pattern: `null\b|undefined\b`, Action: nil},
			{Name: "ArgName", Pattern: `@[A-Za-z_][A-Za-z0-9_]*`, Action: nil},
			{Name: "NamedKey", Pattern: `[A-Za-z_][A-Za-z0-9_]*=`, Action: nil},
			{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`, Action: nil},
			{Name: "String", Pattern: `"(?:\\.|[^"])*"|'(?:\\.|[^'])*'`, Action: nil},
			{Name: "Number", Pattern: `[-+]?\d*\.?\d+`, Action: nil},
			{Name: "Dot", Pattern: `\.`, Action: nil},
			{Name: "Pipe", Pattern: `\|`, Action: nil},
			{Name: "LeftParen", Pattern: `\(`, Action: nil},
			{Name: "RightParen", Pattern: `\)`, Action: nil},
			{Name: "CloseMustache", Pattern: `~?}}`, Action: lexer.Pop()},
			{Name: "MustacheChar", Pattern: `.|\n`, Action: nil},
		},
		"Tag": {
			{Name: "whitespace", Pattern: `\s+`, Action: nil},
			{Name: "TagSelfEnd", Pattern: `/>`, Action: lexer.Pop()},
			{Name: "TagEnd", Pattern: `>`, Action: lexer.Pop()},
			{Name: "OpenMustache", Pattern: `{{~?`, Action: lexer.Push("Mustache")},
			{Name: "As", Pattern: `as\b`, Action: nil},
			{Name: "AttrArg", Pattern: `@[A-Za-z_][A-Za-z0-9_-]*`, Action: nil},
			{Name: "AttrName", Pattern: `[A-Za-z_:][A-Za-z0-9_:.-]*`, Action: nil},
			{Name: "Equals", Pattern: `=`, Action: nil},
			{Name: "String", Pattern: `"(?:\\.|[^"])*"|'(?:\\.|[^'])*'`, Action: nil},
			{Name: "Pipe", Pattern: `\|`, Action: nil},
			{Name: "TagChar", Pattern: `.|\n`, Action: nil},
		},
	}

	// TemplateLexer is the stateful lexer for template documents.
	TemplateLexer = lexer.MustStateful(TemplateRules)

	// ExprLexer tokenizes the interior of a mustache, which is handed to the
	// expression grammar separately from the surrounding document.
	ExprLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "whitespace", Pattern: `\s+`},
		{Name: "This", Pattern: `this\b`},
		{Name: "Bool", Pattern: `true\b|false\b`},
		{Name: "Null", Pattern: `null\b|undefined\b`},
		{Name: "ArgName", Pattern: `@[A-Za-z_][A-Za-z0-9_]*`},
		{Name: "NamedKey", Pattern: `[A-Za-z_][A-Za-z0-9_]*=`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
		{Name: "String", Pattern: `"(?:\\.|[^"])*"|'(?:\\.|[^'])*'`},
		{Name: "Number", Pattern: `[-+]?\d*\.?\d+`},
		{Name: "Dot", Pattern: `\.`},
		{Name: "LeftParen", Pattern: `\(`},
		{Name: "RightParen", Pattern: `\)`},
	})
)

func buildExpressionParser() *participle.Parser[Expression] {
	return participle.MustBuild[Expression](
		participle.Lexer(ExprLexer),
		participle.Elide("whitespace"),
		participle.UseLookahead(2),
	)
}
