package hostcheck

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const cardSource = `package templates

// Card shows a titled message.
type Card struct {
	// message is the body text.
	message string
	user    User
}

type User struct {
	name string
}

// CardArgs declares the card's inputs.
type CardArgs struct {
	title string
}

// formatDate renders a timestamp.
func formatDate(v any, layout string) string { return layout }
`

const fragmentSource = `package templates

func __truthy(v any) bool { return v != nil }

func __h(vs ...any) any { return nil }

func (self *Card) __render() {
	var __args CardArgs
	_ = __args
	_ = self.message
	_ = __args.title
	_ = formatDate(self.user, "short")
}
`

func analyze(t *testing.T, fragText string) *Analysis {
	t.Helper()
	a, err := Analyze(context.Background(), "templates", "card.hbs.go", fragText,
		map[string]string{"card.go": cardSource})
	require.NoError(t, err)
	return a
}

func TestAnalyzeCleanFragment(t *testing.T) {
	a := analyze(t, fragmentSource)
	require.Empty(t, a.Diagnostics())
}

func TestAnalyzeReportsUnknownMember(t *testing.T) {
	broken := strings.Replace(fragmentSource, "self.message", "self.oops", 1)
	a := analyze(t, broken)

	diags := a.Diagnostics()
	require.Len(t, diags, 1)
	require.Contains(t, diags[0].Message, "oops")

	// the reported span covers the offending identifier
	off := strings.Index(broken, "oops")
	require.True(t, diags[0].Span.Contains(off),
		"span %v should contain offset %d", diags[0].Span, off)
}

func TestTypeAtField(t *testing.T) {
	a := analyze(t, fragmentSource)

	off := strings.Index(fragmentSource, "message")
	ti, ok := a.TypeAt(off)
	require.True(t, ok)
	require.Equal(t, "message", ti.Name)
	require.Equal(t, "string", ti.Type)
	require.Equal(t, "message is the body text.", ti.Doc)
	require.Equal(t, off, ti.Ident.Start)
}

func TestTypeAtFunc(t *testing.T) {
	a := analyze(t, fragmentSource)

	off := strings.Index(fragmentSource, "formatDate")
	ti, ok := a.TypeAt(off)
	require.True(t, ok)
	require.Equal(t, "func(v any, layout string) string", ti.Type)
	require.Equal(t, "formatDate renders a timestamp.", ti.Doc)
}

func TestTypeAtEndOfIdentifier(t *testing.T) {
	a := analyze(t, fragmentSource)

	end := strings.Index(fragmentSource, "message") + len("message")
	ti, ok := a.TypeAt(end)
	require.True(t, ok)
	require.Equal(t, "message", ti.Name)
}

func TestDefinitionAt(t *testing.T) {
	a := analyze(t, fragmentSource)

	loc, ok := a.DefinitionAt(strings.Index(fragmentSource, "message"))
	require.True(t, ok)
	require.Equal(t, "card.go", loc.File)
	require.Equal(t, strings.Index(cardSource, "message string"), loc.Span.Start)
	require.Equal(t, len("message"), loc.Span.Len())

	loc, ok = a.DefinitionAt(strings.Index(fragmentSource, "formatDate"))
	require.True(t, ok)
	require.Equal(t, "card.go", loc.File)
}

func TestReferencesAt(t *testing.T) {
	a := analyze(t, fragmentSource)
	off := strings.Index(fragmentSource, "message")

	refs := a.ReferencesAt(off, false)
	require.Len(t, refs, 1)
	require.Equal(t, "card.hbs.go", refs[0].File)
	require.Equal(t, off, refs[0].Span.Start)

	withDecl := a.ReferencesAt(off, true)
	require.Len(t, withDecl, 2)
	require.Equal(t, "card.go", withDecl[0].File)
}

func TestAnalyzeSkipsBrokenSibling(t *testing.T) {
	a, err := Analyze(context.Background(), "templates", "card.hbs.go",
		"package templates\n\nfunc __render() {\n\tvar self any\n\t_ = self\n}\n",
		map[string]string{"broken.go": "package templates\n\nfunc ("})
	require.NoError(t, err)
	require.Empty(t, a.Diagnostics())
}

func TestAnalyzeUnparsableFragmentDegrades(t *testing.T) {
	broken := "package templates\n\nfunc __render() { var }\n"
	a, err := Analyze(context.Background(), "templates", "card.hbs.go", broken,
		map[string]string{"card.go": cardSource})
	require.NoError(t, err)

	diags := a.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, 0, diags[0].Span.Start)
	require.Equal(t, len(broken), diags[0].Span.End)
	require.Contains(t, diags[0].Message, "could not be analyzed")

	// point queries stay quiet instead of panicking
	_, ok := a.TypeAt(10)
	require.False(t, ok)
	_, ok = a.DefinitionAt(10)
	require.False(t, ok)
	require.Empty(t, a.ReferencesAt(10, true))
}
