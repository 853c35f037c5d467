package emit

import (
	goparser "go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmplhint/tmplhint/pkg/parser"
	"github.com/tmplhint/tmplhint/pkg/sourcemap"
)

type fakeResolver struct {
	components map[string]ComponentRef
	helpers    map[string]HelperRef
}

func (r *fakeResolver) ResolveComponent(name string) (ComponentRef, bool) {
	c, ok := r.components[name]
	return c, ok
}

func (r *fakeResolver) ResolveHelper(name string) (HelperRef, bool) {
	h, ok := r.helpers[name]
	return h, ok
}

func cardHost() HostContext {
	return HostContext{
		Component: &ComponentRef{TypeName: "Card", ArgsTypeName: "CardArgs"},
		Resolver: &fakeResolver{
			components: map[string]ComponentRef{
				"Card": {TypeName: "Card", ArgsTypeName: "CardArgs"},
			},
			helpers: map[string]HelperRef{
				"formatDate": {FuncName: "formatDate"},
			},
		},
	}
}

func emitDoc(t *testing.T, doc, src string, host HostContext) *Fragment {
	t.Helper()
	tpl, diags := parser.Parse(doc, src)
	require.Empty(t, diags)
	return Emit(doc, tpl, host)
}

// roundTrip asserts that an original offset projects transparently into the
// fragment and back to itself.
func roundTrip(t *testing.T, frag *Fragment, off int) int {
	t.Helper()
	fragOff, kind, ok := frag.Map.ToFragment(frag.Doc, off)
	require.True(t, ok, "offset %d should be mapped", off)
	require.Equal(t, sourcemap.Transparent, kind)
	doc, back, kind, ok := frag.Map.ToOriginal(fragOff)
	require.True(t, ok)
	require.Equal(t, sourcemap.Transparent, kind)
	require.Equal(t, frag.Doc, doc)
	require.Equal(t, off, back, "fragment offset %d should project back", fragOff)
	return fragOff
}

// parseFragment asserts the fragment holds up the validity invariant: the
// emitted text always parses as Go, whatever the template contained.
func parseFragment(t *testing.T, frag *Fragment) {
	t.Helper()
	_, err := goparser.ParseFile(token.NewFileSet(), frag.Doc+".go", frag.Text, 0)
	require.NoError(t, err, "fragment must stay parsable:\n%s", frag.Text)
}

func TestEmitComponentFragmentText(t *testing.T) {
	frag := emitDoc(t, "card.hbs", "{{this.message}}", cardHost())

	want := `package templates

func __truthy(v any) bool { return v != nil }

func __h(vs ...any) any { return nil }

func (self *Card) __render() {
	var __args CardArgs
	_ = __args
	_ = self.message
}
`
	require.Equal(t, want, frag.Text)
}

func TestEmitDeterministic(t *testing.T) {
	src := "{{#each this.items as |item idx|}}<Card @title={{item}} />{{/each}}{{formatDate this.date}}"
	a := emitDoc(t, "card.hbs", src, cardHost())
	b := emitDoc(t, "card.hbs", src, cardHost())
	require.Equal(t, a.Text, b.Text)
	require.Equal(t, a.Map.Entries(), b.Map.Entries())
}

func TestComponentRoundTrip(t *testing.T) {
	src := "{{this.message}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())

	// `this` is rewritten to `self`, same length, still transparent
	thisOff := strings.Index(src, "this")
	fragOff, kind, ok := frag.Map.ToFragment("card.hbs", thisOff)
	require.True(t, ok)
	require.Equal(t, sourcemap.Transparent, kind)
	require.Equal(t, "self", frag.Text[fragOff:fragOff+4])

	msg := strings.Index(src, "message")
	for off := msg; off < msg+len("message"); off++ {
		roundTrip(t, frag, off)
	}
	fragMsg := roundTrip(t, frag, msg)
	require.Equal(t, "message", frag.Text[fragMsg:fragMsg+7])
}

func TestTemplateOnlyPrologue(t *testing.T) {
	src := "Hello {{name}} {{this.items}}"
	frag := emitDoc(t, "page.hbs", src, HostContext{})

	require.Contains(t, frag.Text, "func __render() {")
	require.Contains(t, frag.Text, "var self struct {")
	require.Contains(t, frag.Text, "items any")
	require.Contains(t, frag.Text, "var name any")

	// literal markup has no fragment presence
	for off := 0; off < len("Hello "); off++ {
		_, _, ok := frag.Map.ToFragment("page.hbs", off)
		require.False(t, ok, "text offset %d should be unmapped", off)
	}

	nameOff := strings.Index(src, "name")
	fragOff := roundTrip(t, frag, nameOff)
	require.Equal(t, "name", frag.Text[fragOff:fragOff+4])
}

func TestTemplateOnlyAmbientThis(t *testing.T) {
	frag := emitDoc(t, "page.hbs", "{{this.message}}", HostContext{AmbientThis: "PageModel"})
	require.Contains(t, frag.Text, "var self PageModel")
	require.Contains(t, frag.Text, "_ = self.message")
	require.NotContains(t, frag.Text, "var self struct")
}

func TestEachTemplateOnly(t *testing.T) {
	src := "{{#each this.items as |item idx|}}{{item.title}}{{/each}}"
	frag := emitDoc(t, "page.hbs", src, HostContext{})

	// the iterated member gets a slice type in the synthesized model
	require.Contains(t, frag.Text, "items []any")
	require.Contains(t, frag.Text, "for idx, item := range self.items {")

	// an any-typed binding cannot support member access; the reference
	// itself stays addressable, the member does not
	require.Contains(t, frag.Text, "_ = __h(item)")
	bodyItem := strings.LastIndex(src, "item")
	fragOff := roundTrip(t, frag, bodyItem)
	require.Equal(t, "item", frag.Text[fragOff:fragOff+4])

	titleOff := strings.Index(src, "title")
	_, _, ok := frag.Map.ToFragment("page.hbs", titleOff)
	require.False(t, ok)

	// block params are hoverable at their declaration site
	paramOff := strings.Index(src, "|item") + 1
	roundTrip(t, frag, paramOff)
	idxOff := strings.Index(src, "idx")
	roundTrip(t, frag, idxOff)
}

func TestEachComponentKeepsMemberAccess(t *testing.T) {
	src := "{{#each this.items as |item|}}{{item.title}}{{/each}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, "for _, item := range self.items {")
	require.Contains(t, frag.Text, "_ = item.title")
}

func TestIfUnlessElse(t *testing.T) {
	src := "{{#if this.ok}}{{this.message}}{{else}}{{this.fallback}}{{/if}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, "if __truthy(self.ok) {")
	require.Contains(t, frag.Text, "} else {")
	require.Contains(t, frag.Text, "_ = self.fallback")

	frag = emitDoc(t, "card.hbs", "{{#unless this.ok}}x{{/unless}}", cardHost())
	require.Contains(t, frag.Text, "if !__truthy(self.ok) {")
}

func TestLetBindingComponent(t *testing.T) {
	src := "{{#let this.user as |u|}}{{u.name}}{{/let}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())

	require.Contains(t, frag.Text, "u := (self.user)")
	require.Contains(t, frag.Text, "_ = u.name")

	nameOff := strings.Index(src, "name")
	fragOff := roundTrip(t, frag, nameOff)
	require.Equal(t, "name", frag.Text[fragOff:fragOff+4])
}

func TestComponentInvocation(t *testing.T) {
	src := `<Card @title={{this.message}} class="big" />`
	frag := emitDoc(t, "page.hbs", src, cardHost())

	require.Contains(t, frag.Text, "_ = Card{}")
	require.Contains(t, frag.Text, "_ = CardArgs{")
	require.Contains(t, frag.Text, "title: self.message,")

	tagOff := strings.Index(src, "Card")
	fragOff := roundTrip(t, frag, tagOff)
	require.Equal(t, "Card", frag.Text[fragOff:fragOff+4])

	titleOff := strings.Index(src, "title")
	fragOff = roundTrip(t, frag, titleOff)
	require.Equal(t, "title", frag.Text[fragOff:fragOff+5])

	// plain HTML attributes never reach the fragment
	require.NotContains(t, frag.Text, "big")
}

func TestUnresolvedComponentDegrades(t *testing.T) {
	src := `<Mystery @title={{this.message}} />`
	frag := emitDoc(t, "card.hbs", src, cardHost())

	// no args literal, but the argument expression still evaluates
	require.NotContains(t, frag.Text, "Mystery")
	require.Contains(t, frag.Text, "_ = self.message")
	roundTrip(t, frag, strings.Index(src, "message"))
}

func TestHelperCalls(t *testing.T) {
	src := `{{formatDate this.date "short"}}`
	frag := emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, `_ = formatDate(self.date, "short")`)
	fragOff := roundTrip(t, frag, strings.Index(src, "formatDate"))
	require.Equal(t, "formatDate", frag.Text[fragOff:fragOff+10])

	// unresolved helpers funnel through the sink with the head as a value,
	// so the host checker reports it at the reference itself
	src = "{{upper this.name}}"
	frag = emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, "_ = __h(upper, self.name)")

	// named arguments cannot become Go call syntax and ride along the sink
	src = `{{formatDate this.date zone="utc"}}`
	frag = emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, `_ = __h(formatDate(self.date), "utc")`)
}

func TestUnresolvedHelperTemplateOnly(t *testing.T) {
	src := "{{upper this.name}}"
	frag := emitDoc(t, "page.hbs", src, HostContext{})
	// template-only documents declare unknown heads instead of erroring
	require.Contains(t, frag.Text, "var upper any")
	require.Contains(t, frag.Text, "_ = __h(upper, self.name)")
}

func TestArgPaths(t *testing.T) {
	src := "{{@title}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, "_ = __args.title")

	titleOff := strings.Index(src, "title")
	fragOff := roundTrip(t, frag, titleOff)
	require.Equal(t, "title", frag.Text[fragOff:fragOff+5])

	// without a declared args struct the argument degrades to any
	host := HostContext{Component: &ComponentRef{TypeName: "Badge"}}
	frag = emitDoc(t, "badge.hbs", src, host)
	require.Contains(t, frag.Text, "var __arg_title any")
	require.Contains(t, frag.Text, "_ = __arg_title")
}

func TestDeepPathDegrades(t *testing.T) {
	src := "{{this.user.name}}"
	frag := emitDoc(t, "page.hbs", src, HostContext{})

	require.Contains(t, frag.Text, "__h(self.user)")
	roundTrip(t, frag, strings.Index(src, "user"))
	_, _, ok := frag.Map.ToFragment("page.hbs", strings.Index(src, "name"))
	require.False(t, ok)

	// with a backing type the full chain is emitted and checked
	frag = emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, "_ = self.user.name")
	roundTrip(t, frag, strings.Index(src, "name"))
}

func TestLiteralsAndNull(t *testing.T) {
	src := `{{formatDate this.date null}}`
	frag := emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, "formatDate(self.date, nil)")

	// null is a rewrite, not a verbatim copy
	nullOff := strings.Index(src, "null")
	_, kind, ok := frag.Map.ToFragment("card.hbs", nullOff)
	require.True(t, ok)
	require.Equal(t, sourcemap.Synthetic, kind)

	src = `{{formatDate this.date 'long'}}`
	frag = emitDoc(t, "card.hbs", src, cardHost())
	require.Contains(t, frag.Text, `formatDate(self.date, "long")`)
}

func TestCommentsAndTextSkipped(t *testing.T) {
	src := "{{!-- ignore {{this.ghost}} --}}<p>text</p>{{this.message}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())
	require.NotContains(t, frag.Text, "ghost")
	require.Contains(t, frag.Text, "_ = self.message")
}

func TestElementParamsDegradeToAny(t *testing.T) {
	src := "<Card as |body|>{{body}}</Card>"
	frag := emitDoc(t, "page.hbs", src, cardHost())
	require.Contains(t, frag.Text, "var body any")
	require.Contains(t, frag.Text, "_ = body")
	roundTrip(t, frag, strings.LastIndex(src, "body"))
}

func TestKeywordNamesDegrade(t *testing.T) {
	src := "{{type}} {{this.message}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())

	// a keyword cannot appear as a fragment identifier
	require.Contains(t, frag.Text, "_ = __h()")
	require.Contains(t, frag.Text, "_ = self.message")
	parseFragment(t, frag)
	roundTrip(t, frag, strings.Index(src, "message"))

	frag = emitDoc(t, "card.hbs", "{{this.type}}", cardHost())
	require.NotContains(t, frag.Text, "self.type")
	parseFragment(t, frag)

	frag = emitDoc(t, "page.hbs", "{{default}}", HostContext{})
	require.NotContains(t, frag.Text, "var default")
	parseFragment(t, frag)
}

func TestEachKeywordParamBindsNothing(t *testing.T) {
	src := "{{#each this.tags as |range|}}x{{/each}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())

	require.Contains(t, frag.Text, "for range self.tags {")
	require.NotContains(t, frag.Text, ":= range")
	parseFragment(t, frag)
}

func TestEachShadowingReusesName(t *testing.T) {
	src := "{{#each this.rows as |row|}}{{#each row as |row|}}{{row}}{{/each}}{{row}}{{/each}}"
	frag := emitDoc(t, "card.hbs", src, cardHost())

	require.Contains(t, frag.Text, "for _, row := range self.rows {")
	require.Contains(t, frag.Text, "for _, row := range row {")
	parseFragment(t, frag)

	// every appearance of the name keeps its own mapping
	for off := 0; off+3 <= len(src); off++ {
		if src[off:off+3] != "row" {
			continue
		}
		roundTrip(t, frag, off)
	}
}
