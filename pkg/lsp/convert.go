package lsp

import (
	"net/url"
	"strings"
	"unicode/utf16"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/tmplhint/tmplhint/pkg/bridge"
	"github.com/tmplhint/tmplhint/pkg/position"
)

func uriToPath(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	return u.Path
}

func pathToURI(path string) protocol.DocumentUri {
	return protocol.DocumentUri("file://" + path)
}

// The protocol counts a position's Character in UTF-16 code units, while
// everything behind the registry speaks byte offsets. Both conversions
// transcode within the position's line only.

func toOffset(src string, p protocol.Position) int {
	lineStart := position.OffsetOf(src, position.Place{Line: int(p.Line)})
	units := int(p.Character)
	for i, r := range src[lineStart:] {
		if units <= 0 || r == '\n' {
			return lineStart + i
		}
		units -= utf16RuneLen(r)
	}
	return len(src)
}

func toPosition(src string, offset int) protocol.Position {
	pl := position.PlaceOf(src, offset)
	units := 0
	for _, r := range src[offset-pl.Character : offset] {
		units += utf16RuneLen(r)
	}
	return protocol.Position{Line: protocol.UInteger(pl.Line), Character: protocol.UInteger(units)}
}

func utf16RuneLen(r rune) int {
	// Invalid runes are counted as one unit, matching utf16.Encode.
	return len(utf16.Encode([]rune{r}))
}

func toRange(src string, span position.Span) protocol.Range {
	return protocol.Range{
		Start: toPosition(src, span.Start),
		End:   toPosition(src, span.End),
	}
}

func toProtocolDiagnostics(src string, diags []bridge.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	severity := protocol.DiagnosticSeverityError
	for _, d := range diags {
		source := "tmplhint." + d.Source
		out = append(out, protocol.Diagnostic{
			Range:    toRange(src, d.Span),
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

func formatHover(h bridge.Hover) string {
	var b strings.Builder
	b.WriteString("```go\n")
	b.WriteString(h.Name)
	if h.Type != "" {
		b.WriteString(" " + h.Type)
	}
	b.WriteString("\n```")
	if h.Doc != "" {
		b.WriteString("\n\n" + h.Doc)
	}
	return b.String()
}
