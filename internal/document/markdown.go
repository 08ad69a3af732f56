package document

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// loadMarkdown parses the document and emits one segment per
// heading-delimited section. Content before the first heading becomes its
// own untitled section.
func loadMarkdown(data []byte, source string) ([]Raw, error) {
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(data))

	var (
		raws     []Raw
		section  strings.Builder
		title    string
		sections int
	)

	flush := func() {
		content := strings.TrimSpace(section.String())
		section.Reset()
		if content == "" {
			return
		}
		meta := map[string]any{
			"source":  source,
			"section": sections,
		}
		if title != "" {
			meta["heading"] = title
		}
		raws = append(raws, Raw{Content: content, Metadata: meta})
		sections++
	}

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		if heading, ok := node.(*ast.Heading); ok {
			flush()
			title = strings.TrimSpace(blockText(heading, data))
			section.WriteString(title)
			section.WriteString("\n")
			continue
		}
		section.WriteString(blockText(node, data))
		section.WriteString("\n")
	}
	flush()

	return raws, nil
}

// blockText collects the raw source text of a block node and its descendants.
func blockText(node ast.Node, src []byte) string {
	var b strings.Builder
	collectLines(node, src, &b)
	return strings.TrimRight(b.String(), "\n")
}

func collectLines(node ast.Node, src []byte, b *strings.Builder) {
	if node.Type() == ast.TypeBlock {
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(src))
		}
	}
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		collectLines(child, src, b)
	}
}
