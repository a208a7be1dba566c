package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/dgallion1/regcheck/internal/document"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark. Each top-level
// block, headings included, becomes its own paragraph.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*document.Source, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var paragraphs []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if t := extractText(n, src); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}

	return singlePage(filename, paragraphs), nil
}

// extractText gets the text content of a goldmark AST node. Leaf blocks
// such as code blocks carry their text in Lines; everything else is
// assembled from inline children.
func extractText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && !n.HasChildren() {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
		return strings.TrimSpace(buf.String())
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
			continue
		}
		if c.Type() == ast.TypeBlock && buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(extractText(c, src))
	}
	return strings.TrimSpace(buf.String())
}
