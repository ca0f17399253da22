// ABOUTME: Converts message bodies into plain text for previews and search
// ABOUTME: Markdown is flattened with goldmark, HTML has its tags stripped

package content

import (
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Content types understood by PlainText. Anything else is treated as plain text.
const (
	TypePlain    = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
)

// previewLimit is the maximum number of runes kept by Preview.
const previewLimit = 140

var (
	md        = goldmark.New()
	htmlTags  = regexp.MustCompile(`<[^>]*>`)
	blankRuns = regexp.MustCompile(`\s+`)
)

// PlainText returns the human-readable text of a message body.
func PlainText(body, contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case TypeMarkdown, "markdown":
		return collapse(markdownText([]byte(body)))
	case TypeHTML, "html":
		return collapse(html.UnescapeString(htmlTags.ReplaceAllString(body, " ")))
	default:
		return collapse(body)
	}
}

// Preview returns PlainText truncated to a single short line.
func Preview(body, contentType string) string {
	plain := PlainText(body, contentType)
	runes := []rune(plain)
	if len(runes) <= previewLimit {
		return plain
	}
	return strings.TrimSpace(string(runes[:previewLimit-1])) + "…"
}

func markdownText(src []byte) string {
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(node.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func collapse(s string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, " "))
}
