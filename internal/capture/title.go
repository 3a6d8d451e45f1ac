package capture

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// titleFromHeading returns the text of body's first heading (ATX "#" or
// setext underline style, wherever it appears in the body), or "" if the
// body has none. Using goldmark's AST (rather than a regex) means
// inline emphasis and code spans inside the heading are handled correctly.
func titleFromHeading(body string) string {
	src := []byte(body)
	root := goldmark.DefaultParser().Parse(text.NewReader(src))

	var title string

	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || title != "" {
			return ast.WalkContinue, nil
		}

		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}

		title = strings.TrimSpace(headingText(heading, src))

		return ast.WalkStop, nil
	})

	return title
}

// headingText concatenates the raw text of a heading's inline children.
// goldmark's AST nodes hold byte-range segments into src rather than owned
// strings, so text extraction walks the tree rather than calling a single
// accessor.
func headingText(heading *ast.Heading, src []byte) string {
	var b strings.Builder

	for c := heading.FirstChild(); c != nil; c = c.NextSibling() {
		writeInlineText(&b, c, src)
	}

	return b.String()
}

func writeInlineText(b *strings.Builder, n ast.Node, src []byte) {
	if textNode, ok := n.(*ast.Text); ok {
		b.Write(textNode.Segment.Value(src))

		return
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		writeInlineText(b, c, src)
	}
}
