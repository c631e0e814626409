package convert

import (
	"bytes"
	"context"
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLConverter converts HTML to Markdown. Unknown tags keep their text content,
// comments are dropped, and tables without a header row get an empty one.
type HTMLConverter struct {
	conv *converter.Converter
}

// NewHTMLConverter returns a converter with the base, commonmark and table plugins.
func NewHTMLConverter() *HTMLConverter {
	return &HTMLConverter{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Convert returns the Markdown rendering of content.
func (c *HTMLConverter) Convert(ctx context.Context, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}
	prepare(doc)
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("render HTML: %w", err)
	}
	md, err := c.conv.ConvertString(buf.String())
	if err != nil {
		return "", fmt.Errorf("convert HTML to markdown: %w", err)
	}
	return NormalizeText(md), nil
}

// prepare strips comments and adds header rows to tables that lack one.
func prepare(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.CommentNode {
			n.RemoveChild(child)
		} else {
			prepare(child)
		}
		child = next
	}
	if n.Type == html.ElementNode && n.DataAtom == atom.Table {
		ensureHeaderRow(n)
	}
}

func ensureHeaderRow(tableNode *html.Node) {
	var rows []*html.Node
	hasHeader := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				// nested tables are handled by their own prepare call
			case atom.Thead, atom.Th:
				hasHeader = true
				walk(c)
			case atom.Tr:
				rows = append(rows, c)
				walk(c)
			case atom.Tbody, atom.Tfoot:
				walk(c)
			}
		}
	}
	walk(tableNode)
	if hasHeader || len(rows) == 0 {
		return
	}
	cols := 0
	for _, tr := range rows {
		n := 0
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
				n++
			}
		}
		if n > cols {
			cols = n
		}
	}
	thead := &html.Node{Type: html.ElementNode, DataAtom: atom.Thead, Data: "thead"}
	tr := &html.Node{Type: html.ElementNode, DataAtom: atom.Tr, Data: "tr"}
	for i := 0; i < cols; i++ {
		tr.AppendChild(&html.Node{Type: html.ElementNode, DataAtom: atom.Th, Data: "th"})
	}
	thead.AppendChild(tr)
	tableNode.InsertBefore(thead, tableNode.FirstChild)
}
