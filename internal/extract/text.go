package extract

import (
	"strings"

	"github.com/abelbrown/dailybrief/internal/tracklink"
	"golang.org/x/net/html"
)

// skipElements are subtrees that carry no readable content.
var skipElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"head":     {},
	"svg":      {},
	"img":      {},
	"noscript": {},
	"iframe":   {},
}

// blockElements get a newline after their content so the flattened text
// keeps some document structure.
var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "li": {}, "tr": {}, "td": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"br": {}, "table": {}, "ul": {}, "ol": {}, "blockquote": {},
}

// HTMLToText flattens an HTML document to plain text for the model,
// keeping hyperlink targets inline as "text (url)". Tracking links are
// unwrapped statically during the walk so the model sees real
// destinations instead of redirector noise.
func HTMLToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}

	var b strings.Builder
	walkText(doc, &b)

	// Collapse runs of blank lines and intra-line whitespace.
	lines := make([]string, 0, 64)
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func walkText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		if _, skip := skipElements[n.Data]; skip {
			return
		}
		if n.Data == "a" {
			writeAnchor(n, b)
			return
		}
	}

	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}

	if n.Type == html.ElementNode {
		if _, block := blockElements[n.Data]; block {
			b.WriteString("\n")
		}
	}
}

func writeAnchor(n *html.Node, b *strings.Builder) {
	href := ""
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = strings.TrimSpace(attr.Val)
			break
		}
	}

	var inner strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, &inner)
	}
	text := strings.Join(strings.Fields(inner.String()), " ")

	switch {
	case href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:"):
		b.WriteString(text)
	default:
		if unwrapped, ok := tracklink.Unwrap(href); ok {
			href = unwrapped
		}
		if text == "" {
			b.WriteString(href)
		} else {
			b.WriteString(text + " (" + href + ")")
		}
	}
	b.WriteString(" ")
}
