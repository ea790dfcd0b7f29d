package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dgallion1/docchunk/internal/classify"
	"github.com/dgallion1/docchunk/internal/doctree"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// HTMLParser walks the parsed HTML body. Headings become heading units,
// tables and images become their own units, and the text between block-level
// tags becomes paragraphs.
type HTMLParser struct {
	// MainContent keeps only the article text found by readability,
	// falling back to the full body when none is found.
	MainContent bool
}

// Base URL for readability, which resolves relative links against it.
var readabilityBase = &url.URL{Scheme: "http", Host: "localhost", Path: "/"}

var htmlBlockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true,
	"figure": true, "form": true, "li": true, "main": true, "ol": true,
	"p": true, "section": true, "ul": true, "hr": true, "caption": true,
	"header": true, "footer": true, "nav": true,
}

func (p *HTMLParser) Label() classify.Label { return classify.HTML }

func (p *HTMLParser) ParseHierarchical(content string) (*doctree.SectionNode, []doctree.Diagnostic) {
	return hierarchical(p, content)
}

func (p *HTMLParser) ParseFlat(content string) ([]doctree.Unit, []doctree.Diagnostic) {
	if p.MainContent {
		if units := mainContent(content); len(units) > 0 {
			return units, nil
		}
	}

	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		diag := doctree.Diagnostic{Kind: doctree.DegradedParse, Message: fmt.Sprintf("parse html: %v", err)}
		return opaque(content), []doctree.Diagnostic{diag}
	}

	b := &htmlBuilder{}
	if body := findBody(doc); body != nil {
		b.walk(body)
	} else {
		b.walk(doc)
	}
	b.flush()
	return b.units, nil
}

func (p *HTMLParser) ExtractTables(content string) (string, []doctree.ExtractedTable) {
	return cutSpans(content, htmlTableSpans(content))
}

type htmlBuilder struct {
	units []doctree.Unit
	text  strings.Builder
}

func (b *htmlBuilder) flush() {
	t := collapseSpace(b.text.String())
	b.text.Reset()
	if t != "" {
		b.units = append(b.units, doctree.Unit{Kind: doctree.KindParagraph, Text: t})
	}
}

func (b *htmlBuilder) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.text.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.walk(c)
		}
		return
	}

	if level := headingLevel(n.Data); level > 0 {
		b.flush()
		if t := collapseSpace(textContent(n)); t != "" {
			b.units = append(b.units, doctree.Unit{Kind: doctree.KindHeading, Level: level, Text: t})
		}
		return // Heading text already extracted.
	}

	switch n.Data {
	case "script", "style", "noscript", "template", "head":
		return
	case "br":
		b.text.WriteByte('\n')
		return
	case "table":
		b.flush()
		b.units = append(b.units, doctree.Unit{
			Kind:      doctree.KindTable,
			Text:      tableRows(n),
			RawMarkup: render(n),
		})
		return
	case "img":
		b.flush()
		b.units = append(b.units, doctree.Unit{
			Kind:      doctree.KindImage,
			Text:      strings.TrimSpace(attr(n, "alt")),
			RawMarkup: render(n),
		})
		return
	case "pre":
		b.flush()
		if t := textContent(n); t != "" {
			b.units = append(b.units, doctree.Unit{Kind: doctree.KindParagraph, Text: t})
		}
		return
	}

	block := htmlBlockTags[n.Data]
	if block {
		b.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c)
	}
	if block {
		b.flush()
	}
}

// mainContent walks the article node found by readability, or returns nil
// when there is none. Readability demotes h1 to h2 inside the article.
func mainContent(content string) []doctree.Unit {
	article, err := readability.FromReader(strings.NewReader(content), readabilityBase)
	if err != nil || article.Node == nil || strings.TrimSpace(article.TextContent) == "" {
		return nil
	}
	b := &htmlBuilder{}
	b.walk(article.Node)
	b.flush()
	return b.units
}

func opaque(content string) []doctree.Unit {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return []doctree.Unit{{Kind: doctree.KindParagraph, Text: strings.TrimSpace(content)}}
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

// collapseSpace squeezes runs of spaces within each line and drops blank
// lines.
func collapseSpace(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			lines = append(lines, strings.Join(f, " "))
		}
	}
	return strings.Join(lines, "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func render(n *html.Node) string {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
