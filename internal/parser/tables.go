package parser

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docchunk/internal/doctree"
	"golang.org/x/net/html"
)

var (
	tableOpen    = regexp.MustCompile(`(?i)<table[\s>/]`)
	pipeSepRow   = regexp.MustCompile(`^\|?\s*:?-+:?\s*(\|\s*:?-+:?\s*)*\|?$`)
	blankLineRun = regexp.MustCompile(`\n[ \t]*\n([ \t]*\n)+`)
)

type span struct{ start, end int }

func isPipeRow(line string) bool {
	return strings.Contains(line, "|") && strings.TrimSpace(line) != ""
}

func isPipeSeparator(line string) bool {
	line = strings.TrimSpace(line)
	return strings.Contains(line, "|") && pipeSepRow.MatchString(line)
}

// htmlTableEnd returns the length of the outermost table element at the
// start of s, or -1 if it is never closed.
func htmlTableEnd(s string) int {
	z := html.NewTokenizer(strings.NewReader(s))
	depth, pos := 0, 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return -1
		}
		pos += len(z.Raw())
		if tt != html.StartTagToken && tt != html.EndTagToken {
			continue
		}
		name, _ := z.TagName()
		if string(name) != "table" {
			continue
		}
		if tt == html.StartTagToken {
			depth++
			continue
		}
		depth--
		if depth == 0 {
			return pos
		}
	}
}

// htmlTableSpans finds closed top-level <table> elements in s.
func htmlTableSpans(s string) []span {
	var spans []span
	for cursor := 0; cursor < len(s); {
		loc := tableOpen.FindStringIndex(s[cursor:])
		if loc == nil {
			break
		}
		start := cursor + loc[0]
		n := htmlTableEnd(s[start:])
		if n < 0 {
			break
		}
		spans = append(spans, span{start, start + n})
		cursor = start + n
	}
	return spans
}

// cutSpans removes the ordered, non-overlapping spans from content and
// returns the remaining text and the removed tables.
func cutSpans(content string, spans []span) (string, []doctree.ExtractedTable) {
	if len(spans) == 0 {
		return content, nil
	}
	var (
		rest   strings.Builder
		tables []doctree.ExtractedTable
		last   int
	)
	for _, sp := range spans {
		rest.WriteString(content[last:sp.start])
		tables = append(tables, doctree.ExtractedTable{
			RawMarkup: strings.TrimSpace(content[sp.start:sp.end]),
			Position:  sp.start,
		})
		last = sp.end
	}
	rest.WriteString(content[last:])
	return strings.TrimSpace(blankLineRun.ReplaceAllString(rest.String(), "\n\n")), tables
}

// tableRows renders a parsed <table> as one line per row with cells joined
// by " | ".
func tableRows(table *html.Node) string {
	var rows []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, collapseSpace(textContent(c)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return strings.Join(rows, "\n")
}
