package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docchunk/internal/classify"
	"github.com/dgallion1/docchunk/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	mdImage = regexp.MustCompile(`!\[([^\]\n]*)\]\([^)\n]*\)`)
	mdLink  = regexp.MustCompile(`(^|[^!])\[([^\]\n]+)\]\([^)\n]*\)`)
)

var gm = goldmark.New(goldmark.WithExtensions(extension.Table))

// MarkdownParser splits Markdown into one unit per top-level block using
// goldmark. Unit text is the block's source, except for headings, which
// carry their inline text.
type MarkdownParser struct {
	RemoveLinks  bool
	RemoveImages bool
}

func (p *MarkdownParser) Label() classify.Label { return classify.Markdown }

func (p *MarkdownParser) ParseHierarchical(content string) (*doctree.SectionNode, []doctree.Diagnostic) {
	return hierarchical(p, content)
}

func (p *MarkdownParser) ParseFlat(content string) ([]doctree.Unit, []doctree.Diagnostic) {
	var diags []doctree.Diagnostic
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "\uFFFD")
		diags = append(diags, doctree.Diagnostic{
			Kind:    doctree.DegradedParse,
			Message: "invalid UTF-8 sequences replaced",
		})
	}
	content = p.rewrite(content)

	src := []byte(content)
	doc := gm.Parser().Parse(text.NewReader(src))
	idx := newLineIndex(src)

	var units []doctree.Unit
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if n.Kind() == ast.KindThematicBreak {
			continue
		}
		first, last, ok := blockLines(n, src, idx)
		if !ok {
			continue
		}
		lr := &doctree.LineRange{Start: first, End: last}
		raw := strings.TrimSpace(idx.text(src, first, last))

		u := doctree.Unit{Kind: doctree.KindParagraph, Text: raw, Lines: lr}
		switch node := n.(type) {
		case *ast.Heading:
			u.Kind = doctree.KindHeading
			u.Level = node.Level
			u.Text = inlineText(node, src)
		case *ast.Paragraph:
			switch {
			case imageOnly(node, src):
				u.Kind = doctree.KindImage
				u.Text = inlineText(node, src)
				u.RawMarkup = raw
			case containsHTML(node):
				u.RawMarkup = raw
			}
		case *ast.HTMLBlock:
			u.RawMarkup = raw
			lower := strings.ToLower(raw)
			switch {
			case tableOpen.MatchString(raw):
				u.Kind = doctree.KindTable
			case strings.HasPrefix(lower, "<img"):
				u.Kind = doctree.KindImage
			}
		case *extast.Table:
			u.Kind = doctree.KindTable
			u.RawMarkup = raw
		case *ast.List, *ast.Blockquote:
			if containsHTML(node) {
				u.RawMarkup = raw
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
		default:
			diags = append(diags, doctree.Diagnostic{
				Kind:    doctree.DegradedParse,
				Message: fmt.Sprintf("unrecognised block %s kept as paragraph", n.Kind()),
				Lines:   lr,
			})
		}
		if u.Text == "" && u.RawMarkup == "" {
			continue
		}
		units = append(units, u)
	}
	return units, diags
}

// ExtractTables removes pipe tables and <table> elements, ignoring anything
// inside fenced code.
func (p *MarkdownParser) ExtractTables(content string) (string, []doctree.ExtractedTable) {
	lines := strings.SplitAfter(content, "\n")
	offs := make([]int, len(lines)+1)
	for i, l := range lines {
		offs[i+1] = offs[i] + len(l)
	}

	var (
		spans     []span
		fence     string
		skipUntil int
	)
	for i := 0; i < len(lines); i++ {
		if offs[i] < skipUntil {
			continue
		}
		t := strings.TrimSpace(lines[i])
		if m := fenceMarker(t); m != "" {
			switch {
			case fence == "":
				fence = m
			case m == fence:
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}

		if loc := tableOpen.FindStringIndex(lines[i]); loc != nil {
			start := offs[i] + loc[0]
			if n := htmlTableEnd(content[start:]); n > 0 {
				spans = append(spans, span{start, start + n})
				skipUntil = start + n
				continue
			}
		}

		if isPipeRow(t) && i+1 < len(lines) && isPipeSeparator(lines[i+1]) {
			j := i + 2
			for j < len(lines) && isPipeRow(lines[j]) {
				j++
			}
			spans = append(spans, span{offs[i], offs[j]})
			i = j - 1
		}
	}
	return cutSpans(content, spans)
}

func (p *MarkdownParser) rewrite(content string) string {
	if p.RemoveImages {
		content = mdImage.ReplaceAllString(content, "$1")
	}
	if p.RemoveLinks {
		content = mdLink.ReplaceAllString(content, "${1}${2}")
	}
	return content
}

func fenceMarker(line string) string {
	switch {
	case strings.HasPrefix(line, "```"):
		return "```"
	case strings.HasPrefix(line, "~~~"):
		return "~~~"
	}
	return ""
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex []int

func newLineIndex(src []byte) lineIndex {
	starts := lineIndex{0}
	for i, b := range src {
		if b == '\n' && i+1 < len(src) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func (li lineIndex) line(off int) int {
	return sort.Search(len(li), func(i int) bool { return li[i] > off })
}

func (li lineIndex) text(src []byte, first, last int) string {
	first = max(first, 1)
	last = min(last, len(li))
	if first > last {
		return ""
	}
	end := len(src)
	if last < len(li) {
		end = li[last]
	}
	return string(src[li[first-1]:end])
}

// blockLines returns the first and last source line of a top-level block.
func blockLines(n ast.Node, src []byte, idx lineIndex) (int, int, bool) {
	switch node := n.(type) {
	case *ast.FencedCodeBlock:
		return fencedLines(node, src, idx)
	case *ast.HTMLBlock:
		first, last, ok := segmentLines(n, idx)
		if node.HasClosure() {
			closing := idx.line(node.ClosureLine.Start)
			if !ok {
				first = closing
			}
			return first, max(last, closing), true
		}
		return first, last, ok
	}
	return segmentLines(n, idx)
}

// fencedLines widens the code lines of a fenced block to its fences.
func fencedLines(node *ast.FencedCodeBlock, src []byte, idx lineIndex) (int, int, bool) {
	lines := node.Lines()
	var first, last int
	switch {
	case node.Info != nil:
		first = idx.line(node.Info.Segment.Start)
	case lines.Len() > 0:
		first = idx.line(lines.At(0).Start) - 1
	default:
		return 0, 0, false
	}
	last = first
	if lines.Len() > 0 {
		seg := lines.At(lines.Len() - 1)
		last = idx.line(max(seg.Stop-1, seg.Start))
	}
	if next := last + 1; next <= len(idx) {
		if fenceMarker(strings.TrimSpace(idx.text(src, next, next))) != "" {
			last = next
		}
	}
	return max(first, 1), last, true
}

// segmentLines spans every source segment under n.
func segmentLines(n ast.Node, idx lineIndex) (int, int, bool) {
	start, stop := -1, -1
	add := func(s text.Segment) {
		if s.Stop <= s.Start {
			return
		}
		if start < 0 || s.Start < start {
			start = s.Start
		}
		if s.Stop > stop {
			stop = s.Stop
		}
	}
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := c.(type) {
		case *ast.Text:
			add(node.Segment)
		case *ast.RawHTML:
			for i := 0; i < node.Segments.Len(); i++ {
				add(node.Segments.At(i))
			}
		}
		if c.Type() == ast.TypeBlock {
			lines := c.Lines()
			for i := 0; i < lines.Len(); i++ {
				add(lines.At(i))
			}
		}
		return ast.WalkContinue, nil
	})
	if start < 0 {
		return 0, 0, false
	}
	return idx.line(start), idx.line(max(stop-1, start)), true
}

// inlineText concatenates the text of n's inline descendants.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *ast.Text:
				sb.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteByte(' ')
				}
			case *ast.String:
				sb.Write(node.Value)
			case *ast.AutoLink:
				sb.Write(node.Label(src))
			case *ast.RawHTML:
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// imageOnly reports whether a paragraph holds nothing but images.
func imageOnly(p *ast.Paragraph, src []byte) bool {
	found := false
	for c := p.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Image:
			found = true
		case *ast.Text:
			if strings.TrimSpace(string(node.Segment.Value(src))) != "" {
				return false
			}
		default:
			return false
		}
	}
	return found
}

func containsHTML(n ast.Node) bool {
	found := false
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c.Kind() {
		case ast.KindRawHTML, ast.KindHTMLBlock:
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}
