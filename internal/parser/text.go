package parser

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/dgallion1/docchunk/internal/classify"
	"github.com/dgallion1/docchunk/internal/doctree"
)

// TextParser splits plain text into paragraphs at blank lines. It has no
// heading concept, so its hierarchy is a single root section.
type TextParser struct{}

func (p *TextParser) Label() classify.Label { return classify.PlainText }

func (p *TextParser) ParseFlat(content string) ([]doctree.Unit, []doctree.Diagnostic) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		units   []doctree.Unit
		current strings.Builder
		start   int
		lineNo  int
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		units = append(units, doctree.Unit{
			Kind:  doctree.KindParagraph,
			Text:  current.String(),
			Lines: &doctree.LineRange{Start: start, End: lineNo - 1},
		})
		current.Reset()
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if current.Len() == 0 {
			start = lineNo
		} else {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	lineNo++
	flush()

	if err := scanner.Err(); err != nil {
		diag := doctree.Diagnostic{Kind: doctree.DegradedParse, Message: fmt.Sprintf("scan text: %v", err)}
		return opaque(content), []doctree.Diagnostic{diag}
	}
	return units, nil
}

// ParseHierarchical returns a root section holding every paragraph.
func (p *TextParser) ParseHierarchical(content string) (*doctree.SectionNode, []doctree.Diagnostic) {
	units, diags := p.ParseFlat(content)
	if units == nil {
		units = []doctree.Unit{}
	}
	return &doctree.SectionNode{Level: 0, Content: units}, diags
}

// ExtractTables is a no-op for plain text.
func (p *TextParser) ExtractTables(content string) (string, []doctree.ExtractedTable) {
	return content, nil
}
