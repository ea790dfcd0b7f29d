package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dgallion1/docchunk/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser reads .docx paragraphs. Paragraphs styled as headings become
// heading units.
type DOCXParser struct{}

func (p *DOCXParser) ParseFile(ctx context.Context, path string) ([]doctree.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat docx: %w", err)
	}
	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	var units []doctree.Unit
	for _, item := range doc.Document.Body.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := docxParagraphText(para)
		if text == "" {
			continue
		}
		if level := docxHeadingLevel(para); level > 0 {
			units = append(units, doctree.Unit{Kind: doctree.KindHeading, Level: level, Text: text})
			continue
		}
		units = append(units, doctree.Unit{Kind: doctree.KindParagraph, Text: text})
	}
	return units, nil
}

// docxHeadingLevel maps "Heading1" / "heading 1" style names to a level.
func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if len(style) != len("heading1") || !strings.HasPrefix(style, "heading") {
		return 0
	}
	return headingLevel("h" + style[len("heading"):])
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
