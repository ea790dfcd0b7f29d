package parser

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dgallion1/docchunk/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser extracts page text with the Go PDF library, optionally falling
// back to pdftotext. Each page is split into paragraphs carrying its page
// number.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) ParseFile(ctx context.Context, path string) ([]doctree.Unit, error) {
	pages, err := pdfPages(ctx, path)
	if err != nil && p.FallbackPdftotext && ctx.Err() == nil {
		pages, err = pdftotextPages(ctx, path)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	var units []doctree.Unit
	text := &TextParser{}
	for i, page := range pages {
		paras, _ := text.ParseFlat(page)
		for _, u := range paras {
			u.Page = i + 1
			u.Lines = nil
			units = append(units, u)
		}
	}
	return units, nil
}

// pdfPages returns the plain text of every page; unreadable pages are empty.
func pdfPages(ctx context.Context, path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pages := make([]string, reader.NumPage())
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i] = text
	}
	return pages, nil
}

func pdftotextPages(ctx context.Context, path string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return strings.Split(string(out), "\f"), nil
}
