// Package parser turns document content into ordered structural units.
//
// Text formats (Markdown, HTML, plain text) implement Parser and are chosen
// by a Selector, either from a forced label or from content classification.
// Binary formats (PDF, DOCX, CSV) implement FileParser and read from disk.
package parser

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docchunk/internal/classify"
	"github.com/dgallion1/docchunk/internal/doctree"
)

// Parser converts content of a single label into structural units. Parsers
// never fail on content shape; spans they cannot structure become opaque
// paragraph units and a DegradedParse diagnostic.
type Parser interface {
	Label() classify.Label
	ParseFlat(content string) ([]doctree.Unit, []doctree.Diagnostic)
	ParseHierarchical(content string) (*doctree.SectionNode, []doctree.Diagnostic)
	// ExtractTables removes tables from content, returning the remaining
	// prose and the tables with their byte offsets in content.
	ExtractTables(content string) (string, []doctree.ExtractedTable)
}

// FileParser reads a document that is not plain text, such as a PDF. A
// remote parsing service plugs in through the same interface.
type FileParser interface {
	ParseFile(ctx context.Context, path string) ([]doctree.Unit, error)
}

// Options tunes the text parsers built by a Selector.
type Options struct {
	RemoveLinks     bool // Markdown: [text](url) becomes text
	RemoveImages    bool // Markdown: ![alt](url) becomes alt
	HTMLMainContent bool // HTML: keep only the main article content
}

// Selector picks the parser for a piece of content.
type Selector struct {
	classifier *classify.Classifier
	markdown   *MarkdownParser
	html       *HTMLParser
	text       *TextParser
}

// NewSelector returns a Selector backed by c. A nil classifier uses the
// default weights.
func NewSelector(c *classify.Classifier, opts Options) *Selector {
	if c == nil {
		c = classify.Default()
	}
	return &Selector{
		classifier: c,
		markdown:   &MarkdownParser{RemoveLinks: opts.RemoveLinks, RemoveImages: opts.RemoveImages},
		html:       &HTMLParser{MainContent: opts.HTMLMainContent},
		text:       &TextParser{},
	}
}

// ForLabel returns the parser for label. Unknown labels get the plain-text
// parser.
func (s *Selector) ForLabel(label classify.Label) Parser {
	switch label {
	case classify.Markdown:
		return s.markdown
	case classify.HTML:
		return s.html
	default:
		return s.text
	}
}

// Select returns the parser for content. A non-empty forced type bypasses
// classification; it fails with classify.ErrUnsupportedFormat when it names
// no known label.
func (s *Selector) Select(content, forced string) (Parser, classify.ContentSignature, error) {
	if strings.TrimSpace(forced) != "" {
		label, err := classify.ParseLabel(forced)
		if err != nil {
			return nil, classify.ContentSignature{}, err
		}
		return s.ForLabel(label), classify.ContentSignature{Label: label}, nil
	}
	sig := s.classifier.Classify(content)
	return s.ForLabel(sig.Label), sig, nil
}

// Classifier returns the classifier used for unforced selection.
func (s *Selector) Classifier() *classify.Classifier {
	return s.classifier
}

// DefaultFileParsers maps lower-case file extensions to the built-in file
// parsers.
func DefaultFileParsers() map[string]FileParser {
	return map[string]FileParser{
		".pdf":  &PDFParser{},
		".docx": &DOCXParser{},
		".csv":  &CSVParser{},
	}
}

// textExtensions lists extensions read as text and classified by content.
var textExtensions = map[string]bool{
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
}

// IsSupportedExtension checks if a file extension can be ingested, either as
// text or through a built-in file parser.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if textExtensions[ext] {
		return true
	}
	_, ok := DefaultFileParsers()[ext]
	return ok
}

// hierarchical nests the flat parse of content under its headings.
func hierarchical(p Parser, content string) (*doctree.SectionNode, []doctree.Diagnostic) {
	units, diags := p.ParseFlat(content)
	return doctree.BuildSections(units), diags
}
