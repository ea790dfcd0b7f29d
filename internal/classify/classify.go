// Package classify labels raw text as Markdown, HTML or plain text by
// scoring independent regex feature detectors.
package classify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Label is a content type the parsers understand.
type Label string

const (
	Markdown  Label = "markdown"
	HTML      Label = "html"
	PlainText Label = "text"
)

// ErrUnsupportedFormat is returned when a forced type names no known label.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ParseLabel maps a user-supplied type name to a Label.
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return Markdown, nil
	case "html", "htm":
		return HTML, nil
	case "text", "txt", "plaintext", "plain":
		return PlainText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Weights holds the per-signal weights and decision thresholds.
//
// Every signal contributes weight * min(matches, SignalCap). A document is
// HTML when its HTML score is greater than HTMLThreshold and greater than its
// Markdown score; otherwise Markdown when its Markdown score is greater than
// MarkdownThreshold; otherwise plain text. Equal scores favour Markdown.
//
// The defaults keep two invariants: two ATX headings (score 6) always beat the
// capped non-tag HTML signals (entities + comments, at most 6), and a DOCTYPE
// (40) outweighs the largest possible Markdown score (30).
type Weights struct {
	Heading   int `yaml:"heading" json:"heading"`
	CodeFence int `yaml:"code_fence" json:"code_fence"`
	ListItem  int `yaml:"list_item" json:"list_item"`
	Link      int `yaml:"link" json:"link"`
	Image     int `yaml:"image" json:"image"`
	TableRow  int `yaml:"table_row" json:"table_row"`

	Doctype int `yaml:"doctype" json:"doctype"`
	Tag     int `yaml:"tag" json:"tag"`
	Entity  int `yaml:"entity" json:"entity"`
	Comment int `yaml:"comment" json:"comment"`

	SignalCap         int `yaml:"signal_cap" json:"signal_cap"`
	MarkdownThreshold int `yaml:"markdown_threshold" json:"markdown_threshold"`
	HTMLThreshold     int `yaml:"html_threshold" json:"html_threshold"`
}

// DefaultWeights returns the documented default weights.
func DefaultWeights() Weights {
	return Weights{
		Heading:   3,
		CodeFence: 3,
		ListItem:  1,
		Link:      1,
		Image:     1,
		TableRow:  1,

		Doctype: 40,
		Tag:     1,
		Entity:  1,
		Comment: 1,

		SignalCap:         3,
		MarkdownThreshold: 1,
		HTMLThreshold:     2,
	}
}

// ContentSignature is the result of one classification. Scores and features
// are diagnostics only.
type ContentSignature struct {
	Label         Label          `json:"label"`
	MarkdownScore int            `json:"markdown_score"`
	HTMLScore     int            `json:"html_score"`
	Features      map[string]int `json:"features"`
}

type signal struct {
	name   string
	re     *regexp.Regexp
	weight func(Weights) int
}

var markdownSignals = []signal{
	{"heading", regexp.MustCompile(`(?m)^ {0,3}#{1,6}\s`), func(w Weights) int { return w.Heading }},
	{"code_fence", regexp.MustCompile("(?m)^ {0,3}(```|~~~)"), func(w Weights) int { return w.CodeFence }},
	{"list_item", regexp.MustCompile(`(?m)^[ \t]*([-*+]|\d+[.)])[ \t]+\S`), func(w Weights) int { return w.ListItem }},
	{"link", regexp.MustCompile(`(?m)(?:^|[^!])\[[^\]\n]+\]\([^)\n]+\)`), func(w Weights) int { return w.Link }},
	{"image", regexp.MustCompile(`!\[[^\]\n]*\]\([^)\n]+\)`), func(w Weights) int { return w.Image }},
	{"table_row", regexp.MustCompile(`(?m)^[ \t]*\|.*\|[ \t]*$`), func(w Weights) int { return w.TableRow }},
}

var htmlSignals = []signal{
	{"doctype", regexp.MustCompile(`(?i)<!DOCTYPE[^>]*>`), func(w Weights) int { return w.Doctype }},
	{"tag", regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(\s[^<>]*)?/?>`), func(w Weights) int { return w.Tag }},
	{"entity", regexp.MustCompile(`&(#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6}|[a-zA-Z][a-zA-Z0-9]{1,31});`), func(w Weights) int { return w.Entity }},
	{"comment", regexp.MustCompile(`(?s)<!--.*?-->`), func(w Weights) int { return w.Comment }},
}

// Classifier scores content against the configured weights.
type Classifier struct {
	w Weights
}

// New returns a classifier using w. Zero-valued weights fall back to the
// defaults so partially filled config overlays stay usable.
func New(w Weights) *Classifier {
	return &Classifier{w: w.withDefaults()}
}

// Default returns a classifier with DefaultWeights.
func Default() *Classifier {
	return New(DefaultWeights())
}

// Weights returns the weights in use.
func (c *Classifier) Weights() Weights {
	return c.w
}

func (w Weights) withDefaults() Weights {
	if w == (Weights{}) {
		return DefaultWeights()
	}
	if w.SignalCap <= 0 {
		w.SignalCap = DefaultWeights().SignalCap
	}
	return w
}

// Classify never fails; content with no decisive signal is PlainText.
func (c *Classifier) Classify(content string) ContentSignature {
	sig := ContentSignature{Label: PlainText, Features: map[string]int{}}
	if strings.TrimSpace(content) == "" {
		return sig
	}

	sig.MarkdownScore = c.score(content, markdownSignals, sig.Features)
	sig.HTMLScore = c.score(content, htmlSignals, sig.Features)

	switch {
	case sig.HTMLScore > c.w.HTMLThreshold && sig.HTMLScore > sig.MarkdownScore:
		sig.Label = HTML
	case sig.MarkdownScore > c.w.MarkdownThreshold:
		sig.Label = Markdown
	}
	return sig
}

func (c *Classifier) score(content string, signals []signal, features map[string]int) int {
	total := 0
	for _, s := range signals {
		n := len(s.re.FindAllStringIndex(content, c.w.SignalCap))
		if n == 0 {
			continue
		}
		features[s.name] = n
		total += s.weight(c.w) * n
	}
	return total
}
