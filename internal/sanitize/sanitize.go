// Package sanitize strips decorative markup from embedded HTML fragments
// while keeping images and tables intact.
package sanitize

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ErrMalformed is returned, together with the unchanged fragment, when the
// fragment cannot be tokenized cleanly.
var ErrMalformed = errors.New("malformed markup")

// DefaultKeep is the keep set used when Sanitize is called without one.
var DefaultKeep = []string{"img", "table"}

var (
	// A tag opener with no closing '>' anywhere after it.
	unterminatedTag = regexp.MustCompile(`<(/?[a-zA-Z][^>]*)$`)
	blankRuns       = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)
)

// Tags that break the surrounding text into separate lines when unwrapped.
var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"figcaption": true, "figure": true, "footer": true, "h1": true,
	"h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "ul": true,
}

// Tags whose content is dropped along with the tag.
var dropTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
}

var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// Sanitize removes every tag not in keep, leaving the text it wrapped. Kept
// elements are copied byte for byte, attributes and children included.
// Elements that enclose a kept element keep their own start and end tags.
// Comments and doctypes are dropped. keep defaults to DefaultKeep; "image"
// is accepted as an alias for "img".
//
// On malformed input the original fragment is returned with ErrMalformed so
// callers can record a diagnostic and continue.
func Sanitize(fragment string, keep ...string) (string, error) {
	if len(keep) == 0 {
		keep = DefaultKeep
	}
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "image" {
			k = "img"
		}
		keepSet[k] = true
	}

	if unterminatedTag.MatchString(fragment) {
		return fragment, ErrMalformed
	}

	toks, err := tokenize(fragment)
	if err != nil {
		return fragment, ErrMalformed
	}
	enclosing := markEnclosing(toks, keepSet)

	var out strings.Builder
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.typ {
		case html.TextToken:
			out.WriteString(t.text)
		case html.StartTagToken, html.SelfClosingTagToken:
			opens := t.typ == html.StartTagToken && !voidTags[t.name]
			switch {
			case keepSet[t.name]:
				end := i
				if opens {
					end = closingIndex(toks, i)
				}
				for ; i <= end; i++ {
					out.WriteString(toks[i].raw)
				}
				i = end
			case dropTags[t.name]:
				if opens {
					i = closingIndex(toks, i)
				}
			case enclosing[i]:
				if blockTags[t.name] {
					out.WriteByte('\n')
				}
				out.WriteString(t.raw)
			case blockTags[t.name]:
				out.WriteByte('\n')
			}
		case html.EndTagToken:
			switch {
			case enclosing[i]:
				out.WriteString(t.raw)
				if blockTags[t.name] {
					out.WriteByte('\n')
				}
			case blockTags[t.name]:
				out.WriteByte('\n')
			}
		}
	}

	return strings.TrimSpace(blankRuns.ReplaceAllString(out.String(), "\n\n")), nil
}

type token struct {
	typ  html.TokenType
	name string
	raw  string
	text string
}

// tokenize copies every token out of the tokenizer's reused buffers.
func tokenize(fragment string) ([]token, error) {
	var toks []token
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return toks, nil
		}
		t := token{typ: tt, raw: string(z.Raw())}
		switch tt {
		case html.TextToken:
			t.text = string(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			t.name = string(name)
		}
		toks = append(toks, t)
	}
}

// closingIndex returns the index of the end tag matching the start tag at
// i, counting nested elements of the same name. An unclosed element runs to
// the last token.
func closingIndex(toks []token, i int) int {
	name, depth := toks[i].name, 0
	for j := i; j < len(toks); j++ {
		if toks[j].name != name {
			continue
		}
		switch toks[j].typ {
		case html.StartTagToken:
			depth++
		case html.EndTagToken:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(toks) - 1
}

// markEnclosing flags the start and end tags of every non-kept element with
// a kept element somewhere below it.
func markEnclosing(toks []token, keepSet map[string]bool) []bool {
	enclosing := make([]bool, len(toks))
	var open []int
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.typ {
		case html.StartTagToken, html.SelfClosingTagToken:
			opens := t.typ == html.StartTagToken && !voidTags[t.name]
			switch {
			case keepSet[t.name]:
				for _, j := range open {
					enclosing[j] = true
				}
				if opens {
					i = closingIndex(toks, i)
				}
			case dropTags[t.name]:
				if opens {
					i = closingIndex(toks, i)
				}
			case opens:
				open = append(open, i)
			}
		case html.EndTagToken:
			for k := len(open) - 1; k >= 0; k-- {
				if toks[open[k]].name == t.name {
					enclosing[i] = enclosing[open[k]]
					open = open[:k]
					break
				}
			}
		}
	}
	return enclosing
}
