package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dgallion1/docchunk/internal/doctree"
)

var sampleTexts = map[string]string{
	"prose":      strings.Repeat("The quick brown fox jumps over the lazy dog. ", 120),
	"paragraphs": strings.Repeat("First line of a paragraph.\nSecond line here!\n\n", 40),
	"no spaces":  strings.Repeat("x", 2500),
	"cjk":        strings.Repeat("日本語の文章です。", 150),
	"mixed":      "# Heading\n\n" + strings.Repeat("word ", 300) + "\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n" + strings.Repeat("Ünïcödé? ", 80),
	"short":      "Only a little text.",
}

var sampleConfigs = []Config{
	{ChunkSize: 1000, ChunkOverlap: 200},
	{ChunkSize: 100, ChunkOverlap: 0},
	{ChunkSize: 100, ChunkOverlap: 99},
	{ChunkSize: 50, ChunkOverlap: 10},
	{ChunkSize: 7, ChunkOverlap: 3},
	{ChunkSize: 1, ChunkOverlap: 0},
	{ChunkSize: 64, ChunkOverlap: 16, Separators: []string{"\n"}},
}

func runeTail(s string, n int) string {
	r := []rune(s)
	if n > len(r) {
		n = len(r)
	}
	return string(r[len(r)-n:])
}

func TestChunkText_LengthBounds(t *testing.T) {
	for name, text := range sampleTexts {
		for _, cfg := range sampleConfigs {
			c, err := New(cfg)
			if err != nil {
				t.Fatalf("New(%+v): %v", cfg, err)
			}
			chunks := c.ChunkText(text)
			if len(chunks) == 0 {
				t.Fatalf("%s %+v: expected chunks, got none", name, cfg)
			}
			for i, ch := range chunks {
				n := utf8.RuneCountInString(ch.Text)
				if n != ch.Length {
					t.Errorf("%s %+v chunk %d: Length %d, text has %d runes", name, cfg, i, ch.Length, n)
				}
				if n == 0 || n > cfg.ChunkSize {
					t.Errorf("%s %+v chunk %d: length %d outside (0, %d]", name, cfg, i, n, cfg.ChunkSize)
				}
			}
		}
	}
}

func TestChunkText_ExactOverlap(t *testing.T) {
	for name, text := range sampleTexts {
		for _, cfg := range sampleConfigs {
			c, _ := New(cfg)
			chunks := c.ChunkText(text)
			for i := 1; i < len(chunks); i++ {
				prev := chunks[i-1].Text
				want := runeTail(prev, min(cfg.ChunkOverlap, utf8.RuneCountInString(prev)))
				if !strings.HasPrefix(chunks[i].Text, want) {
					t.Errorf("%s %+v chunk %d: expected prefix %q, got %q", name, cfg, i, want, chunks[i].Text)
				}
			}
		}
	}
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func TestChunkText_KeepsAllNonSpaceText(t *testing.T) {
	for name, text := range sampleTexts {
		for _, cfg := range sampleConfigs {
			c, _ := New(cfg)
			chunks := c.ChunkText(text)

			var sb strings.Builder
			for i, ch := range chunks {
				if i == 0 {
					sb.WriteString(ch.Text)
					continue
				}
				skip := min(cfg.ChunkOverlap, chunks[i-1].Length)
				sb.WriteString(string([]rune(ch.Text)[skip:]))
			}
			if stripSpace(sb.String()) != stripSpace(text) {
				t.Errorf("%s %+v: reassembled text differs from input", name, cfg)
			}
		}
	}
}

func TestChunkText_HardCut(t *testing.T) {
	c, err := New(Config{ChunkSize: 4, ChunkOverlap: 1, Separators: []string{""}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunks := c.ChunkText("abcdefghij")
	want := []string{"abc", "cdef", "fghi", "ij"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %+v", len(want), len(chunks), chunks)
	}
	for i := range want {
		if chunks[i].Text != want[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, want[i], chunks[i].Text)
		}
	}
}

func TestChunkText_PrefersParagraphBoundaries(t *testing.T) {
	c, _ := New(Config{ChunkSize: 40, ChunkOverlap: 0})
	a, b := strings.Repeat("a", 30), strings.Repeat("b", 30)
	chunks := c.ChunkText(a + "\n\n" + b)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != a {
		t.Errorf("chunk 0: expected paragraph a, got %q", chunks[0].Text)
	}
	if chunks[1].Text != b {
		t.Errorf("chunk 1: expected paragraph b, got %q", chunks[1].Text)
	}
}

func TestChunkText_TrimsWhitespaceEdges(t *testing.T) {
	text := "alpha\n\n\n\nbeta  gamma\n\ndelta"
	for _, cfg := range []Config{
		{ChunkSize: 2, ChunkOverlap: 0},
		{ChunkSize: 2, ChunkOverlap: 1},
		{ChunkSize: 8, ChunkOverlap: 0},
		{ChunkSize: 8, ChunkOverlap: 3},
	} {
		c, _ := New(cfg)
		chunks := c.ChunkText(text)
		if len(chunks) == 0 {
			t.Fatalf("%+v: expected chunks", cfg)
		}
		for i, ch := range chunks {
			skip := 0
			if i > 0 {
				skip = min(cfg.ChunkOverlap, chunks[i-1].Length)
			}
			rest := string([]rune(ch.Text)[skip:])
			if strings.TrimSpace(rest) == "" {
				t.Errorf("%+v chunk %d: only whitespace past the overlap: %q", cfg, i, ch.Text)
			}
			if strings.TrimRight(ch.Text, " \n") != ch.Text {
				t.Errorf("%+v chunk %d: trailing whitespace in %q", cfg, i, ch.Text)
			}
			if skip == 0 && strings.TrimLeft(ch.Text, " \n") != ch.Text {
				t.Errorf("%+v chunk %d: leading whitespace in %q", cfg, i, ch.Text)
			}
		}
	}
}

func TestChunkText_MergesSmallPieces(t *testing.T) {
	c, _ := New(Config{ChunkSize: 1000, ChunkOverlap: 200})
	chunks := c.ChunkText("one\n\ntwo\n\nthree")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "one\n\ntwo\n\nthree" {
		t.Errorf("unexpected chunk %q", chunks[0].Text)
	}
}

func TestChunkText_Empty(t *testing.T) {
	c, _ := New(DefaultConfig())
	if got := c.ChunkText(" \n\t\n "); len(got) != 0 {
		t.Errorf("expected no chunks for blank text, got %d", len(got))
	}
	if got := c.Chunk(nil); len(got) != 0 {
		t.Errorf("expected no chunks for nil input, got %d", len(got))
	}
}

func TestChunkUnits_JoinsInOrder(t *testing.T) {
	c, _ := New(DefaultConfig())
	chunks := c.ChunkUnits([]doctree.Unit{
		{Kind: doctree.KindHeading, Level: 1, Text: "Title"},
		{Kind: doctree.KindParagraph, Text: "  "},
		{Kind: doctree.KindParagraph, Text: "Body text."},
	})
	if len(chunks) != 1 || chunks[0].Text != "Title\n\nBody text." {
		t.Errorf("unexpected chunks %+v", chunks)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{ChunkSize: 0, ChunkOverlap: 0},
		{ChunkSize: -5, ChunkOverlap: 0},
		{ChunkSize: 100, ChunkOverlap: 100},
		{ChunkSize: 100, ChunkOverlap: 150},
		{ChunkSize: 100, ChunkOverlap: -1},
	} {
		if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("New(%+v): expected ErrInvalidConfig, got %v", cfg, err)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{" ", 1},
		{"one", 1},
		{"one two three", 3},
		{strings.Repeat("word ", 100), 133},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q): expected %d, got %d", tt.text, tt.want, got)
		}
	}
}
