package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/docchunk/internal/doctree"
)

// ErrInvalidConfig is returned by New for sizes that cannot satisfy the
// chunk length and overlap guarantees.
var ErrInvalidConfig = errors.New("invalid chunker config")

// DefaultSeparators are tried coarsest first. The empty separator means a
// hard cut at the size limit.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "。", " ", ""}

// Config controls chunking behavior. Sizes count characters (runes).
type Config struct {
	ChunkSize    int      // Maximum chunk length.
	ChunkOverlap int      // Characters repeated from the previous chunk.
	Separators   []string // Split points, coarsest first. Nil uses DefaultSeparators.
}

// DefaultConfig returns the default chunk size and overlap.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// Chunker splits text into bounded, overlapping chunks. It holds no mutable
// state and is safe for concurrent use.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

// New validates cfg and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, cfg.ChunkOverlap, cfg.ChunkSize)
	}
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return &Chunker{
		size:       cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		separators: append([]string(nil), seps...),
	}, nil
}

// Size returns the maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk joins texts with blank lines and splits the result.
func (c *Chunker) Chunk(texts []string) []doctree.Chunk {
	units := make([]doctree.Unit, len(texts))
	for i, t := range texts {
		units[i] = doctree.Unit{Text: t}
	}
	return c.ChunkText(doctree.JoinText(units))
}

// ChunkUnits chunks the text of units in document order.
func (c *Chunker) ChunkUnits(units []doctree.Unit) []doctree.Chunk {
	return c.ChunkText(doctree.JoinText(units))
}

// ChunkText splits text into chunks no longer than the chunk size. Every
// chunk after the first starts with the last min(overlap, len(prev))
// characters of the chunk before it. Whitespace at the edges of the text
// past that prefix is trimmed, and a chunk with nothing else is not emitted.
func (c *Chunker) ChunkText(text string) []doctree.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Pieces leave room for the overlap prefix so any single piece fits
	// after it.
	pieces := c.split(text, c.separators, c.size-c.overlap)

	var (
		chunks []doctree.Chunk
		cur    strings.Builder
		curLen int
		prefix int  // bytes of cur copied from the previous chunk
		fresh  bool // cur holds content beyond the overlap prefix
	)
	emit := func() {
		s := cur.String()
		body := strings.TrimRightFunc(s[prefix:], unicode.IsSpace)
		if strings.TrimSpace(body) == "" {
			s = s[:prefix]
		} else {
			s = s[:prefix] + body
			chunks = append(chunks, doctree.Chunk{Text: s, Length: utf8.RuneCountInString(s)})
		}
		tail := lastRunes(s, c.overlap)
		cur.Reset()
		cur.WriteString(tail)
		curLen = utf8.RuneCountInString(tail)
		prefix = len(tail)
		fresh = false
	}

	for _, p := range pieces {
		if fresh && curLen+utf8.RuneCountInString(p) > c.size {
			emit()
		}
		if cur.Len() == 0 {
			if p = strings.TrimLeftFunc(p, unicode.IsSpace); p == "" {
				continue
			}
		}
		cur.WriteString(p)
		curLen += utf8.RuneCountInString(p)
		fresh = true
	}
	if fresh {
		emit()
	}
	return chunks
}

// split cuts text into non-empty pieces of at most limit runes whose
// concatenation is text. Separators stay attached to the piece they end.
func (c *Chunker) split(text string, seps []string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	if len(seps) == 0 || seps[0] == "" {
		return hardCut(text, limit)
	}
	if !strings.Contains(text, seps[0]) {
		return c.split(text, seps[1:], limit)
	}

	var out []string
	for _, part := range strings.SplitAfter(text, seps[0]) {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= limit {
			out = append(out, part)
			continue
		}
		out = append(out, c.split(part, seps[1:], limit)...)
	}
	return out
}

func hardCut(text string, limit int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	i := 0
	for skip := count - n; skip > 0; skip-- {
		_, w := utf8.DecodeRuneInString(s[i:])
		i += w
	}
	return s[i:]
}
