package doctree

import "strings"

// Kind classifies a structural unit.
type Kind string

const (
	KindParagraph Kind = "paragraph"
	KindHeading   Kind = "heading"
	KindTable     Kind = "table"
	KindImage     Kind = "image"
)

// LineRange is an inclusive, 1-based range of source lines.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Unit is one parsed fragment of a document, in document order.
type Unit struct {
	Text      string     `json:"text"`
	Kind      Kind       `json:"kind"`
	Level     int        `json:"level,omitempty"`      // Heading depth, 0 for non-headings
	Lines     *LineRange `json:"lines,omitempty"`      // Source lines, nil if unknown
	RawMarkup string     `json:"raw_markup,omitempty"` // Original markup for embedded HTML, tables, images
	Page      int        `json:"page,omitempty"`       // Source page (0 if N/A)
}

// IsHeading reports whether the unit opens a section.
func (u Unit) IsHeading() bool {
	return u.Kind == KindHeading && u.Level > 0
}

// ExtractedTable is a table cut out of prose text. Position is the byte
// offset of the table in the content it was extracted from.
type ExtractedTable struct {
	RawMarkup string `json:"raw_markup"`
	Position  int    `json:"position"`
}

// Chunk is a bounded span of text. Length counts characters (runes).
type Chunk struct {
	Text   string `json:"text"`
	Length int    `json:"length"`
}

// ChunkRecord is a chunk plus the provenance metadata handed to storage.
// Metadata values are scalars: string, bool, int, int64 or float64.
type ChunkRecord struct {
	ID       string         `json:"id"`
	Chunk    Chunk          `json:"chunk"`
	Metadata map[string]any `json:"metadata"`
}

// DiagnosticKind names a non-fatal problem found while ingesting.
type DiagnosticKind string

const (
	DegradedParse   DiagnosticKind = "degraded_parse"
	SanitizeFailure DiagnosticKind = "sanitize_failure"
)

// Diagnostic is a non-fatal warning attached to an ingestion result.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`
	Lines   *LineRange     `json:"lines,omitempty"`
}

// JoinText concatenates unit texts with blank lines between them,
// skipping empty units.
func JoinText(units []Unit) string {
	var sb strings.Builder
	for _, u := range units {
		t := strings.TrimSpace(u.Text)
		if t == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(t)
	}
	return sb.String()
}
