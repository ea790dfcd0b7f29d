package pipeline

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/doctree"
)

// Content types recorded under the content_type metadata key.
const (
	ContentText  = "text"
	ContentTable = "table"
)

// Metadata keys set by the pipeline. Custom fields never override them.
const (
	MetaSource        = "source"
	MetaSourceKind    = "source_kind"
	MetaFilePath      = "file_path"
	MetaFileName      = "file_name"
	MetaFileSize      = "file_size"
	MetaContentHash   = "content_hash"
	MetaParser        = "parser"
	MetaContentType   = "content_type"
	MetaChunkIndex    = "chunk_index"
	MetaChunkCount    = "chunk_count"
	MetaChunkLength   = "chunk_length"
	MetaTokenEstimate = "token_estimate"
	MetaHeading       = "heading"
	MetaHeadingTrail  = "heading_trail"
	MetaHeadingLevel  = "heading_level"
	MetaParentHeading = "parent_heading"
	MetaPage          = "page"
	MetaTableIndex    = "table_index"
	MetaTablePosition = "table_position"
)

// TrailSeparator joins heading trails in metadata.
const TrailSeparator = " > "

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

// RecordID derives a stable record ID from the source and chunk index, so
// re-ingesting a source upserts instead of duplicating.
func RecordID(source string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "docchunk:%s#%d", source, index)).String()
}

// group is a run of units chunked together, with the metadata shared by
// its chunks.
type group struct {
	units []doctree.Unit
	meta  map[string]any
}

// buildRecords chunks every section, then every relocated table, and
// attaches metadata. Records are in document order with tables last.
func (p *Pipeline) buildRecords(in RawInput, doc *parsed, custom map[string]any) []doctree.ChunkRecord {
	var records []doctree.ChunkRecord
	add := func(chunks []doctree.Chunk, extra map[string]any) {
		for _, c := range chunks {
			records = append(records, doctree.ChunkRecord{Chunk: c, Metadata: extra})
		}
	}

	for _, g := range sectionGroups(doc.sections) {
		add(p.chunker.ChunkUnits(g.units), g.meta)
	}
	if p.cfg.TablesAsChunks {
		for i, t := range doc.tables {
			add(p.chunker.ChunkText(t.RawMarkup), map[string]any{
				MetaContentType:   ContentTable,
				MetaTableIndex:    i,
				MetaTablePosition: t.Position,
			})
		}
	}

	base := baseMetadata(in, doc, custom)
	source := in.Source()
	for i := range records {
		r := &records[i]
		md := make(map[string]any, len(base)+len(r.Metadata)+5)
		for k, v := range base {
			md[k] = v
		}
		for k, v := range r.Metadata {
			md[k] = v
		}
		if _, ok := r.Metadata[MetaContentType]; !ok {
			md[MetaContentType] = ContentText
		}
		md[MetaChunkIndex] = i
		md[MetaChunkCount] = len(records)
		md[MetaChunkLength] = r.Chunk.Length
		md[MetaTokenEstimate] = chunker.EstimateTokens(r.Chunk.Text)
		r.Metadata = md
		r.ID = RecordID(source, i)
	}
	return records
}

// sectionGroups splits sections into chunkable runs. Sections without any
// content besides their heading are skipped; their heading still appears in
// the trail of their subsections. Within a section, a change of source page
// starts a new run so every chunk maps to one page.
func sectionGroups(sections []doctree.Section) []group {
	var groups []group
	for _, s := range sections {
		if !hasBody(s.Units) {
			continue
		}
		meta := map[string]any{}
		if n := len(s.Trail); n > 0 {
			meta[MetaHeading] = s.Trail[n-1]
			meta[MetaHeadingTrail] = strings.Join(s.Trail, TrailSeparator)
			meta[MetaHeadingLevel] = s.Level
			if n > 1 {
				meta[MetaParentHeading] = s.Trail[n-2]
			}
		}

		var pending []doctree.Unit
		start := 0
		for i := 1; i <= len(s.Units); i++ {
			if i < len(s.Units) && s.Units[i].Page == s.Units[start].Page {
				continue
			}
			run := append(pending, s.Units[start:i]...)
			page := s.Units[start].Page
			start = i
			if !hasBody(run) {
				pending = run
				continue
			}
			pending = nil
			g := group{units: run, meta: meta}
			if page > 0 {
				g.meta = withPage(meta, page)
			}
			groups = append(groups, g)
		}
	}
	return groups
}

func hasBody(units []doctree.Unit) bool {
	for _, u := range units {
		if !u.IsHeading() && strings.TrimSpace(u.Text) != "" {
			return true
		}
	}
	return false
}

func withPage(meta map[string]any, page int) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[MetaPage] = page
	return out
}

// baseMetadata returns the fields shared by every record of a document.
// Custom fields are copied first so pipeline keys win on collision.
func baseMetadata(in RawInput, doc *parsed, custom map[string]any) map[string]any {
	md := make(map[string]any, len(custom)+8)
	for k, v := range custom {
		if s, ok := scalar(v); ok {
			md[k] = s
		}
	}
	md[MetaSource] = in.Source()
	md[MetaSourceKind] = in.Kind.String()
	md[MetaFileName] = filepath.Base(in.Source())
	md[MetaFileSize] = doc.size
	md[MetaParser] = doc.parser
	if doc.hash != "" {
		md[MetaContentHash] = doc.hash
	}
	if in.Kind == SourceFile {
		md[MetaFilePath] = in.Path
	}
	return md
}

// scalar coerces a custom metadata value to a scalar. Nil values are
// dropped and composite values are rendered with fmt.
func scalar(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case string, bool, int, int64, float64:
		return x, true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float32:
		return float64(x), true
	case fmt.Stringer:
		return x.String(), true
	}
	return fmt.Sprint(v), true
}
