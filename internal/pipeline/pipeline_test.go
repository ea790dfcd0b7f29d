package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/docchunk/internal/classify"
	"github.com/dgallion1/docchunk/internal/doctree"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, mutate func(*Config), opts ...Option) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, quietLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func fakeRecords(n int) []doctree.ChunkRecord {
	out := make([]doctree.ChunkRecord, n)
	for i := range out {
		out[i] = doctree.ChunkRecord{ID: RecordID("fake", i), Chunk: doctree.Chunk{Text: "x", Length: 1}}
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const guide = "# Guide\n\nIntro text.\n\n## Install\n\nRun the installer.\n"

func TestIngest_HierarchyMetadata(t *testing.T) {
	p := newPipeline(t, func(c *Config) { c.ParseByHierarchy = true })

	res, err := p.Ingest(context.Background(), FromContent("guide.md", guide), map[string]any{
		"team":   "docs",
		"source": "spoofed",
		"nested": map[string]int{"a": 1},
		"empty":  nil,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Parser != string(classify.Markdown) {
		t.Errorf("expected markdown parser, got %q", res.Parser)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records (one per section), got %d", len(res.Records))
	}

	first, second := res.Records[0], res.Records[1]
	if first.Chunk.Text != "Guide\n\nIntro text." {
		t.Errorf("unexpected first chunk %q", first.Chunk.Text)
	}
	if second.Chunk.Text != "Install\n\nRun the installer." {
		t.Errorf("unexpected second chunk %q", second.Chunk.Text)
	}

	md := second.Metadata
	checks := map[string]any{
		MetaSource:        "guide.md",
		MetaFileName:      "guide.md",
		MetaSourceKind:    "inline",
		MetaParser:        "markdown",
		MetaContentType:   ContentText,
		MetaHeading:       "Install",
		MetaHeadingTrail:  "Guide > Install",
		MetaHeadingLevel:  2,
		MetaParentHeading: "Guide",
		MetaChunkIndex:    1,
		MetaChunkCount:    2,
		MetaChunkLength:   len("Install\n\nRun the installer."),
		"team":            "docs",
		"nested":          "map[a:1]",
	}
	for k, want := range checks {
		if got := md[k]; got != want {
			t.Errorf("metadata %q: expected %v (%T), got %v (%T)", k, want, want, got, got)
		}
	}
	if _, ok := md["empty"]; ok {
		t.Error("expected nil custom values to be dropped")
	}
	if _, ok := md[MetaFilePath]; ok {
		t.Error("expected no file_path for inline content")
	}
	if _, ok := first.Metadata[MetaParentHeading]; ok {
		t.Error("expected no parent heading on a top-level section")
	}
	if md[MetaTokenEstimate].(int) <= 0 {
		t.Errorf("expected positive token estimate, got %v", md[MetaTokenEstimate])
	}
}

func TestIngest_RecordIDsAreStable(t *testing.T) {
	p := newPipeline(t, nil)
	a, err := p.Ingest(context.Background(), FromContent("same.md", guide), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	b, err := p.Ingest(context.Background(), FromContent("same.md", guide), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if a.Records[0].ID != b.Records[0].ID || a.Records[0].ID != RecordID("same.md", 0) {
		t.Errorf("expected stable IDs, got %q and %q", a.Records[0].ID, b.Records[0].ID)
	}
	if RecordID("same.md", 0) == RecordID("other.md", 0) {
		t.Error("expected IDs to differ across sources")
	}
}

func TestIngest_FlatModeHasNoHeadingMetadata(t *testing.T) {
	p := newPipeline(t, nil)
	res, err := p.Ingest(context.Background(), FromContent("guide.md", guide), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	if _, ok := res.Records[0].Metadata[MetaHeading]; ok {
		t.Error("expected no heading metadata in flat mode")
	}
	want := "Guide\n\nIntro text.\n\nInstall\n\nRun the installer."
	if res.Records[0].Chunk.Text != want {
		t.Errorf("expected %q, got %q", want, res.Records[0].Chunk.Text)
	}
}

func TestIngest_ChunkOrderAndBounds(t *testing.T) {
	p := newPipeline(t, func(c *Config) {
		c.ChunkSize = 60
		c.ChunkOverlap = 10
	})
	var sb strings.Builder
	for i := range 30 {
		sb.WriteString("Sentence number ")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString(" ends here.\n\n")
	}
	res, err := p.Ingest(context.Background(), FromContent("long.txt", sb.String()), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) < 2 {
		t.Fatalf("expected several records, got %d", len(res.Records))
	}
	for i, r := range res.Records {
		if r.Chunk.Length <= 0 || r.Chunk.Length > 60 {
			t.Errorf("record %d: length %d out of bounds", i, r.Chunk.Length)
		}
		if r.Metadata[MetaChunkIndex] != i {
			t.Errorf("record %d: chunk_index %v", i, r.Metadata[MetaChunkIndex])
		}
	}
}

const withTable = "Intro.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\nOutro.\n"

func TestIngest_TablesAsChunks(t *testing.T) {
	p := newPipeline(t, func(c *Config) { c.TablesAsChunks = true })
	res, err := p.Ingest(context.Background(), FromContent("t.md", withTable), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected prose and table records, got %d", len(res.Records))
	}
	prose, table := res.Records[0], res.Records[1]
	if strings.Contains(prose.Chunk.Text, "|") {
		t.Errorf("expected table removed from prose, got %q", prose.Chunk.Text)
	}
	if !strings.Contains(prose.Chunk.Text, "Intro.") || !strings.Contains(prose.Chunk.Text, "Outro.") {
		t.Errorf("expected prose kept, got %q", prose.Chunk.Text)
	}
	if table.Metadata[MetaContentType] != ContentTable {
		t.Errorf("expected table content type, got %v", table.Metadata[MetaContentType])
	}
	if table.Metadata[MetaTableIndex] != 0 {
		t.Errorf("expected table_index 0, got %v", table.Metadata[MetaTableIndex])
	}
	if pos, ok := table.Metadata[MetaTablePosition].(int); !ok || pos <= 0 {
		t.Errorf("expected positive table_position, got %v", table.Metadata[MetaTablePosition])
	}
	if !strings.Contains(table.Chunk.Text, "| 1 | 2 |") {
		t.Errorf("expected table markup in table record, got %q", table.Chunk.Text)
	}
}

func TestIngest_DropTables(t *testing.T) {
	p := newPipeline(t, func(c *Config) { c.DropTables = true })
	res, err := p.Ingest(context.Background(), FromContent("t.md", withTable), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected only the prose record, got %d", len(res.Records))
	}
	if strings.Contains(res.Records[0].Chunk.Text, "|") {
		t.Errorf("expected table dropped, got %q", res.Records[0].Chunk.Text)
	}
}

func TestIngest_TablesKeptByDefault(t *testing.T) {
	p := newPipeline(t, nil)
	res, err := p.Ingest(context.Background(), FromContent("t.md", withTable), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) != 1 || !strings.Contains(res.Records[0].Chunk.Text, "| 1 | 2 |") {
		t.Fatalf("expected table inline with prose, got %+v", res.Records)
	}
}

func TestIngest_SanitizesEmbeddedMarkup(t *testing.T) {
	content := "# Doc\n\n<div class=\"x\"><p>Hello <b>world</b></p></div><img src=\"a.png\">\n\nTail paragraph.\n"
	p := newPipeline(t, func(c *Config) {
		c.ForcedParserType = "markdown"
		c.SanitizeMarkup = true
	})
	res, err := p.Ingest(context.Background(), FromContent("doc.md", content), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	text := res.Records[0].Chunk.Text
	if !strings.Contains(text, "Hello world") {
		t.Errorf("expected unwrapped prose, got %q", text)
	}
	if !strings.Contains(text, `<img src="a.png">`) {
		t.Errorf("expected image kept verbatim, got %q", text)
	}
	if strings.Contains(text, "<div") || strings.Contains(text, "<b>") {
		t.Errorf("expected decorative tags removed, got %q", text)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("expected no warnings, got %+v", res.Warnings)
	}
}

func TestIngest_MarkupKeptWithoutSanitize(t *testing.T) {
	content := "<div class=\"x\"><p>Hello <b>world</b></p></div>\n\nTail paragraph.\n"
	p := newPipeline(t, func(c *Config) { c.ForcedParserType = "markdown" })
	res, err := p.Ingest(context.Background(), FromContent("doc.md", content), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !strings.Contains(res.Records[0].Chunk.Text, "<b>world</b>") {
		t.Errorf("expected raw markup without sanitization, got %q", res.Records[0].Chunk.Text)
	}
}

func TestIngest_LineRangesAfterTableExtraction(t *testing.T) {
	content := "Intro.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n<div>broken <span\n\nOutro.\n"
	tests := []struct {
		name      string
		asChunks  bool
		wantLines *doctree.LineRange
	}{
		{"tables inline", false, &doctree.LineRange{Start: 7, End: 7}},
		{"tables extracted", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, func(c *Config) {
				c.ForcedParserType = "markdown"
				c.SanitizeMarkup = true
				c.TablesAsChunks = tt.asChunks
			})
			res, err := p.Ingest(context.Background(), FromContent("doc.md", content), nil)
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			var warn *doctree.Diagnostic
			for i := range res.Warnings {
				if res.Warnings[i].Kind == doctree.SanitizeFailure {
					warn = &res.Warnings[i]
				}
			}
			if warn == nil {
				t.Fatalf("expected a sanitize_failure warning, got %+v", res.Warnings)
			}
			switch {
			case tt.wantLines == nil && warn.Lines != nil:
				t.Errorf("expected no line range after table extraction, got %+v", warn.Lines)
			case tt.wantLines != nil && (warn.Lines == nil || *warn.Lines != *tt.wantLines):
				t.Errorf("expected lines %+v, got %+v", tt.wantLines, warn.Lines)
			}
		})
	}
}

func TestIngest_SanitizeFailureIsAWarning(t *testing.T) {
	content := "<div>broken <span\n\nNext para.\n"
	p := newPipeline(t, func(c *Config) {
		c.ForcedParserType = "markdown"
		c.SanitizeMarkup = true
	})
	res, err := p.Ingest(context.Background(), FromContent("doc.md", content), nil)
	if err != nil {
		t.Fatalf("expected sanitize failure to be non-fatal, got %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if w.Kind == doctree.SanitizeFailure {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a sanitize_failure warning, got %+v", res.Warnings)
	}
	if !strings.Contains(res.Records[0].Chunk.Text, "<div>broken <span") {
		t.Errorf("expected malformed fragment passed through, got %q", res.Records[0].Chunk.Text)
	}
}

func TestIngest_ForcedTypeInvalid(t *testing.T) {
	p := newPipeline(t, func(c *Config) { c.ForcedParserType = "pdf" })
	_, err := p.Ingest(context.Background(), FromContent("a.md", guide), nil)
	if !errors.Is(err, classify.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestIngest_ForcedTypeWins(t *testing.T) {
	p := newPipeline(t, func(c *Config) { c.ForcedParserType = "text" })
	res, err := p.Ingest(context.Background(), FromContent("a.md", guide).WithFormat("markdown"), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Parser != "text" {
		t.Errorf("expected forced text parser, got %q", res.Parser)
	}
}

func TestIngest_FormatHint(t *testing.T) {
	p := newPipeline(t, nil)
	res, err := p.Ingest(context.Background(), FromContent("a", "# A\n# B").WithFormat("text"), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Parser != "text" {
		t.Errorf("expected hinted text parser, got %q", res.Parser)
	}

	res, err = p.Ingest(context.Background(), FromContent("a", "# A\n# B").WithFormat("rtf"), nil)
	if err != nil {
		t.Fatalf("expected unknown hint to be ignored, got %v", err)
	}
	if res.Parser != "markdown" {
		t.Errorf("expected classification after unknown hint, got %q", res.Parser)
	}
}

func TestIngest_MissingFileIsIOError(t *testing.T) {
	p := newPipeline(t, nil)
	path := filepath.Join(t.TempDir(), "missing.md")
	_, err := p.Ingest(context.Background(), FromFile(path), nil)
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %v", err)
	}
	if ioErr.Path != path {
		t.Errorf("expected path %q, got %q", path, ioErr.Path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped not-exist error, got %v", err)
	}
}

func TestIngest_FileMetadata(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.txt", "First paragraph.\n\nSecond paragraph.\n")
	p := newPipeline(t, nil)
	res, err := p.Ingest(context.Background(), FromFile(path), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	md := res.Records[0].Metadata
	if md[MetaFilePath] != path || md[MetaSource] != path {
		t.Errorf("expected file path metadata, got %v / %v", md[MetaFilePath], md[MetaSource])
	}
	if md[MetaFileName] != "notes.txt" {
		t.Errorf("expected file name notes.txt, got %v", md[MetaFileName])
	}
	if md[MetaFileSize] != int64(len("First paragraph.\n\nSecond paragraph.\n")) {
		t.Errorf("unexpected file size %v", md[MetaFileSize])
	}
	if md[MetaContentHash] == "" {
		t.Error("expected content hash")
	}
}

func TestIngest_DecodesLegacyBytes(t *testing.T) {
	p := newPipeline(t, nil)
	res, err := p.Ingest(context.Background(), FromBytes("cafe.txt", []byte{'c', 'a', 'f', 0xe9}), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := res.Records[0].Chunk.Text; got != "café" {
		t.Errorf("expected windows-1252 decoding, got %q", got)
	}
}

func TestDecodeBytes(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"utf8", []byte("héllo"), "héllo"},
		{"bom", []byte("\xef\xbb\xbfhello"), "hello"},
		{"nfc", []byte("e\u0301"), "\u00e9"},
		{"latin1", []byte{0xfc, 'b', 'e', 'r'}, "über"},
	}
	for _, tt := range tests {
		if got := decodeBytes(tt.in); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
	}
}

func TestIngest_CancelledContext(t *testing.T) {
	p := newPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Ingest(ctx, FromContent("a.md", guide), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIngest_EmptyContent(t *testing.T) {
	p := newPipeline(t, nil)
	res, err := p.Ingest(context.Background(), FromContent("empty.txt", "  \n\n "), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) != 0 {
		t.Errorf("expected no records, got %d", len(res.Records))
	}
	if res.Warnings == nil {
		t.Error("expected non-nil warnings slice")
	}
}

type pagedParser struct {
	gotPath string
}

func (f *pagedParser) ParseFile(ctx context.Context, path string) ([]doctree.Unit, error) {
	f.gotPath = path
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return []doctree.Unit{
		{Kind: doctree.KindParagraph, Text: "page one text", Page: 1},
		{Kind: doctree.KindParagraph, Text: "page two text", Page: 2},
	}, nil
}

func TestIngest_FileParserPages(t *testing.T) {
	fake := &pagedParser{}
	p := newPipeline(t, nil, WithFileParser("fake", fake))

	path := writeFile(t, t.TempDir(), "scan.fake", "binary")
	res, err := p.Ingest(context.Background(), FromFile(path), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Parser != "fake" {
		t.Errorf("expected parser name from extension, got %q", res.Parser)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected one record per page, got %d", len(res.Records))
	}
	for i, r := range res.Records {
		if r.Metadata[MetaPage] != i+1 {
			t.Errorf("record %d: expected page %d, got %v", i, i+1, r.Metadata[MetaPage])
		}
	}
}

func TestIngest_FileParserSpoolsBytes(t *testing.T) {
	fake := &pagedParser{}
	p := newPipeline(t, nil, WithFileParser(".fake", fake))

	res, err := p.Ingest(context.Background(), FromBytes("upload.fake", []byte("binary")), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if filepath.Base(fake.gotPath) != "upload.fake" {
		t.Errorf("expected spooled file named after the upload, got %q", fake.gotPath)
	}
	if _, err := os.Stat(fake.gotPath); !os.IsNotExist(err) {
		t.Errorf("expected spooled file removed, stat err %v", err)
	}
	if res.Records[0].Metadata[MetaSource] != "upload.fake" {
		t.Errorf("expected upload name as source, got %v", res.Records[0].Metadata[MetaSource])
	}
}

func TestIngest_FormatHintBypassesFileParser(t *testing.T) {
	fake := &pagedParser{}
	p := newPipeline(t, nil, WithFileParser(".fake", fake))

	res, err := p.Ingest(context.Background(), FromBytes("x.fake", []byte("plain words")).WithFormat("text"), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if fake.gotPath != "" {
		t.Error("expected file parser not to run")
	}
	if res.Records[0].Chunk.Text != "plain words" {
		t.Errorf("unexpected text %q", res.Records[0].Chunk.Text)
	}
}

func TestNew_InvalidChunkConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkOverlap = cfg.ChunkSize
	if _, err := New(cfg, quietLogger()); err == nil {
		t.Fatal("expected error for overlap >= size")
	}
}

func TestSectionGroups_HeadingOnlyRunJoinsNextPage(t *testing.T) {
	groups := sectionGroups([]doctree.Section{{
		Trail: []string{"Scan"},
		Level: 1,
		Units: []doctree.Unit{
			{Kind: doctree.KindHeading, Level: 1, Text: "Scan", Page: 1},
			{Kind: doctree.KindParagraph, Text: "body", Page: 2},
		},
	}})
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].units) != 2 || groups[0].meta[MetaPage] != 2 {
		t.Errorf("expected heading merged into page 2 run, got %+v", groups[0])
	}
}
