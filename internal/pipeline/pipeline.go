// Package pipeline drives documents from raw input to chunk records: parser
// selection, structural parsing, table handling, markup sanitization,
// chunking and metadata attachment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/classify"
	"github.com/dgallion1/docchunk/internal/doctree"
	"github.com/dgallion1/docchunk/internal/metrics"
	"github.com/dgallion1/docchunk/internal/parser"
	"github.com/dgallion1/docchunk/internal/sanitize"
)

// Config is the immutable per-pipeline configuration.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string // Nil uses chunker.DefaultSeparators.

	ParseByHierarchy bool
	SanitizeMarkup   bool
	SanitizeKeep     []string // Nil uses sanitize.DefaultKeep.
	DropTables       bool     // Remove tables from the prose.
	TablesAsChunks   bool     // Remove tables from the prose and emit them as their own records.
	ForcedParserType string   // Bypasses classification when set.

	RemoveLinks     bool
	RemoveImages    bool
	HTMLMainContent bool

	Weights classify.Weights // Zero value uses classify.DefaultWeights.
	Workers int              // Parallel files in directory mode.
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Workers:      4,
	}
}

// Result is the outcome of ingesting one source.
type Result struct {
	Source   string                `json:"source"`
	Parser   string                `json:"parser"`
	Records  []doctree.ChunkRecord `json:"records"`
	Warnings []doctree.Diagnostic  `json:"warnings"`
}

// Pipeline ingests documents. It holds no per-call state and is safe for
// concurrent use.
type Pipeline struct {
	cfg         Config
	log         *slog.Logger
	selector    *parser.Selector
	chunker     *chunker.Chunker
	fileParsers map[string]parser.FileParser
	keep        []string
	latency     *metrics.LatencyWindow
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithFileParser routes files with extension ext (".pdf") to fp, replacing
// any built-in parser for that extension.
func WithFileParser(ext string, fp parser.FileParser) Option {
	return func(p *Pipeline) {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if fp == nil {
			delete(p.fileParsers, ext)
			return
		}
		p.fileParsers[ext] = fp
	}
}

// WithLatency records each ingestion into w.
func WithLatency(w *metrics.LatencyWindow) Option {
	return func(p *Pipeline) { p.latency = w }
}

// New validates cfg and builds a Pipeline.
func New(cfg Config, log *slog.Logger, opts ...Option) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	ch, err := chunker.New(chunker.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Separators:   cfg.Separators,
	})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	keep := cfg.SanitizeKeep
	if len(keep) == 0 {
		keep = sanitize.DefaultKeep
	}
	p := &Pipeline{
		cfg: cfg,
		log: log,
		selector: parser.NewSelector(classify.New(cfg.Weights), parser.Options{
			RemoveLinks:     cfg.RemoveLinks,
			RemoveImages:    cfg.RemoveImages,
			HTMLMainContent: cfg.HTMLMainContent,
		}),
		chunker:     ch,
		fileParsers: parser.DefaultFileParsers(),
		keep:        keep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Classify labels content with the pipeline's classifier.
func (p *Pipeline) Classify(content string) classify.ContentSignature {
	return p.selector.Classifier().Classify(content)
}

// parsed is a document after parsing and table handling.
type parsed struct {
	parser   string
	size     int64
	hash     string
	sections []doctree.Section
	tables   []doctree.ExtractedTable
	diags    []doctree.Diagnostic
}

// Ingest turns one source into chunk records. Errors are fatal for the
// source: *IOError when it cannot be read, classify.ErrUnsupportedFormat
// for an invalid forced parser type. Content problems never fail; they
// surface as Result.Warnings.
func (p *Pipeline) Ingest(ctx context.Context, in RawInput, meta map[string]any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := p.log.With("source", in.Source(), "kind", in.Kind.String())
	log.Debug("parse started")

	doc, err := p.parse(ctx, in)
	if err != nil {
		name := ""
		if doc != nil {
			name = doc.parser
		}
		metrics.ObserveDocument(name, metrics.StatusFailed, 0, time.Since(start))
		return nil, err
	}

	res := &Result{
		Source:   in.Source(),
		Parser:   doc.parser,
		Warnings: doc.diags,
	}
	if p.cfg.SanitizeMarkup {
		for i := range doc.sections {
			res.Warnings = append(res.Warnings, p.sanitizeUnits(doc.sections[i].Units)...)
		}
	}

	res.Records = p.buildRecords(in, doc, meta)
	if res.Warnings == nil {
		res.Warnings = []doctree.Diagnostic{}
	}

	elapsed := time.Since(start)
	metrics.ObserveDocument(doc.parser, metrics.StatusOK, len(res.Records), elapsed)
	for _, w := range res.Warnings {
		metrics.ObserveDiagnostic(string(w.Kind))
		log.Warn("ingest diagnostic", "kind", w.Kind, "message", w.Message)
	}
	if p.latency != nil {
		p.latency.Record(elapsed, len(res.Records))
	}
	log.Info("ingested document",
		"parser", doc.parser,
		"chunks", len(res.Records),
		"tables", len(doc.tables),
		"warnings", len(res.Warnings),
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

// parse selects a parser for in and returns its sections. Precedence is the
// forced parser type, then the input's format hint, then a file parser
// registered for the extension, then content classification.
func (p *Pipeline) parse(ctx context.Context, in RawInput) (*parsed, error) {
	hint := in.FormatHint
	if hint != "" {
		if _, err := classify.ParseLabel(hint); err != nil {
			p.log.Debug("ignoring unknown format hint", "source", in.Source(), "hint", hint)
			hint = ""
		}
	}
	if p.cfg.ForcedParserType == "" && hint == "" {
		if fp, ok := p.fileParsers[in.ext()]; ok {
			return p.parseFile(ctx, fp, in)
		}
	}

	content, size, err := readContent(in)
	if err != nil {
		return nil, err
	}

	forced := p.cfg.ForcedParserType
	if forced == "" {
		forced = hint
	}
	prs, _, err := p.selector.Select(content, forced)
	if err != nil {
		return nil, err
	}

	doc := &parsed{parser: string(prs.Label()), size: size, hash: ContentHashHex([]byte(content))}
	if p.cfg.DropTables || p.cfg.TablesAsChunks {
		content, doc.tables = prs.ExtractTables(content)
	}
	if p.cfg.ParseByHierarchy {
		root, diags := prs.ParseHierarchical(content)
		doc.sections = root.Flatten()
		doc.diags = diags
	} else {
		units, diags := prs.ParseFlat(content)
		doc.sections = []doctree.Section{{Units: units}}
		doc.diags = diags
	}
	if len(doc.tables) > 0 {
		doc.clearLines()
	}
	return doc, nil
}

// clearLines drops line ranges that were counted in the text left after
// table extraction, which no longer match the source.
func (d *parsed) clearLines() {
	for i := range d.sections {
		for j := range d.sections[i].Units {
			d.sections[i].Units[j].Lines = nil
		}
	}
	for i := range d.diags {
		d.diags[i].Lines = nil
	}
}

// parseFile runs a file parser. Byte payloads are spooled to disk first.
func (p *Pipeline) parseFile(ctx context.Context, fp parser.FileParser, in RawInput) (*parsed, error) {
	name := strings.TrimPrefix(in.ext(), ".")
	path := in.Path
	var size int64

	switch in.Kind {
	case SourceFile:
		info, err := os.Stat(path)
		if err != nil {
			return &parsed{parser: name}, &IOError{Path: path, Err: err}
		}
		size = info.Size()
	case SourceBytes:
		dir, spooled, err := spool(in)
		if err != nil {
			return &parsed{parser: name}, err
		}
		defer os.RemoveAll(dir)
		path = spooled
		size = int64(len(in.Data))
	default:
		return &parsed{parser: name}, fmt.Errorf("%s content must be a file or byte stream", name)
	}

	units, err := fp.ParseFile(ctx, path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &parsed{parser: name}, err
		}
		return &parsed{parser: name}, &IOError{Path: in.Source(), Err: err}
	}

	doc := &parsed{parser: name, size: size, hash: ContentHashHex([]byte(doctree.JoinText(units)))}
	if p.cfg.DropTables || p.cfg.TablesAsChunks {
		units, doc.tables = splitTables(units)
	}
	if p.cfg.ParseByHierarchy {
		doc.sections = doctree.BuildSections(units).Flatten()
	} else {
		doc.sections = []doctree.Section{{Units: units}}
	}
	return doc, nil
}

// splitTables removes table units. Positions are unit indices because file
// parsers have no text offsets.
func splitTables(units []doctree.Unit) ([]doctree.Unit, []doctree.ExtractedTable) {
	var (
		prose  []doctree.Unit
		tables []doctree.ExtractedTable
	)
	for i, u := range units {
		if u.Kind != doctree.KindTable {
			prose = append(prose, u)
			continue
		}
		raw := u.RawMarkup
		if raw == "" {
			raw = u.Text
		}
		tables = append(tables, doctree.ExtractedTable{RawMarkup: raw, Position: i})
	}
	return prose, tables
}

var markupTag = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)

// sanitizeUnits replaces the text of every unit that carries HTML markup
// with its sanitized form. A fragment that cannot be parsed passes through
// unchanged with a SanitizeFailure diagnostic.
func (p *Pipeline) sanitizeUnits(units []doctree.Unit) []doctree.Diagnostic {
	var diags []doctree.Diagnostic
	for i := range units {
		u := &units[i]
		if !markupTag.MatchString(u.RawMarkup) {
			continue
		}
		clean, err := sanitize.Sanitize(u.RawMarkup, p.keep...)
		if err != nil {
			diags = append(diags, doctree.Diagnostic{
				Kind:    doctree.SanitizeFailure,
				Message: err.Error(),
				Lines:   u.Lines,
			})
		}
		u.Text = clean
	}
	return diags
}
