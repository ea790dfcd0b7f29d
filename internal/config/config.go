package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docchunk/internal/classify"
	"github.com/dgallion1/docchunk/internal/pipeline"
)

type Config struct {
	Port string

	// Vector store connection. Storing is disabled when the URL is empty.
	VectorStoreURL    string
	VectorStoreAPIKey string

	// Auth
	DocchunkAPIKey string

	// Worker pool
	WorkerCount        int
	MaxQueueSize       int
	MaxConcurrentStore int
	BatchWorkers       int // Files ingested in parallel within one batch.

	// Upload limits
	MaxUploadBytes int64

	// Directory batches may only read below DataDir.
	DataDir        string
	DefaultPattern string

	// Job state
	JobTTL time.Duration

	// Chunking
	ChunkSize    int
	ChunkOverlap int
	Separators   []string

	// Parsing
	ParseByHierarchy bool
	SanitizeMarkup   bool
	SanitizeKeep     []string
	DropTables       bool
	TablesAsChunks   bool
	ForcedParserType string
	RemoveLinks      bool
	RemoveImages     bool
	HTMLMainContent  bool

	// PDF
	PDFFallbackPdftotext bool

	Weights classify.Weights

	LogLevel   string
	ConfigFile string
}

// Load reads the environment, then applies the YAML overlay named by
// CONFIG_FILE when set.
func Load() (Config, error) {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		VectorStoreURL:    os.Getenv("VECTOR_STORE_URL"),
		VectorStoreAPIKey: os.Getenv("VECTOR_STORE_API_KEY"),

		DocchunkAPIKey: os.Getenv("DOCCHUNK_API_KEY"),

		WorkerCount:        envInt("WORKER_COUNT", 4),
		MaxQueueSize:       envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentStore: envInt("MAX_CONCURRENT_STORE", 10),
		BatchWorkers:       envInt("BATCH_WORKERS", 4),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		DataDir:        envOr("DATA_DIR", "."),
		DefaultPattern: envOr("DEFAULT_PATTERN", pipeline.DefaultPattern),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		ChunkSize:    envInt("CHUNK_SIZE", 1000),
		ChunkOverlap: envInt("CHUNK_OVERLAP", 200),

		ParseByHierarchy: envBool("PARSE_BY_HIERARCHY", false),
		SanitizeMarkup:   envBool("SANITIZE_MARKUP", false),
		DropTables:       envBool("DROP_TABLES", false),
		TablesAsChunks:   envBool("TABLES_AS_CHUNKS", false),
		ForcedParserType: os.Getenv("FORCED_PARSER_TYPE"),
		RemoveLinks:      envBool("REMOVE_LINKS", false),
		RemoveImages:     envBool("REMOVE_IMAGES", false),
		HTMLMainContent:  envBool("HTML_MAIN_CONTENT", false),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		Weights: classify.DefaultWeights(),

		LogLevel:   envOr("LOG_LEVEL", "info"),
		ConfigFile: os.Getenv("CONFIG_FILE"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentStore <= 0 {
		cfg.MaxConcurrentStore = 10
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 4
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// Overlay is the YAML file layout. Scalars here apply only when the matching
// environment variable is unset.
type Overlay struct {
	ChunkSize      *int              `yaml:"chunk_size"`
	ChunkOverlap   *int              `yaml:"chunk_overlap"`
	Separators     []string          `yaml:"separators"`
	SanitizeKeep   []string          `yaml:"sanitize_keep"`
	DefaultPattern string            `yaml:"default_pattern"`
	Classifier     *classify.Weights `yaml:"classifier"`
}

// LoadFile applies the YAML overlay at path. ${VAR} and ${VAR:-default}
// references are expanded from the environment before parsing.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	data = expandEnvVars(data)

	// Classifier fields missing from the file keep their current values.
	weights := c.Weights
	ov := Overlay{Classifier: &weights}
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if ov.ChunkSize != nil && os.Getenv("CHUNK_SIZE") == "" {
		c.ChunkSize = *ov.ChunkSize
	}
	if ov.ChunkOverlap != nil && os.Getenv("CHUNK_OVERLAP") == "" {
		c.ChunkOverlap = *ov.ChunkOverlap
	}
	if ov.DefaultPattern != "" && os.Getenv("DEFAULT_PATTERN") == "" {
		c.DefaultPattern = ov.DefaultPattern
	}
	if len(ov.Separators) > 0 {
		c.Separators = ov.Separators
	}
	if len(ov.SanitizeKeep) > 0 {
		c.SanitizeKeep = ov.SanitizeKeep
	}
	if ov.Classifier != nil {
		c.Weights = *ov.Classifier
	}
	return nil
}

func (c Config) Validate() error {
	if c.DocchunkAPIKey == "" {
		return fmt.Errorf("DOCCHUNK_API_KEY is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	if c.ForcedParserType != "" {
		if _, err := classify.ParseLabel(c.ForcedParserType); err != nil {
			return fmt.Errorf("FORCED_PARSER_TYPE: %w", err)
		}
	}
	if c.DropTables && c.TablesAsChunks {
		return fmt.Errorf("DROP_TABLES and TABLES_AS_CHUNKS are mutually exclusive")
	}
	if _, err := filepath.Match(c.DefaultPattern, ""); err != nil {
		return fmt.Errorf("DEFAULT_PATTERN %q: %w", c.DefaultPattern, err)
	}
	if c.VectorStoreAPIKey != "" && c.VectorStoreURL == "" {
		return fmt.Errorf("VECTOR_STORE_API_KEY is set but VECTOR_STORE_URL is empty")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// SlogLevel returns LogLevel as a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// PipelineConfig returns the immutable pipeline configuration.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		ChunkSize:        c.ChunkSize,
		ChunkOverlap:     c.ChunkOverlap,
		Separators:       c.Separators,
		ParseByHierarchy: c.ParseByHierarchy,
		SanitizeMarkup:   c.SanitizeMarkup,
		SanitizeKeep:     c.SanitizeKeep,
		DropTables:       c.DropTables,
		TablesAsChunks:   c.TablesAsChunks,
		ForcedParserType: c.ForcedParserType,
		RemoveLinks:      c.RemoveLinks,
		RemoveImages:     c.RemoveImages,
		HTMLMainContent:  c.HTMLMainContent,
		Weights:          c.Weights,
		Workers:          c.BatchWorkers,
	}
}

// OrchestratorConfig returns the batch job runner configuration.
func (c Config) OrchestratorConfig() pipeline.OrchestratorConfig {
	return pipeline.OrchestratorConfig{
		WorkerCount:        c.WorkerCount,
		MaxQueueSize:       c.MaxQueueSize,
		MaxConcurrentStore: c.MaxConcurrentStore,
		JobTTL:             c.JobTTL,
	}
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = def
		}
		return []byte(val)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
