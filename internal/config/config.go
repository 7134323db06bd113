// Package config loads forge configuration.
//
// Precedence, lowest to highest:
//  1. Defaults (NewConfig)
//  2. User config (~/.config/forge/config.yaml)
//  3. Project config (.forge.yaml in the project root)
//  4. Explicit file (--config)
//  5. Environment variables (FORGE_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/logging"
)

// ProjectConfigNames are the project-level config files, in lookup order.
var ProjectConfigNames = []string{".forge.yaml", ".forge.yml"}

// DataDirName is the per-project state directory (index, tracker, lock).
const DataDirName = ".forge"

// Config is the complete forge configuration.
type Config struct {
	Version     int               `yaml:"version"`
	Scan        ScanConfig        `yaml:"scan"`
	Parse       ParseConfig       `yaml:"parse"`
	Manifest    ManifestConfig    `yaml:"manifest"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Security    SecurityConfig    `yaml:"security"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Output      OutputConfig      `yaml:"output"`
	Performance PerformanceConfig `yaml:"performance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ScanConfig controls file discovery.
type ScanConfig struct {
	// Exclude replaces the default exclude globs when set.
	Exclude []string `yaml:"exclude"`
	// ExtraExclude is appended to Exclude.
	ExtraExclude     []string `yaml:"extra_exclude"`
	Extensions       []string `yaml:"extensions"`
	MaxFileSizeMB    int      `yaml:"max_file_size_mb"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
	FollowSymlinks   bool     `yaml:"follow_symlinks"`
}

// ParseConfig holds the extraction caps.
type ParseConfig struct {
	Structural    bool `yaml:"structural"`
	MaxComponents int  `yaml:"max_components"`
	MaxImports    int  `yaml:"max_imports"`
	MaxExports    int  `yaml:"max_exports"`
	MaxCalls      int  `yaml:"max_calls"`
	MaxEnvVars    int  `yaml:"max_env_vars"`
	MaxHooks      int  `yaml:"max_hooks"`
	MaxRoutes     int  `yaml:"max_routes"`
}

// ManifestConfig caps the project-wide manifest lists. Zero means
// unlimited.
type ManifestConfig struct {
	MaxComponents int `yaml:"max_components"`
	MaxAPICalls   int `yaml:"max_api_calls"`
	MaxSuggested  int `yaml:"max_suggested_endpoints"`
	MaxRoutes     int `yaml:"max_routes"`
}

// ChunkingConfig controls segmentation.
type ChunkingConfig struct {
	// ChunkSize is the token budget per chunk.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	// Strategy is "auto" (structural when components exist) or "windowed".
	Strategy string `yaml:"strategy"`
	// LinesPerChunk is used by the line-count fallback.
	LinesPerChunk int `yaml:"lines_per_chunk"`
}

// SecurityConfig controls redaction.
type SecurityConfig struct {
	RedactPatterns []string `yaml:"redact_patterns"`
	Placeholder    string   `yaml:"placeholder"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "auto", "ollama" or "static".
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	Host       string        `yaml:"host"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Workers    int           `yaml:"workers"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	CacheSize  int           `yaml:"cache_size"`
}

// VectorStoreConfig selects the index backend.
type VectorStoreConfig struct {
	// Backend is "sqlite", "flat" or "hnsw".
	Backend string `yaml:"backend"`
	// PersistDirectory is resolved against the project root when relative.
	PersistDirectory string `yaml:"persist_directory"`
	Collection       string `yaml:"collection"`
	// KeywordIndex also maintains a bleve full-text index over chunk text.
	KeywordIndex bool `yaml:"keyword_index"`
}

// SummarizerConfig configures the optional LLM summarizer.
type SummarizerConfig struct {
	// Provider is "auto", "ollama" or "none".
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Host     string        `yaml:"host"`
	Timeout  time.Duration `yaml:"timeout"`
	// MaxFiles bounds how many files get an LLM summary per run.
	MaxFiles int `yaml:"max_files"`
}

// OutputConfig controls where run artifacts are written.
type OutputConfig struct {
	Directory string `yaml:"directory"`
}

// PerformanceConfig sizes the worker pools.
type PerformanceConfig struct {
	// Workers bounds discovery and parse/chunk pools. 0 means NumCPU.
	Workers int `yaml:"workers"`
	// WatchDebounce is the quiet period before a watch-triggered scan.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// LoggingConfig controls the log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultExclude is the default exclude glob list.
var DefaultExclude = []string{
	"node_modules/**",
	".git/**",
	"dist/**",
	"build/**",
	"*.min.js",
	"coverage/**",
	".next/**",
	"__pycache__/**",
}

// DefaultExtensions is the default set of indexed extensions.
var DefaultExtensions = []string{
	".js", ".jsx", ".ts", ".tsx", ".vue", ".svelte",
	".html", ".css", ".json", ".yaml", ".yml",
}

// DefaultRedactPatterns match credential-shaped text.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*['"]?[\w\-]+['"]?`,
	`(?i)bearer\s+[\w\-\.]+`,
	`sk-[a-zA-Z0-9]{20,}`,
	`ghp_[a-zA-Z0-9]{36}`,
	`(?i)aws[_-]?secret[_-]?access[_-]?key`,
	`AIza[0-9A-Za-z\-_]{35}`,
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Scan: ScanConfig{
			Exclude:          append([]string(nil), DefaultExclude...),
			Extensions:       append([]string(nil), DefaultExtensions...),
			MaxFileSizeMB:    100,
			RespectGitignore: true,
		},
		Parse: ParseConfig{
			Structural:    true,
			MaxComponents: 20,
			MaxImports:    50,
			MaxExports:    20,
			MaxCalls:      20,
			MaxEnvVars:    20,
			MaxHooks:      10,
			MaxRoutes:     50,
		},
		Manifest: ManifestConfig{
			MaxComponents: 50,
			MaxAPICalls:   20,
			MaxSuggested:  10,
		},
		Chunking: ChunkingConfig{
			ChunkSize:     1000,
			ChunkOverlap:  200,
			Strategy:      "auto",
			LinesPerChunk: 50,
		},
		Security: SecurityConfig{
			RedactPatterns: append([]string(nil), DefaultRedactPatterns...),
			Placeholder:    "[REDACTED]",
		},
		Embedding: EmbeddingConfig{
			Provider:   "auto",
			Model:      "all-minilm",
			Host:       "http://localhost:11434",
			Dimensions: 384,
			BatchSize:  100,
			Workers:    2,
			Timeout:    60 * time.Second,
			MaxRetries: 3,
			CacheSize:  1000,
		},
		VectorStore: VectorStoreConfig{
			Backend:          "sqlite",
			PersistDirectory: filepath.Join(DataDirName, "vector_store"),
			Collection:       "frontend_code",
			KeywordIndex:     true,
		},
		Summarizer: SummarizerConfig{
			Provider: "auto",
			Model:    "llama3.2",
			Host:     "http://localhost:11434",
			Timeout:  30 * time.Second,
			MaxFiles: 50,
		},
		Output: OutputConfig{
			Directory: "forge-output",
		},
		Performance: PerformanceConfig{
			Workers:       0,
			WatchDebounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/forge/config.yaml or
// ~/.config/forge/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "forge", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "forge", "config.yaml")
	}
	return filepath.Join(home, ".config", "forge", "config.yaml")
}

// Load resolves configuration for the project at root. explicit, when
// non-empty, names a config file that must exist.
func Load(root, explicit string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if path := FindProjectConfig(root); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if explicit != "" {
		if !fileExists(explicit) {
			return nil, ferrors.New(ferrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file %s does not exist", explicit), nil)
		}
		if err := cfg.loadYAML(explicit); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindProjectConfig returns the project config path in root, or "".
func FindProjectConfig(root string) string {
	for _, name := range ProjectConfigNames {
		p := filepath.Join(root, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// loadYAML decodes path on top of the current values. Keys absent from
// the file keep their current value.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ferrors.New(ferrors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return ferrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FORGE_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("FORGE_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("FORGE_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("FORGE_OLLAMA_HOST"); v != "" {
		c.Embedding.Host = v
		c.Summarizer.Host = v
	}
	if v := os.Getenv("FORGE_VECTOR_BACKEND"); v != "" {
		c.VectorStore.Backend = v
	}
	if v := os.Getenv("FORGE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.ChunkSize = n
		}
	}
	if v := os.Getenv("FORGE_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.ChunkOverlap = n
		}
	}
	if v := os.Getenv("FORGE_SUMMARIZER_PROVIDER"); v != "" {
		c.Summarizer.Provider = v
	}
	if v := os.Getenv("FORGE_OUTPUT_DIR"); v != "" {
		c.Output.Directory = v
	}
	if v := os.Getenv("FORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration. Every failure is configuration-fatal.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return ferrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	if c.Scan.MaxFileSizeMB <= 0 {
		return invalid("scan.max_file_size_mb must be positive, got %d", c.Scan.MaxFileSizeMB)
	}
	if len(c.Scan.Extensions) == 0 {
		return invalid("scan.extensions must not be empty")
	}

	p := c.Parse
	for name, v := range map[string]int{
		"max_components": p.MaxComponents, "max_imports": p.MaxImports,
		"max_exports": p.MaxExports, "max_calls": p.MaxCalls,
		"max_env_vars": p.MaxEnvVars, "max_hooks": p.MaxHooks, "max_routes": p.MaxRoutes,
	} {
		if v < 0 {
			return invalid("parse.%s must be non-negative, got %d", name, v)
		}
	}

	m := c.Manifest
	for name, v := range map[string]int{
		"max_components": m.MaxComponents, "max_api_calls": m.MaxAPICalls,
		"max_suggested_endpoints": m.MaxSuggested, "max_routes": m.MaxRoutes,
	} {
		if v < 0 {
			return invalid("manifest.%s must be non-negative, got %d", name, v)
		}
	}

	ch := c.Chunking
	if ch.ChunkSize <= 0 {
		return invalid("chunking.chunk_size must be positive, got %d", ch.ChunkSize)
	}
	if ch.ChunkOverlap < 0 || ch.ChunkOverlap >= ch.ChunkSize {
		return invalid("chunking.chunk_overlap must be in [0, chunk_size), got %d", ch.ChunkOverlap)
	}
	if ch.Strategy != "auto" && ch.Strategy != "windowed" {
		return invalid("chunking.strategy must be 'auto' or 'windowed', got %s", ch.Strategy)
	}
	if ch.LinesPerChunk <= 0 {
		return invalid("chunking.lines_per_chunk must be positive, got %d", ch.LinesPerChunk)
	}

	for _, pat := range c.Security.RedactPatterns {
		if _, err := regexp.Compile(pat); err != nil {
			return ferrors.ConfigError(fmt.Sprintf("security.redact_patterns: invalid pattern %q", pat), err)
		}
	}
	if c.Security.Placeholder == "" {
		return invalid("security.placeholder must not be empty")
	}

	e := c.Embedding
	switch strings.ToLower(e.Provider) {
	case "auto", "ollama", "static":
	default:
		return invalid("embedding.provider must be 'auto', 'ollama' or 'static', got %s", e.Provider)
	}
	if e.Dimensions <= 0 {
		return invalid("embedding.dimensions must be positive, got %d", e.Dimensions)
	}
	if e.BatchSize <= 0 || e.BatchSize > 1024 {
		return invalid("embedding.batch_size must be in [1, 1024], got %d", e.BatchSize)
	}
	if e.Workers <= 0 {
		return invalid("embedding.workers must be positive, got %d", e.Workers)
	}
	if e.MaxRetries < 0 {
		return invalid("embedding.max_retries must be non-negative, got %d", e.MaxRetries)
	}
	if e.Timeout <= 0 {
		return invalid("embedding.timeout must be positive, got %s", e.Timeout)
	}

	switch c.VectorStore.Backend {
	case "sqlite", "flat", "hnsw":
	default:
		return ferrors.New(ferrors.ErrCodeInvalidBackend,
			fmt.Sprintf("vector_store.backend must be 'sqlite', 'flat' or 'hnsw', got %q", c.VectorStore.Backend), nil)
	}
	if c.VectorStore.PersistDirectory == "" {
		return invalid("vector_store.persist_directory must not be empty")
	}

	switch strings.ToLower(c.Summarizer.Provider) {
	case "auto", "ollama", "none":
	default:
		return invalid("summarizer.provider must be 'auto', 'ollama' or 'none', got %s", c.Summarizer.Provider)
	}

	if c.Output.Directory == "" {
		return invalid("output.directory must not be empty")
	}
	if c.Performance.Workers < 0 {
		return invalid("performance.workers must be non-negative, got %d", c.Performance.Workers)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return invalid("logging.level must be 'debug', 'info', 'warn' or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// Excludes returns the effective exclude glob list.
func (c *Config) Excludes() []string {
	out := make([]string, 0, len(c.Scan.Exclude)+len(c.Scan.ExtraExclude))
	out = append(out, c.Scan.Exclude...)
	return append(out, c.Scan.ExtraExclude...)
}

// Workers returns the parse/chunk pool size.
func (c *Config) Workers() int {
	if c.Performance.Workers > 0 {
		return c.Performance.Workers
	}
	return runtime.NumCPU()
}

// ResolvePath resolves p against root unless it is absolute.
func ResolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
