// Package config — .gametl.yaml project file support.
//
// The project file sits in the game's root directory next to the input
// folder. Values are layered: built-in defaults, then .gametl.yaml, then
// .env and GAMETL_* environment variables. Command-line flags are applied
// last by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/gametl/report"
	"github.com/minios-linux/gametl/script"
)

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// Supported engines.
const (
	EngineMV  = "mv"
	EngineACE = "ace"
	EngineKS  = "ks"
)

// Config is the .gametl.yaml structure after defaults are applied.
type Config struct {
	// Engine selects the file adapter: mv, ace or ks.
	Engine string `yaml:"engine"`
	// InputDir holds the untranslated files, relative to the project root.
	InputDir string `yaml:"input_dir,omitempty"`
	// OutputDir receives translated files and gametl.lock.
	OutputDir string `yaml:"output_dir,omitempty"`
	// Encoding is the .ks file encoding (default cp932).
	Encoding string `yaml:"encoding,omitempty"`

	// --- provider ---

	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	Proxy    string `yaml:"proxy,omitempty"`
	// APIKey is only read from the environment.
	APIKey string `yaml:"-"`
	// Language is the target language, as a code or an English name.
	Language string `yaml:"language,omitempty"`

	// --- batching and retries ---

	// BatchSize is the number of dialogue lines per request; 0 picks a size
	// from the model.
	BatchSize int `yaml:"batch_size,omitempty"`
	// MaxHistory bounds the context sent with each batch.
	MaxHistory int `yaml:"max_history,omitempty"`
	// MismatchRetries re-sends a mismatched batch; negative disables retries.
	MismatchRetries int           `yaml:"mismatch_retries,omitempty"`
	MaxRetries      int           `yaml:"max_retries,omitempty"`
	RetryDelay      time.Duration `yaml:"retry_delay,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	FileThreads     int           `yaml:"file_threads,omitempty"`
	PageThreads     int           `yaml:"page_threads,omitempty"`

	// --- text layout ---

	// Width wraps dialogue.
	Width int `yaml:"width,omitempty"`
	// ListWidth wraps descriptions and profiles.
	ListWidth int `yaml:"list_width,omitempty"`
	// BracketNames detects 【Name】 speakers.
	BracketNames bool `yaml:"bracket_names,omitempty"`
	// BRTags writes <br> instead of newlines in wrapped dialogue.
	BRTags bool `yaml:"br_tags,omitempty"`
	// KeepLineBreaks keeps source line breaks inside a dialogue run.
	KeepLineBreaks bool `yaml:"keep_line_breaks,omitempty"`

	// --- prompts and tables ---

	// PromptFile replaces the built-in system prompt.
	PromptFile string `yaml:"prompt_file,omitempty"`
	// Glossary is sent with every request.
	Glossary string `yaml:"glossary,omitempty"`
	// Names maps source speaker names to fixed translations.
	Names map[string]string `yaml:"names,omitempty"`
	// Codes switches code families and rules on or off by name.
	Codes map[string]bool `yaml:"codes,omitempty"`
	// Rules are extra scripted-text rules appended to the engine table.
	Rules []script.Rule `yaml:"rules,omitempty"`

	// Pricing overrides the per-model cost table.
	Pricing *report.Pricing `yaml:"pricing,omitempty"`
	// Memory is the translation memory database; empty disables it.
	Memory string `yaml:"memory,omitempty"`
}

// Defaults.
const (
	DefaultInputDir        = "files"
	DefaultOutputDir       = "translated"
	DefaultProvider        = "openai"
	DefaultModel           = "gpt-4o-mini"
	DefaultLanguage        = "English"
	DefaultWidth           = 60
	DefaultListWidth       = 100
	DefaultMaxHistory      = 10
	DefaultMismatchRetries = 2
	DefaultMaxRetries      = 4
	DefaultRetryDelay      = 5 * time.Second
	DefaultTimeout         = 120 * time.Second
)

// Environment variables read after .env is loaded.
const (
	EnvAPIKey   = "GAMETL_API_KEY"
	EnvModel    = "GAMETL_MODEL"
	EnvBaseURL  = "GAMETL_BASE_URL"
	EnvLanguage = "GAMETL_LANGUAGE"
	EnvProvider = "GAMETL_PROVIDER"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// FileName is the project file name.
const FileName = ".gametl.yaml"

// EnvFileName is the optional dotenv file next to the project file.
const EnvFileName = ".env"

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads .gametl.yaml and .env from rootDir, applies environment
// overrides and defaults, and validates the result. A missing project file
// is not an error; unknown keys are.
func Load(rootDir string) (*Config, error) {
	c := &Config{}
	path := filepath.Join(rootDir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := loadEnvFile(filepath.Join(rootDir, EnvFileName)); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func decode(data []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("unsupported key: %w", err)
		}
		return err
	}
	return nil
}

// loadEnvFile loads a dotenv file without overriding variables that are
// already set.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvLanguage); v != "" {
		c.Language = v
	}
	if v := os.Getenv(EnvProvider); v != "" {
		c.Provider = v
	}
}

func (c *Config) applyDefaults() {
	if c.Engine == "" {
		c.Engine = EngineMV
	}
	if c.InputDir == "" {
		c.InputDir = DefaultInputDir
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.ListWidth == 0 {
		c.ListWidth = DefaultListWidth
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.MismatchRetries == 0 {
		c.MismatchRetries = DefaultMismatchRetries
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FileThreads == 0 {
		c.FileThreads = 1
	}
	if c.PageThreads == 0 {
		c.PageThreads = 1
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineMV, EngineACE, EngineKS:
	default:
		return fmt.Errorf("unknown engine %q (valid: mv, ace, ks)", c.Engine)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	if c.FileThreads < 1 || c.PageThreads < 1 {
		return fmt.Errorf("file_threads and page_threads must be at least 1")
	}
	if c.Width < 0 || c.ListWidth < 0 {
		return fmt.Errorf("width and list_width must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Pricing != nil && (c.Pricing.Input < 0 || c.Pricing.Output < 0) {
		return fmt.Errorf("pricing must not be negative")
	}
	for i, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule #%d has no name", i+1)
		}
		if len(r.Codes) == 0 {
			return fmt.Errorf("rule %q requires \"codes\"", r.Name)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// EffectiveBatchSize returns BatchSize, or a size suited to the model when
// it is 0: GPT-4 class models get smaller batches.
func (c *Config) EffectiveBatchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	if strings.Contains(c.Model, "gpt-4") {
		return 5
	}
	return 10
}

// EffectivePricing returns the configured pricing or the model's default.
func (c *Config) EffectivePricing() report.Pricing {
	if c.Pricing != nil {
		return *c.Pricing
	}
	return report.PricingFor(c.Model)
}

// BreakTag returns the line separator written into wrapped dialogue.
func (c *Config) BreakTag() string {
	if c.BRTags {
		return "<br>"
	}
	return ""
}

// Table returns base with the configured code switches and extra rules
// applied.
func (c *Config) Table(base script.Table) script.Table {
	return base.WithRules(c.Rules...).Toggle(c.Codes)
}

// InputPath resolves InputDir against rootDir.
func (c *Config) InputPath(rootDir string) string {
	return resolve(rootDir, c.InputDir)
}

// OutputPath resolves OutputDir against rootDir.
func (c *Config) OutputPath(rootDir string) string {
	return resolve(rootDir, c.OutputDir)
}

func resolve(rootDir, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(rootDir, dir)
}

// PromptText reads PromptFile relative to rootDir. It returns "" when no
// prompt file is configured.
func (c *Config) PromptText(rootDir string) (string, error) {
	if c.PromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(resolve(rootDir, c.PromptFile))
	if err != nil {
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes c to rootDir/.gametl.yaml.
func (c *Config) Save(rootDir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(rootDir, FileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
