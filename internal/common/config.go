package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/homework-scanner/constants"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scan     ScanConfig     `yaml:"scan"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Logging  LoggingConfig  `yaml:"logging"`
	Ingest   IngestConfig   `yaml:"ingest"`

	// Sources is the ordered list of configured AI backends.
	Sources      []SourceConfig `yaml:"sources"`
	ActiveSource string         `yaml:"active_source"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// ScanConfig holds worker pool and retry settings.
type ScanConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"` // 0 means uncapped
	PreviewDir   string        `yaml:"preview_dir"`
	Seed         uint64        `yaml:"seed"` // 0 picks a random seed
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"` // postgres:// URL or sqlite file path; empty disables history
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// LLMConfig holds vendor-specific defaults applied to every source of that vendor.
type LLMConfig struct {
	OpenAIMode         string        `yaml:"openai_mode"` // stream | poll
	OpenAIPollInterval time.Duration `yaml:"openai_poll_interval"`
	OpenAIMaxPoll      time.Duration `yaml:"openai_max_poll"`
	GeminiThinking     int32         `yaml:"gemini_thinking_budget"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// IngestConfig drives the directory watcher. No watch dirs disables it.
type IngestConfig struct {
	WatchDirs   []string      `yaml:"watch_dirs"`
	Debounce    time.Duration `yaml:"debounce"`
	InitialScan bool          `yaml:"initial_scan"`
	MaxFileMB   int           `yaml:"max_file_mb"`
}

// LoggingConfig controls the slog handler built by the binaries.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// SourceConfig is one configured AI backend as it appears in the config file.
type SourceConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Enabled        *bool  `yaml:"enabled"`
	Traits         string `yaml:"traits"`
	BaseURL        string `yaml:"base_url"`
	ThinkingBudget *int32 `yaml:"thinking_budget"`
}

// IsEnabled treats a missing flag as enabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Defaults returns the configuration used when no file or env overrides exist.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			GRPCAddr:       ":9090",
			AllowedOrigins: []string{"*"},
			MaxUploadMB:    32,
		},
		Scan: ScanConfig{
			Concurrency:  4,
			MaxAttempts:  5,
			InitialDelay: 5 * time.Second,
			PreviewDir:   "./tmp/previews",
		},
		Database: DatabaseConfig{
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		LLM: LLMConfig{
			OpenAIMode:         "stream",
			OpenAIPollInterval: time.Second,
			OpenAIMaxPoll:      30 * time.Second,
			GeminiThinking:     -1,
			RequestTimeout:     3 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Ingest:  IngestConfig{Debounce: 750 * time.Millisecond, InitialScan: true, MaxFileMB: 32},
	}
}

// LoadConfig loads configuration from an optional YAML file, then applies
// environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	c.Scan.Concurrency = getEnvAsInt("SCAN_CONCURRENCY", c.Scan.Concurrency)
	c.Scan.MaxAttempts = getEnvAsInt("SCAN_MAX_ATTEMPTS", c.Scan.MaxAttempts)
	c.Scan.InitialDelay = getEnvAsDuration("SCAN_INITIAL_DELAY", c.Scan.InitialDelay)
	c.Scan.MaxDelay = getEnvAsDuration("SCAN_MAX_DELAY", c.Scan.MaxDelay)
	c.Scan.PreviewDir = getEnv("PREVIEW_DIR", c.Scan.PreviewDir)

	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)

	c.LLM.OpenAIMode = getEnv("OPENAI_MODE", c.LLM.OpenAIMode)
	c.LLM.OpenAIPollInterval = getEnvAsDuration("OPENAI_POLL_INTERVAL", c.LLM.OpenAIPollInterval)
	c.LLM.OpenAIMaxPoll = getEnvAsDuration("OPENAI_MAX_POLL", c.LLM.OpenAIMaxPoll)
	c.LLM.GeminiThinking = getEnvAsInt32("GEMINI_THINKING_BUDGET", c.LLM.GeminiThinking)

	if dirs := getEnv("WATCH_DIRS", ""); dirs != "" {
		c.Ingest.WatchDirs = strings.Split(dirs, string(os.PathListSeparator))
	}
	c.Ingest.Debounce = getEnvAsDuration("WATCH_DEBOUNCE", c.Ingest.Debounce)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	// Plain env keys become sources when the file did not declare that provider.
	if key := getEnv("GEMINI_API_KEY", ""); key != "" && !c.hasProvider("gemini") {
		c.Sources = append(c.Sources, SourceConfig{
			ID:       "env-gemini",
			Name:     "Gemini",
			Provider: "gemini",
			APIKey:   key,
			Model:    getEnv("GEMINI_MODEL", "gemini-2.5-pro"),
			BaseURL:  getEnv("GEMINI_BASE_URL", ""),
		})
	}
	if key := getEnv("OPENAI_API_KEY", ""); key != "" && !c.hasProvider("openai") {
		c.Sources = append(c.Sources, SourceConfig{
			ID:       "env-openai",
			Name:     "OpenAI",
			Provider: "openai",
			APIKey:   key,
			Model:    getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
			BaseURL:  getEnv("OPENAI_BASE_URL", ""),
		})
	}
	c.ActiveSource = getEnv("ACTIVE_SOURCE", c.ActiveSource)
}

func (c *Config) hasProvider(p string) bool {
	for _, s := range c.Sources {
		if canonicalProvider(s.Provider) == p {
			return true
		}
	}
	return false
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Scan.Concurrency < 1 {
		errs = append(errs, NewAppError(CodeConfig, "scan.concurrency must be >= 1", ErrInvalidInput))
	}
	if c.Scan.MaxAttempts < 1 {
		errs = append(errs, NewAppError(CodeConfig, "scan.max_attempts must be >= 1", ErrInvalidInput))
	}
	if c.Scan.InitialDelay < 0 || c.Scan.MaxDelay < 0 {
		errs = append(errs, NewAppError(CodeConfig, "scan delays must not be negative", ErrInvalidInput))
	}
	if c.LLM.OpenAIMode != "stream" && c.LLM.OpenAIMode != "poll" {
		errs = append(errs, NewAppError(CodeConfig, "llm.openai_mode must be stream or poll", ErrInvalidInput))
	}
	seen := map[string]struct{}{}
	for i, s := range c.Sources {
		v := NewValidator().
			Field(fmt.Sprintf("sources[%d].id", i), s.ID, Required, MaxLength(64)).
			Field(fmt.Sprintf("sources[%d].provider", i), canonicalProvider(s.Provider), OneOf(constants.AsStringSlice()...)).
			Field(fmt.Sprintf("sources[%d].base_url", i), s.BaseURL, OptionalURL)
		if err := v.Error(); err != nil {
			errs = append(errs, NewAppError(CodeConfig, "invalid source", err))
		}
		if _, dup := seen[s.ID]; dup {
			errs = append(errs, NewAppError(CodeConfig, "duplicate source id "+s.ID, ErrInvalidInput))
		}
		seen[s.ID] = struct{}{}
	}
	return errors.Join(errs...)
}

// canonicalProvider maps provider synonyms so validation accepts what sources.FromConfig accepts.
func canonicalProvider(name string) string {
	if p, ok := constants.Canonicalize(name); ok {
		return string(p)
	}
	return name
}
