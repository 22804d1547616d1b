package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/observation"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "OBSMESH"

// Memory backends accepted by MemoryConfig.Backend.
const (
	MemoryBackendInMemory = "inmemory"
	MemoryBackendVector   = "vector"
)

// History backends accepted by HistoryConfig.Backend.
const (
	HistoryBackendInMemory = "inmemory"
	HistoryBackendPostgres = "postgres"
)

// Logging backends accepted by LoggingConfig.Backend.
const (
	LogBackendSlog = logging.BackendSlog
	LogBackendZap  = logging.BackendZap
)

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Codec     CodecConfig     `mapstructure:"codec" yaml:"codec"`
	Loop      LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Executors ExecutorsConfig `mapstructure:"executors" yaml:"executors"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
}

// LoggingConfig mirrors logging.LoggerConfig in a file friendly form.
type LoggingConfig struct {
	// Backend selects slog (StructuredLogger) or zap.
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	Component  string `mapstructure:"component" yaml:"component"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// CodecConfig selects the unknown-kind policy.
type CodecConfig struct {
	Policy string `mapstructure:"policy" yaml:"policy"`
}

// LoopConfig configures the orchestrator.
type LoopConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	GracePeriod   time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	BufferSize    int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	SessionID     string        `mapstructure:"session_id" yaml:"session_id"`
}

// ExecutorsConfig groups the reference executors' settings.
type ExecutorsConfig struct {
	Read   FileReaderConfig `mapstructure:"read" yaml:"read"`
	Browse BrowserConfig    `mapstructure:"browse" yaml:"browse"`
	Run    CommandConfig    `mapstructure:"run" yaml:"run"`
	Recall RecallConfig     `mapstructure:"recall" yaml:"recall"`
	Chat   ChatConfig       `mapstructure:"chat" yaml:"chat"`
}

// FileReaderConfig configures the read executor.
type FileReaderConfig struct {
	Root     string `mapstructure:"root" yaml:"root"`
	MaxBytes int64  `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// BrowserConfig configures the browse executor.
type BrowserConfig struct {
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxBytes  int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RateLimit is the sustained requests per second; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// CommandConfig configures the run executor.
type CommandConfig struct {
	Shell          []string      `mapstructure:"shell" yaml:"shell"`
	Dir            string        `mapstructure:"dir" yaml:"dir"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// RecallConfig configures the recall executor.
type RecallConfig struct {
	Limit int `mapstructure:"limit" yaml:"limit"`
}

// ChatConfig configures the chat executor.
type ChatConfig struct {
	Buffer int `mapstructure:"buffer" yaml:"buffer"`
}

// MemoryConfig selects and configures the recall backend.
type MemoryConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	PersistPath string `mapstructure:"persist_path" yaml:"persist_path"`
	Collection  string `mapstructure:"collection" yaml:"collection"`
	// CacheSize memoizes that many distinct searches; 0 disables the cache.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
}

// HistoryConfig selects where observations are recorded.
type HistoryConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// ServerConfig configures the HTTP ingest server started by obsctl serve.
type ServerConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Metrics  bool   `mapstructure:"metrics" yaml:"metrics"`
	ReadOnly bool   `mapstructure:"read_only" yaml:"read_only"`
	// AllowOrigins enables CORS for browser clients; empty disables it.
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

// SetDefaults registers every default on v. Keys that have a default are also
// the keys AutomaticEnv can override.
func SetDefaults(v *viper.Viper) {
	// -- Logging --
	v.SetDefault("logging.backend", LogBackendSlog)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.component", "obsmesh")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", false)

	// -- Codec --
	v.SetDefault("codec.policy", string(observation.PolicyStrict))

	// -- Loop --
	v.SetDefault("loop.max_concurrent", 10)
	v.SetDefault("loop.action_timeout", "60s")
	v.SetDefault("loop.grace_period", "1s")
	v.SetDefault("loop.buffer_size", 100)
	v.SetDefault("loop.session_id", "")

	// -- Executors --
	v.SetDefault("executors.read.root", "")
	v.SetDefault("executors.read.max_bytes", 1<<20)
	v.SetDefault("executors.browse.user_agent", "obsmesh/1.0")
	v.SetDefault("executors.browse.max_bytes", 2<<20)
	v.SetDefault("executors.browse.timeout", "30s")
	v.SetDefault("executors.browse.rate_limit", 0.0)
	v.SetDefault("executors.browse.burst", 1)
	v.SetDefault("executors.run.shell", []string{"sh", "-c"})
	v.SetDefault("executors.run.dir", "")
	v.SetDefault("executors.run.timeout", "30s")
	v.SetDefault("executors.run.max_output_bytes", 1<<20)
	v.SetDefault("executors.recall.limit", 5)
	v.SetDefault("executors.chat.buffer", 16)

	// -- Memory --
	v.SetDefault("memory.backend", MemoryBackendInMemory)
	v.SetDefault("memory.persist_path", "")
	v.SetDefault("memory.collection", "observations")
	v.SetDefault("memory.cache_size", 0)

	// -- History --
	v.SetDefault("history.backend", HistoryBackendInMemory)
	v.SetDefault("history.dsn", "")

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.allow_origins", []string{})
}

// NewDefaultConfig returns a Config populated only from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from path (or ./obsmesh.yaml when path is empty),
// applies OBSMESH_* environment overrides and validates the result. A missing
// default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("obsmesh")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper decodes and validates the settings held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every filesystem path setting.
func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Logging.File,
		&c.Executors.Read.Root,
		&c.Executors.Run.Dir,
		&c.Memory.PersistPath,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if b := c.Logging.Backend; b != LogBackendSlog && b != LogBackendZap {
		errs = append(errs, fmt.Errorf("logging.backend must be %s or %s, got %q", LogBackendSlog, LogBackendZap, b))
	}
	if f := c.Logging.Format; f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", f))
	}
	if _, err := observation.ParsePolicy(c.Codec.Policy); err != nil {
		errs = append(errs, fmt.Errorf("codec.policy: %w", err))
	}
	if c.Loop.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("loop.max_concurrent must be a positive integer"))
	}
	if c.Loop.ActionTimeout <= 0 {
		errs = append(errs, errors.New("loop.action_timeout must be positive"))
	}
	if c.Loop.GracePeriod < 0 {
		errs = append(errs, errors.New("loop.grace_period must not be negative"))
	}
	if c.Loop.BufferSize < 0 {
		errs = append(errs, errors.New("loop.buffer_size must not be negative"))
	}
	if c.Executors.Read.MaxBytes <= 0 {
		errs = append(errs, errors.New("executors.read.max_bytes must be positive"))
	}
	if c.Executors.Browse.MaxBytes <= 0 {
		errs = append(errs, errors.New("executors.browse.max_bytes must be positive"))
	}
	if c.Executors.Browse.RateLimit < 0 {
		errs = append(errs, errors.New("executors.browse.rate_limit must not be negative"))
	}
	if c.Executors.Browse.RateLimit > 0 && c.Executors.Browse.Burst < 1 {
		errs = append(errs, errors.New("executors.browse.burst must be at least 1 when rate limiting"))
	}
	if len(c.Executors.Run.Shell) == 0 {
		errs = append(errs, errors.New("executors.run.shell must name a program"))
	}
	if c.Executors.Run.Timeout <= 0 {
		errs = append(errs, errors.New("executors.run.timeout must be positive"))
	}
	if c.Executors.Recall.Limit <= 0 {
		errs = append(errs, errors.New("executors.recall.limit must be a positive integer"))
	}
	if c.Executors.Chat.Buffer < 0 {
		errs = append(errs, errors.New("executors.chat.buffer must not be negative"))
	}
	switch c.Memory.Backend {
	case MemoryBackendInMemory:
	case MemoryBackendVector:
		if c.Memory.Collection == "" {
			errs = append(errs, errors.New("memory.collection is required for the vector backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend must be %s or %s, got %q",
			MemoryBackendInMemory, MemoryBackendVector, c.Memory.Backend))
	}
	if c.Memory.CacheSize < 0 {
		errs = append(errs, errors.New("memory.cache_size must not be negative"))
	}
	switch c.History.Backend {
	case HistoryBackendInMemory:
	case HistoryBackendPostgres:
		if c.History.DSN == "" {
			errs = append(errs, errors.New("history.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend must be %s or %s, got %q",
			HistoryBackendInMemory, HistoryBackendPostgres, c.History.Backend))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	return errors.Join(errs...)
}

// LoggerConfig converts the logging section. The level has already been
// validated; an unparsable value falls back to info.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultLoggerConfig()
	lc.Level, _ = logging.ParseLevel(c.Logging.Level)
	lc.Format = c.Logging.Format
	lc.AddSource = c.Logging.AddSource
	lc.Component = c.Logging.Component
	lc.File = c.Logging.File
	lc.MaxSizeMB = c.Logging.MaxSizeMB
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAgeDays = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	return lc
}

// NewLogger builds the logger selected by the logging section.
func (c *Config) NewLogger() logging.CloseableLogger {
	return logging.NewBackend(c.Logging.Backend, c.LoggerConfig())
}

// Policy returns the configured codec policy, defaulting to strict.
func (c *Config) Policy() observation.Policy {
	p, err := observation.ParsePolicy(c.Codec.Policy)
	if err != nil {
		return observation.PolicyStrict
	}
	return p
}
