// Package config builds the effective configuration from defaults, an
// optional YAML file, the environment (including a .env file) and command
// line flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendGemini = "gemini"
	BackendLlama  = "llama"
)

// Config represents the platemate configuration.
type Config struct {
	Backend string `yaml:"backend"`

	// APIKey is only ever read from the environment.
	APIKey        string `yaml:"-"`
	GeminiModel   string `yaml:"gemini_model"`
	GeminiBaseURL string `yaml:"gemini_base_url"`
	GeminiRPM     int    `yaml:"gemini_requests_per_minute"`

	LlamaServer string `yaml:"llama_server"`
	LlamaSeed   int    `yaml:"llama_seed"`

	DBPath         string        `yaml:"db"`
	Listen         string        `yaml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	MaxMegapixels  float64       `yaml:"max_megapixels"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Backend:        BackendGemini,
		GeminiModel:    "gemini-1.5-flash-latest",
		GeminiRPM:      15,
		LlamaSeed:      385480504,
		DBPath:         "./platemate.db",
		Listen:         "0.0.0.0:8080",
		RequestTimeout: 60 * time.Second,
		MaxUploadBytes: 20 << 20,
		MaxMegapixels:  4,
		LogLevel:       "info",
	}
}

type LoadOptions struct {
	File    string // YAML config file, optional
	EnvFile string // dotenv file, ignored if missing
}

// Load builds the config from defaults <- file <- environment. Flags are
// applied by the caller afterwards.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if opts.EnvFile != "" {
		// Load does not override variables that are already set
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", opts.EnvFile, err)
		}
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func mergeEnv(cfg *Config) error {
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.APIKey = v
	}

	strs := map[string]*string{
		"PLATEMATE_BACKEND":      &cfg.Backend,
		"PLATEMATE_MODEL":        &cfg.GeminiModel,
		"PLATEMATE_BASE_URL":     &cfg.GeminiBaseURL,
		"PLATEMATE_LLAMA_SERVER": &cfg.LlamaServer,
		"PLATEMATE_DB":           &cfg.DBPath,
		"PLATEMATE_LISTEN":       &cfg.Listen,
		"PLATEMATE_LOG_LEVEL":    &cfg.LogLevel,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("PLATEMATE_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PLATEMATE_RPM: %w", err)
		}
		cfg.GeminiRPM = n
	}
	if v := os.Getenv("PLATEMATE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PLATEMATE_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("PLATEMATE_LOG_PRETTY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PLATEMATE_LOG_PRETTY: %w", err)
		}
		cfg.LogPretty = b
	}

	return nil
}

// Validate reports configuration that would stop platemate from starting.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendGemini:
		if c.APIKey == "" {
			return errors.New("GOOGLE_API_KEY environment variable is not set")
		}
	case BackendLlama:
		if c.LlamaServer == "" {
			return errors.New("llama backend selected but no llama server address given")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.DBPath == "" {
		return errors.New("database path is empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload size must be positive")
	}

	return nil
}
