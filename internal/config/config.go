// Package config provides configuration loading and validation for the server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonathan/resume-analyzer/internal/llm"
)

// Defaults for values that are not set anywhere
const (
	DefaultMaxUploadBytes     int64 = 20 << 20
	DefaultStorageDir               = "data/uploads"
	DefaultRateLimitPerMinute       = 30
	DefaultPort                     = 8080
	DefaultLogFile                  = "resume-analyzer.log"
	DefaultLogLevel                 = "info"
)

// Config is loaded from an optional JSON file, merged over defaults and
// then overridden by environment variables.
type Config struct {
	// Collaborators
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key
	StorageDir  string `json:"storage_dir,omitempty"`  // Root directory for uploaded artifacts

	// Limits
	MaxUploadBytes     int64 `json:"max_upload_bytes,omitempty"`
	RateLimitPerMinute int   `json:"rate_limit_per_minute,omitempty"`

	// Model
	LLMModel       string   `json:"llm_model,omitempty"`       // Overrides the model for the configured tier
	LLMTier        string   `json:"llm_tier,omitempty"`        // lite, standard or advanced
	LLMTemperature *float64 `json:"llm_temperature,omitempty"` // nil keeps the default
	InferenceMode  string   `json:"inference_mode,omitempty"`  // file or text

	// Auth
	JWTSecret          string `json:"jwt_secret,omitempty"`
	JWTExpirationHours int    `json:"jwt_expiration_hours,omitempty"`

	// Server
	Port int `json:"port,omitempty"`

	// Logging
	LogFile  string `json:"log_file,omitempty"`
	LogLevel string `json:"log_level,omitempty"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		StorageDir:         DefaultStorageDir,
		MaxUploadBytes:     DefaultMaxUploadBytes,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		LLMTier:            string(llm.TierStandard),
		InferenceMode:      string(llm.ModeFile),
		JWTExpirationHours: DefaultJWTExpirationHours,
		Port:               DefaultPort,
		LogFile:            DefaultLogFile,
		LogLevel:           DefaultLogLevel,
	}
}

// Load builds the effective configuration: defaults, then the file at path
// (skipped when path is empty), then the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	merged := cfg.MergeWithDefaults(Defaults())
	if err := merged.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides fields with any environment variables that are set
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("DATABASE_URL", &c.DatabaseURL)
	setString("GEMINI_API_KEY", &c.APIKey)
	setString("STORAGE_DIR", &c.StorageDir)
	setString("LLM_MODEL", &c.LLMModel)
	setString("LLM_TIER", &c.LLMTier)
	setString("INFERENCE_MODE", &c.InferenceMode)
	setString("JWT_SECRET", &c.JWTSecret)
	setString("LOG_FILE", &c.LogFile)
	setString("LOG_LEVEL", &c.LogLevel)

	// Enumerated values match case-insensitively
	c.LLMTier = strings.ToLower(strings.TrimSpace(c.LLMTier))
	c.InferenceMode = strings.ToLower(strings.TrimSpace(c.InferenceMode))

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LLM_TEMPERATURE: %w", err)
		}
		c.LLMTemperature = &f
	}
	if err := setInt("JWT_EXPIRATION_HOURS", &c.JWTExpirationHours); err != nil {
		return err
	}
	if err := setInt("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute); err != nil {
		return err
	}
	return setInt("PORT", &c.Port)
}

// Validate checks that the configuration has valid values.
// Secrets are not required here; the commands that need them check.
func (c *Config) Validate() error {
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("config error: 'max_upload_bytes' must be non-negative")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("config error: 'rate_limit_per_minute' must be non-negative")
	}
	if c.JWTExpirationHours < 0 {
		return fmt.Errorf("config error: 'jwt_expiration_hours' must be non-negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if t := c.LLMTemperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("config error: 'llm_temperature' must be between 0 and 2")
	}

	switch llm.ModelTier(c.LLMTier) {
	case "", llm.TierLite, llm.TierStandard, llm.TierAdvanced:
	default:
		return fmt.Errorf("config error: unknown llm_tier %q", c.LLMTier)
	}
	switch llm.InferenceMode(c.InferenceMode) {
	case "", llm.ModeFile, llm.ModeText:
	default:
		return fmt.Errorf("config error: unknown inference_mode %q", c.InferenceMode)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.StorageDir == "" {
		result.StorageDir = defaults.StorageDir
	}
	if result.LLMModel == "" {
		result.LLMModel = defaults.LLMModel
	}
	if result.LLMTier == "" {
		result.LLMTier = defaults.LLMTier
	}
	if result.InferenceMode == "" {
		result.InferenceMode = defaults.InferenceMode
	}
	if result.JWTSecret == "" {
		result.JWTSecret = defaults.JWTSecret
	}
	if result.LogFile == "" {
		result.LogFile = defaults.LogFile
	}
	if result.LogLevel == "" {
		result.LogLevel = defaults.LogLevel
	}

	// Numeric fields: use default if zero
	if result.MaxUploadBytes == 0 {
		result.MaxUploadBytes = defaults.MaxUploadBytes
	}
	if result.RateLimitPerMinute == 0 {
		result.RateLimitPerMinute = defaults.RateLimitPerMinute
	}
	if result.JWTExpirationHours == 0 {
		result.JWTExpirationHours = defaults.JWTExpirationHours
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.LLMTemperature == nil {
		result.LLMTemperature = defaults.LLMTemperature
	}

	return result
}

// LLMConfig returns the model configuration described by c
func (c *Config) LLMConfig() *llm.Config {
	cfg := llm.DefaultConfig()
	if c.LLMTier != "" {
		cfg.Tier = llm.ModelTier(c.LLMTier)
	}
	if c.LLMModel != "" {
		cfg = cfg.WithModel(cfg.Tier, c.LLMModel)
	}
	if c.LLMTemperature != nil {
		cfg.Temperature = float32(*c.LLMTemperature)
	}
	if c.InferenceMode != "" {
		cfg.Mode = llm.InferenceMode(c.InferenceMode)
	}
	return cfg
}

// JWT returns the token configuration, failing when no secret is set
func (c *Config) JWT() (*JWTConfig, error) {
	return NewJWTConfig(c.JWTSecret, c.JWTExpirationHours)
}
