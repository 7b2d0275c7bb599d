package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-analyzer/internal/llm"
)

var envKeys = []string{
	"DATABASE_URL", "GEMINI_API_KEY", "STORAGE_DIR", "MAX_UPLOAD_BYTES", "LLM_MODEL", "LLM_TIER",
	"LLM_TEMPERATURE", "INFERENCE_MODE", "JWT_SECRET", "JWT_EXPIRATION_HOURS",
	"RATE_LIMIT_PER_MINUTE", "PORT", "LOG_FILE", "LOG_LEVEL",
}

// clearEnv blanks every variable ApplyEnv reads for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	path := writeConfig(t, `{
		"database_url": "postgres://localhost/resumes",
		"storage_dir": "/var/lib/resumes",
		"max_upload_bytes": 1048576,
		"llm_temperature": 0.4,
		"inference_mode": "text"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/resumes", cfg.DatabaseURL)
	assert.Equal(t, "/var/lib/resumes", cfg.StorageDir)
	assert.Equal(t, int64(1048576), cfg.MaxUploadBytes)
	require.NotNil(t, cfg.LLMTemperature)
	assert.InDelta(t, 0.4, *cfg.LLMTemperature, 1e-9)
	assert.Equal(t, "text", cfg.InferenceMode)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{ invalid json }`))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
	assert.Equal(t, DefaultMaxUploadBytes, cfg.MaxUploadBytes)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{"storage_dir": "from-file", "rate_limit_per_minute": 5, "jwt_secret": "file-secret"}`)
	t.Setenv("STORAGE_DIR", "from-env")
	t.Setenv("MAX_UPLOAD_BYTES", "4096")
	t.Setenv("LLM_TEMPERATURE", "0")
	t.Setenv("JWT_EXPIRATION_HOURS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.StorageDir)
	assert.Equal(t, int64(4096), cfg.MaxUploadBytes)
	assert.Equal(t, 5, cfg.RateLimitPerMinute)
	assert.Equal(t, "file-secret", cfg.JWTSecret)
	require.NotNil(t, cfg.LLMTemperature)
	assert.Zero(t, *cfg.LLMTemperature)
	assert.Equal(t, 2, cfg.JWTExpirationHours)
}

func TestLoad_EnumsAreCaseInsensitive(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_TIER", "LITE")

	cfg, err := Load(writeConfig(t, `{"inference_mode": " Text "}`))
	require.NoError(t, err)

	assert.Equal(t, "lite", cfg.LLMTier)
	assert.Equal(t, "text", cfg.InferenceMode)
	assert.Equal(t, llm.TierLite, cfg.LLMConfig().Tier)
	assert.Equal(t, llm.ModeText, cfg.LLMConfig().Mode)
}

func TestLoad_InvalidEnv(t *testing.T) {
	for _, key := range []string{"MAX_UPLOAD_BYTES", "LLM_TEMPERATURE", "RATE_LIMIT_PER_MINUTE", "JWT_EXPIRATION_HOURS"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "lots")

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	hot := 3.0
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"negative upload limit", func(c *Config) { c.MaxUploadBytes = -1 }, "max_upload_bytes"},
		{"negative rate limit", func(c *Config) { c.RateLimitPerMinute = -1 }, "rate_limit_per_minute"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "port"},
		{"temperature too high", func(c *Config) { c.LLMTemperature = &hot }, "llm_temperature"},
		{"unknown tier", func(c *Config) { c.LLMTier = "ultra" }, "llm_tier"},
		{"unknown mode", func(c *Config) { c.InferenceMode = "image" }, "inference_mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeWithDefaults(t *testing.T) {
	temp := 0.7
	cfg := &Config{APIKey: "from-file", Port: 9090}
	defaults := Config{APIKey: "default-key", StorageDir: "defaults", Port: 8080, LLMTemperature: &temp}

	merged := cfg.MergeWithDefaults(defaults)

	assert.Equal(t, "from-file", merged.APIKey)
	assert.Equal(t, "defaults", merged.StorageDir)
	assert.Equal(t, 9090, merged.Port)
	assert.Equal(t, &temp, merged.LLMTemperature)
	assert.Empty(t, cfg.StorageDir, "receiver must not be modified")
}

func TestLLMConfig(t *testing.T) {
	temp := 0.5
	cfg := Defaults()
	cfg.LLMTier = "advanced"
	cfg.LLMModel = "gemini-custom"
	cfg.LLMTemperature = &temp
	cfg.InferenceMode = "text"

	got := cfg.LLMConfig()
	assert.Equal(t, llm.TierAdvanced, got.Tier)
	assert.Equal(t, "gemini-custom", got.Model())
	assert.InDelta(t, 0.5, got.Temperature, 1e-6)
	assert.Equal(t, llm.ModeText, got.Mode)

	def := Defaults()
	assert.Equal(t, llm.DefaultConfig().Model(), def.LLMConfig().Model())
	assert.Equal(t, llm.DefaultTemperature, def.LLMConfig().Temperature)
}
