package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// EndpointConfig is the limit for requests matching Method and Path.
// A Path ending in "/" matches every path below it.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int           // requests per Window; <= 0 means unlimited
	Window time.Duration // defaults to a minute
	Burst  int           // defaults to Limit
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// NewConfig limits every client to analysesPerMinute submissions and a more
// lenient budget for reads. A non-positive analysesPerMinute disables limiting.
func NewConfig(analysesPerMinute int) *Config {
	if analysesPerMinute <= 0 {
		return &Config{Enabled: false}
	}
	burst := max(1, analysesPerMinute/10)
	return &Config{
		Enabled:         true,
		DefaultLimit:    20 * analysesPerMinute,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         10 * time.Minute,
		Whitelist:       make(map[string]bool),
		EndpointConfigs: []EndpointConfig{
			{Path: "/health", Method: http.MethodGet, Limit: 0},
			{Path: "/analyses", Method: http.MethodPost, Limit: analysesPerMinute, Window: time.Minute, Burst: burst},
			{Path: "/analyses/stream", Method: http.MethodPost, Limit: analysesPerMinute, Window: time.Minute, Burst: burst},
		},
	}
}

// MatchEndpoint returns the config for method and path, preferring exact
// matches over prefix matches, or nil.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	var prefix *EndpointConfig
	for i := range configs {
		c := &configs[i]
		if c.Method != method {
			continue
		}
		if c.Path == path {
			return c
		}
		if prefix == nil && strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			prefix = c
		}
	}
	return prefix
}
