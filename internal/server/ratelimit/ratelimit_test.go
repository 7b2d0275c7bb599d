package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchEndpoint(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/analyses/", Method: http.MethodGet, Limit: 1},
		{Path: "/analyses", Method: http.MethodPost, Limit: 2},
		{Path: "/analyses/stream", Method: http.MethodPost, Limit: 3},
	}

	assert.Equal(t, 2, MatchEndpoint("/analyses", http.MethodPost, configs).Limit)
	assert.Equal(t, 3, MatchEndpoint("/analyses/stream", http.MethodPost, configs).Limit)
	assert.Equal(t, 1, MatchEndpoint("/analyses/abc", http.MethodGet, configs).Limit)
	assert.Nil(t, MatchEndpoint("/analyses", http.MethodGet, configs))
	assert.Nil(t, MatchEndpoint("/other", http.MethodPost, configs))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(NewConfig(0))
	defer l.Stop()

	for i := 0; i < 100; i++ {
		allowed, _ := l.Allow("1.2.3.4", "/analyses", http.MethodPost)
		require.True(t, allowed)
	}
}

func TestLimiter_BlocksAfterBurst(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		EndpointConfigs: []EndpointConfig{
			{Path: "/analyses", Method: http.MethodPost, Limit: 2, Window: time.Hour, Burst: 2},
		},
	}
	l := NewLimiter(cfg)
	defer l.Stop()

	ok1, info := l.Allow("1.2.3.4", "/analyses", http.MethodPost)
	assert.True(t, ok1)
	assert.Equal(t, 2, info.Limit)
	assert.Equal(t, 1, info.Remaining)

	ok2, _ := l.Allow("1.2.3.4", "/analyses", http.MethodPost)
	assert.True(t, ok2)

	ok3, info := l.Allow("1.2.3.4", "/analyses", http.MethodPost)
	assert.False(t, ok3)
	assert.Greater(t, info.RetryAfter, time.Duration(0))

	// other clients have their own bucket
	ok4, _ := l.Allow("5.6.7.8", "/analyses", http.MethodPost)
	assert.True(t, ok4)
}

func TestLimiter_UnlimitedAndWhitelist(t *testing.T) {
	cfg := NewConfig(1)
	cfg.Whitelist["10.0.0.1"] = true
	l := NewLimiter(cfg)
	defer l.Stop()

	for i := 0; i < 50; i++ {
		ok, _ := l.Allow("1.2.3.4", "/health", http.MethodGet)
		require.True(t, ok)
		ok, _ = l.Allow("10.0.0.1", "/analyses", http.MethodPost)
		require.True(t, ok)
	}
}

func TestLimiter_DefaultBucketIsShared(t *testing.T) {
	cfg := &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Hour}
	l := NewLimiter(cfg)
	defer l.Stop()

	ok, _ := l.Allow("c", "/analyses/a", http.MethodGet)
	assert.True(t, ok)
	ok, _ = l.Allow("c", "/analyses/b", http.MethodGet)
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_EvictIdle(t *testing.T) {
	cfg := &Config{Enabled: true, DefaultLimit: 5, IdleTTL: time.Minute}
	l := NewLimiter(cfg)
	defer l.Stop()

	l.Allow("a", "/x", http.MethodGet)
	require.Equal(t, 1, l.Len())

	l.evictIdle(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, l.Len())
}
