// ABOUTME: Tests for tagplayer configuration loading
// ABOUTME: Covers TOML parsing, defaults and GOTAG_* overrides

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gotag/internal/agent"
	"github.com/2389/gotag/internal/config"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "player.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_LOOKUP", "lookup.local:4160")
	path := writeTOML(t, `
[lookup]
addr = "${TEST_LOOKUP}"

[player]
restraint = "1s"
retry = "3s"
call_timeout = "500ms"
max_results = 3

[logging]
level = "warn"
format = "json"
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "lookup.local:4160", cfg.Lookup.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)

	timing, err := cfg.Timing()
	require.NoError(t, err)
	assert.Equal(t, time.Second, timing.Restraint)
	assert.Equal(t, 3*time.Second, timing.Retry)
	assert.Equal(t, 500*time.Millisecond, timing.CallTimeout)
	assert.Equal(t, 3, timing.MaxResults)
	assert.Equal(t, agent.DefaultTiming().Idle, timing.Idle)
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.toml")

	t.Run("default path falls back to defaults", func(t *testing.T) {
		cfg, err := Load(missing, false)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultLookupAddr, cfg.Lookup.Addr)

		timing, err := cfg.Timing()
		require.NoError(t, err)
		assert.Equal(t, agent.DefaultTiming(), timing)
	})

	t.Run("explicit path is an error", func(t *testing.T) {
		_, err := Load(missing, true)
		assert.Error(t, err)
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GOTAG_LOOKUP", "10.0.0.9:4160")
	t.Setenv("GOTAG_RESTRAINT", "250ms")
	t.Setenv("GOTAG_DEBUG", "true")

	cfg, err := Load(writeTOML(t, "[lookup]\naddr = \"ignored:1\"\n"), true)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9:4160", cfg.Lookup.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)

	timing, err := cfg.Timing()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, timing.Restraint)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "[lookup\naddr = 1"},
		{"bad duration", "[player]\nrestraint = \"soon\"\n"},
		{"negative max results", "[player]\nmax_results = -1\n"},
		{"empty lookup", "[lookup]\naddr = \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTOML(t, tt.content), true)
			assert.Error(t, err)
		})
	}
}
