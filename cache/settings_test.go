package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsYAML = `
maxSize: 500
defaultTTL: 30s
enableStats: false
autoInvalidate: true
keyPrefix: "app:"
local:
  maxSize: 200
  cleanupInterval: 1m
policy:
  writePolicy: write-through
invalidation:
  complexityThreshold: 6
  complexPolicy: invalidate
`

func TestDecodeSettings(t *testing.T) {
	s, err := DecodeSettings(strings.NewReader(settingsYAML))
	require.NoError(t, err)

	assert.Equal(t, 500, s.MaxSize)
	assert.Equal(t, 30*time.Second, s.DefaultTTL)
	require.NotNil(t, s.EnableStats)
	assert.False(t, *s.EnableStats)
	assert.True(t, s.AutoInvalidate)
	assert.Equal(t, "app:", s.KeyPrefix)
	assert.Equal(t, 200, s.Local.MaxSize)
	assert.Equal(t, time.Minute, s.Local.CleanupInterval)
	assert.Equal(t, "write-through", s.Policy.WritePolicy)
	assert.Equal(t, 6, s.Invalidation.ComplexityThreshold)
	assert.Equal(t, "invalidate", s.Invalidation.ComplexPolicy)
}

func TestDecodeSettings_Empty(t *testing.T) {
	s, err := DecodeSettings(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Settings{}, s)
}

func TestDecodeSettings_UnknownField(t *testing.T) {
	_, err := DecodeSettings(strings.NewReader("maxSize: 10\nmaxEntries: 20\n"))
	require.Error(t, err)

	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Message, "maxEntries")
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monsqlize.yaml")
	require.NoError(t, os.WriteFile(path, []byte(settingsYAML), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 500, s.MaxSize)

	_, err = LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("MONSQLIZE_MAX_SIZE", "42")
	t.Setenv("MONSQLIZE_DEFAULT_TTL", "2m")
	t.Setenv("MONSQLIZE_ENABLE_STATS", "true")
	t.Setenv("MONSQLIZE_LOCAL_CLEANUP_INTERVAL", "15s")
	t.Setenv("MONSQLIZE_POLICY_WRITE_POLICY", "write-through")
	t.Setenv("MONSQLIZE_INVALIDATION_COMPLEX_POLICY", "invalidate")

	s, err := SettingsFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 42, s.MaxSize)
	assert.Equal(t, 2*time.Minute, s.DefaultTTL)
	require.NotNil(t, s.EnableStats)
	assert.True(t, *s.EnableStats)
	assert.Equal(t, 15*time.Second, s.Local.CleanupInterval)
	assert.Equal(t, "write-through", s.Policy.WritePolicy)
	assert.Equal(t, "invalidate", s.Invalidation.ComplexPolicy)
}

func TestSettingsFromEnv_Invalid(t *testing.T) {
	t.Setenv("MONSQLIZE_MAX_SIZE", "lots")

	_, err := SettingsFromEnv()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeConfig))
}

func TestSettings_Apply(t *testing.T) {
	s, err := DecodeSettings(strings.NewReader(settingsYAML))
	require.NoError(t, err)

	cfg := s.Apply(DefaultConfig())

	assert.Equal(t, 500, cfg.MaxSize)
	assert.Equal(t, 200, cfg.LocalMaxSize())
	assert.False(t, cfg.EnableStats)
	assert.True(t, cfg.AutoInvalidate)
	assert.Equal(t, WriteThrough, cfg.Policy.WritePolicy)
	assert.Equal(t, ComplexInvalidate, cfg.Invalidation.ComplexPolicy)
	assert.Equal(t, DefaultRemoteTimeout, cfg.RemoteTimeout, "unset values keep the base config")
	require.NoError(t, cfg.Validate())
}
