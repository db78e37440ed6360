package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by SettingsFromEnv.
const EnvPrefix = "MONSQLIZE_"

// Settings is the serializable part of Config, loadable from YAML or the
// environment. Unknown YAML fields are rejected. The remote adapter and
// logger cannot be expressed here and are wired in code.
type Settings struct {
	MaxSize        int                  `yaml:"maxSize" env:"MAX_SIZE"`
	DefaultTTL     time.Duration        `yaml:"defaultTTL" env:"DEFAULT_TTL"`
	EnableStats    *bool                `yaml:"enableStats" env:"ENABLE_STATS"`
	MultiLevel     bool                 `yaml:"multiLevel" env:"MULTI_LEVEL"`
	RemoteTimeout  time.Duration        `yaml:"remoteTimeout" env:"REMOTE_TIMEOUT"`
	BackfillTTL    time.Duration        `yaml:"backfillTTL" env:"BACKFILL_TTL"`
	AutoInvalidate bool                 `yaml:"autoInvalidate" env:"AUTO_INVALIDATE"`
	KeyPrefix      string               `yaml:"keyPrefix" env:"KEY_PREFIX"`
	InstanceID     string               `yaml:"instanceId" env:"INSTANCE_ID"`
	Local          LocalSettings        `yaml:"local" envPrefix:"LOCAL_"`
	Policy         PolicySettings       `yaml:"policy" envPrefix:"POLICY_"`
	Invalidation   InvalidationSettings `yaml:"invalidation" envPrefix:"INVALIDATION_"`
}

type LocalSettings struct {
	MaxSize         int           `yaml:"maxSize" env:"MAX_SIZE"`
	EnableStats     bool          `yaml:"enableStats" env:"ENABLE_STATS"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" env:"CLEANUP_INTERVAL"`
}

type PolicySettings struct {
	WritePolicy string `yaml:"writePolicy" env:"WRITE_POLICY"`
}

type InvalidationSettings struct {
	ComplexityThreshold int    `yaml:"complexityThreshold" env:"COMPLEXITY_THRESHOLD"`
	ComplexPolicy       string `yaml:"complexPolicy" env:"COMPLEX_POLICY"`
}

// DecodeSettings reads YAML settings, rejecting unknown fields.
func DecodeSettings(r io.Reader) (Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		return Settings{}, &ConfigError{Field: "settings", Message: err.Error()}
	}
	return s, nil
}

// LoadSettings reads YAML settings from path.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	return DecodeSettings(bytes.NewReader(data))
}

// SettingsFromEnv reads MONSQLIZE_* variables.
func SettingsFromEnv() (Settings, error) {
	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return Settings{}, &ConfigError{Field: "env", Message: err.Error()}
	}
	return s, nil
}

// Apply overlays the non-zero settings onto cfg.
func (s Settings) Apply(cfg Config) Config {
	if s.MaxSize != 0 {
		cfg.MaxSize = s.MaxSize
	}
	if s.DefaultTTL != 0 {
		cfg.DefaultTTL = s.DefaultTTL
	}
	if s.EnableStats != nil {
		cfg.EnableStats = *s.EnableStats
	}
	if s.MultiLevel {
		cfg.MultiLevel = true
	}
	if s.RemoteTimeout != 0 {
		cfg.RemoteTimeout = s.RemoteTimeout
	}
	if s.BackfillTTL != 0 {
		cfg.BackfillTTL = s.BackfillTTL
	}
	if s.AutoInvalidate {
		cfg.AutoInvalidate = true
	}
	if s.KeyPrefix != "" {
		cfg.KeyPrefix = s.KeyPrefix
	}
	if s.InstanceID != "" {
		cfg.InstanceID = s.InstanceID
	}
	if s.Local.MaxSize != 0 {
		cfg.Local.MaxSize = s.Local.MaxSize
	}
	if s.Local.EnableStats {
		cfg.Local.EnableStats = true
	}
	if s.Local.CleanupInterval != 0 {
		cfg.Local.CleanupInterval = s.Local.CleanupInterval
	}
	if s.Policy.WritePolicy != "" {
		cfg.Policy.WritePolicy = WritePolicy(s.Policy.WritePolicy)
	}
	if s.Invalidation.ComplexityThreshold != 0 {
		cfg.Invalidation.ComplexityThreshold = s.Invalidation.ComplexityThreshold
	}
	if s.Invalidation.ComplexPolicy != "" {
		cfg.Invalidation.ComplexPolicy = ComplexPolicy(s.Invalidation.ComplexPolicy)
	}
	return cfg
}
