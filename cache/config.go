package cache

import (
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// WritePolicy controls how set and delete propagate across the two tiers.
type WritePolicy string

const (
	// WriteThrough writes both tiers before returning. A failed remote write
	// is logged; the local write stays authoritative.
	WriteThrough WritePolicy = "write-through"
	// LocalFirstAsyncRemote writes the local tier and returns; the remote
	// write runs in the background and its result is only logged.
	LocalFirstAsyncRemote WritePolicy = "local-first-async-remote"
	// RemoteOnly writes the remote tier only and never backfills locally.
	RemoteOnly WritePolicy = "remote-only"
)

// ComplexPolicy decides what the matcher does with filters it cannot analyse.
type ComplexPolicy string

const (
	// ComplexSkip leaves the entry alone and lets its TTL expire it.
	ComplexSkip ComplexPolicy = "skip"
	// ComplexInvalidate drops the entry.
	ComplexInvalidate ComplexPolicy = "invalidate"
)

const (
	DefaultMaxSize             = 100000
	DefaultTTL                 = time.Minute
	DefaultRemoteTimeout       = 200 * time.Millisecond
	DefaultComplexityThreshold = 10
)

// LocalConfig configures the in-memory tier.
type LocalConfig struct {
	// MaxSize overrides Config.MaxSize when positive.
	MaxSize int
	// EnableStats enables counters even when Config.EnableStats is false.
	EnableStats bool
	// CleanupInterval runs an active expiry sweep when positive. Expired
	// entries are always removed lazily on access.
	CleanupInterval time.Duration
}

// PolicyConfig groups the tier propagation policies.
type PolicyConfig struct {
	WritePolicy WritePolicy
}

// Validate implements validation.Validatable.
func (p PolicyConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.WritePolicy, validation.In(WriteThrough, LocalFirstAsyncRemote, RemoteOnly).
			Error("must be one of write-through, local-first-async-remote, remote-only")),
	)
}

// InvalidationConfig tunes the precision invalidation matcher.
type InvalidationConfig struct {
	// ComplexityThreshold is the highest filter score still analysed. Zero
	// means unset and selects DefaultComplexityThreshold, so the smallest
	// explicit threshold is 1.
	ComplexityThreshold int
	// ComplexPolicy applies to filters above the threshold or using
	// unsupported operators. Defaults to ComplexSkip.
	ComplexPolicy ComplexPolicy
}

// Validate implements validation.Validatable.
func (i InvalidationConfig) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.ComplexityThreshold, validation.Min(0)),
		validation.Field(&i.ComplexPolicy, validation.In(ComplexSkip, ComplexInvalidate).
			Error("must be one of skip, invalidate")),
	)
}

// BreakerConfig configures the circuit breaker guarding the remote tier.
type BreakerConfig struct {
	Disabled bool
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset.
	Interval time.Duration
	// Timeout an open breaker waits before going half-open.
	Timeout time.Duration
	// FailureRatio at or above which the breaker trips.
	FailureRatio float64
	// MinRequests before the ratio is considered.
	MinRequests uint32
}

// Validate implements validation.Validatable.
func (b BreakerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Interval, validation.Min(time.Duration(0))),
		validation.Field(&b.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&b.FailureRatio, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	// MaxSize bounds the number of local entries.
	MaxSize int
	// DefaultTTL applies when a set passes ttl <= 0.
	DefaultTTL  time.Duration
	EnableStats bool
	// MultiLevel enables the remote tier. When false the coordinator is a
	// thin pass-through to the local store and Remote is ignored.
	MultiLevel bool
	Local      LocalConfig
	Remote     RemoteAdapter
	// RemoteTimeout bounds every remote call. A read that times out is a miss.
	RemoteTimeout time.Duration
	// BackfillTTL is used when copying a remote hit locally and the remote
	// store does not report a remaining TTL. Defaults to DefaultTTL.
	BackfillTTL time.Duration
	Policy      PolicyConfig
	// AutoInvalidate enables precision invalidation for writes that do not
	// decide for themselves. Off by default: entries rely on TTL expiry.
	AutoInvalidate bool
	Invalidation   InvalidationConfig
	KeyPrefix      string
	// InstanceID scopes namespaces; a random id is assigned when empty.
	InstanceID string
	Breaker    BreakerConfig
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:       DefaultMaxSize,
		DefaultTTL:    DefaultTTL,
		EnableStats:   true,
		RemoteTimeout: DefaultRemoteTimeout,
		Policy:        PolicyConfig{WritePolicy: LocalFirstAsyncRemote},
		Invalidation: InvalidationConfig{
			ComplexityThreshold: DefaultComplexityThreshold,
			ComplexPolicy:       ComplexSkip,
		},
		KeyPrefix: DefaultKeyPrefix,
		Breaker: BreakerConfig{
			MaxRequests:  1,
			Interval:     30 * time.Second,
			Timeout:      10 * time.Second,
			FailureRatio: 0.6,
			MinRequests:  5,
		},
	}
}

// WithDefaults fills zero values with defaults. Negative values are kept so
// Validate can reject them.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxSize == 0 {
		c.MaxSize = d.MaxSize
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = d.RemoteTimeout
	}
	if c.BackfillTTL == 0 {
		c.BackfillTTL = c.DefaultTTL
	}
	if c.Policy.WritePolicy == "" {
		c.Policy.WritePolicy = d.Policy.WritePolicy
	}
	if c.Invalidation.ComplexityThreshold == 0 {
		c.Invalidation.ComplexityThreshold = d.Invalidation.ComplexityThreshold
	}
	if c.Invalidation.ComplexPolicy == "" {
		c.Invalidation.ComplexPolicy = d.Invalidation.ComplexPolicy
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = d.Breaker.MaxRequests
	}
	if c.Breaker.Interval == 0 {
		c.Breaker.Interval = d.Breaker.Interval
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = d.Breaker.Timeout
	}
	if c.Breaker.FailureRatio == 0 {
		c.Breaker.FailureRatio = d.Breaker.FailureRatio
	}
	if c.Breaker.MinRequests == 0 {
		c.Breaker.MinRequests = d.Breaker.MinRequests
	}
	return c
}

// LocalMaxSize is the effective local capacity.
func (c Config) LocalMaxSize() int {
	if c.Local.MaxSize > 0 {
		return c.Local.MaxSize
	}
	return c.MaxSize
}

// StatsEnabled reports whether counters are collected.
func (c Config) StatsEnabled() bool {
	return c.EnableStats || c.Local.EnableStats
}

// UsesRemote reports whether the remote tier takes part in reads and writes.
func (c Config) UsesRemote() bool {
	return c.MultiLevel && c.Remote != nil
}

// Validate checks whether the configuration values are valid. It returns a
// *ConfigError naming the first offending field.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxSize, validation.Min(0).Error("must be non-negative")),
		validation.Field(&c.DefaultTTL, validation.Min(time.Duration(0)).Error("must be non-negative")),
		validation.Field(&c.RemoteTimeout, validation.Min(time.Duration(0)).Error("must be non-negative")),
		validation.Field(&c.BackfillTTL, validation.Min(time.Duration(0)).Error("must be non-negative")),
		validation.Field(&c.Policy),
		validation.Field(&c.Invalidation),
		validation.Field(&c.Breaker),
	)
	if err != nil {
		return toConfigError(err)
	}

	if c.Local.MaxSize < 0 {
		return &ConfigError{Field: "Local.MaxSize", Message: "must be non-negative"}
	}
	if c.Local.CleanupInterval < 0 {
		return &ConfigError{Field: "Local.CleanupInterval", Message: "must be non-negative"}
	}
	if c.MultiLevel && c.Remote == nil {
		return &ConfigError{Field: "Remote", Message: "required when MultiLevel is enabled"}
	}
	if c.Policy.WritePolicy == RemoteOnly && !c.UsesRemote() {
		return &ConfigError{Field: "Policy.WritePolicy", Message: "remote-only requires MultiLevel and a Remote adapter"}
	}
	return nil
}

// toConfigError flattens ozzo validation errors into the first failing
// field, ordered by name so the result is deterministic.
func toConfigError(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return &ConfigError{Field: "Config", Message: err.Error()}
	}
	field, msg := firstValidationError("", errs)
	return &ConfigError{Field: field, Message: msg}
}

func firstValidationError(prefix string, errs validation.Errors) (string, string) {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		var nested validation.Errors
		if errors.As(errs[name], &nested) {
			return firstValidationError(full, nested)
		}
		return full, errs[name].Error()
	}
	return prefix, "invalid"
}
