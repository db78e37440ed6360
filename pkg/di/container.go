package di

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/vextjs/monsqlize/cache"
	"github.com/vextjs/monsqlize/internal/cacheinfra"
	"github.com/vextjs/monsqlize/querycache"
	"go.uber.org/zap"
)

// SharedRemoteConfig configures the in-process shared remote tier.
type SharedRemoteConfig = cacheinfra.SharedConfig

// RedisRemoteConfig configures the Redis remote tier.
type RedisRemoteConfig = cacheinfra.RedisConfig

// DefaultSharedRemoteConfig returns the default shared tier configuration.
func DefaultSharedRemoteConfig() SharedRemoteConfig {
	return cacheinfra.DefaultSharedConfig()
}

// NewSharedRemote creates an in-process remote tier. Coordinators given the
// same adapter see each other's entries.
func NewSharedRemote(cfg SharedRemoteConfig) (cache.RemoteAdapter, error) {
	return cacheinfra.NewSharedAdapter(cfg)
}

// NewRedisRemote creates a Redis remote tier on an existing client. Values
// are msgpack encoded unless cfg names another codec.
func NewRedisRemote(client redis.UniversalClient, cfg RedisRemoteConfig) (cache.RemoteAdapter, error) {
	return cacheinfra.NewRedisAdapter(client, cfg)
}

// Option customizes a Container.
type Option func(*Container)

// WithLogger sets the logger handed to the coordinator.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeyBuilder replaces the default fingerprinter.
func WithKeyBuilder(kb cache.KeyBuilder) Option {
	return func(c *Container) {
		c.keys = kb
	}
}

// Container provides dependency injection for the cache components of one
// monsqlize instance. It owns the coordinator and provides factory methods
// for cached collections.
type Container struct {
	coordinator *querycache.Coordinator
	config      cache.Config
	logger      *zap.Logger
	keys        cache.KeyBuilder
}

// NewContainer creates a new DI container with the provided cache configuration.
// Configuration errors are returned as *cache.ConfigError.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	c := &Container{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}

	coordinator, err := querycache.New(config,
		querycache.WithLogger(c.logger),
		querycache.WithKeyBuilder(c.keys),
	)
	if err != nil {
		return nil, err
	}

	c.coordinator = coordinator
	c.config = coordinator.Config()
	return c, nil
}

// NewContainerWithDefaults creates a new DI container using default configuration.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// LoadConfig builds a configuration from the defaults, the YAML file at path
// when path is not empty, and MONSQLIZE_* environment variables, in that
// order. The remote adapter is not part of the file and must be set in code.
func LoadConfig(path string) (cache.Config, error) {
	cfg := cache.DefaultConfig()

	if path != "" {
		settings, err := cache.LoadSettings(path)
		if err != nil {
			return cache.Config{}, err
		}
		cfg = settings.Apply(cfg)
	}

	settings, err := cache.SettingsFromEnv()
	if err != nil {
		return cache.Config{}, err
	}
	return settings.Apply(cfg), nil
}

// Coordinator returns the singleton coordinator.
func (c *Container) Coordinator() *querycache.Coordinator {
	return c.coordinator
}

// Config returns the effective configuration, defaults applied.
func (c *Container) Config() cache.Config {
	return c.config
}

// Logger returns the container logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// NewCachedCollection wraps base with the container's cache. Reads are
// cached per query shape and writes invalidate affected entries.
func (c *Container) NewCachedCollection(base querycache.Collection) *querycache.CachedCollection {
	return querycache.NewCachedCollection(base, c.coordinator)
}

// RegisterMetrics registers the cache collector on reg under namespace.
func (c *Container) RegisterMetrics(reg prometheus.Registerer, namespace string) error {
	return reg.Register(querycache.NewCollector(c.coordinator, namespace))
}

// Close drains background remote writes and stops the local sweeper.
func (c *Container) Close() error {
	return c.coordinator.Close()
}
