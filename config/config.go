// Package config loads the catalog service configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file,
// and PCACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/krisalay/progressive-cache/eviction"
	"github.com/krisalay/progressive-cache/progressive"
	"github.com/krisalay/progressive-cache/query"
	"github.com/krisalay/progressive-cache/remote"
	"github.com/krisalay/progressive-cache/storage"
	"github.com/krisalay/progressive-cache/types"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PCACHE_"

type Config struct {
	Server      ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Cache       CacheConfig       `yaml:"cache" envPrefix:"CACHE_"`
	Storage     StorageConfig     `yaml:"storage" envPrefix:"STORAGE_"`
	Catalog     CatalogConfig     `yaml:"catalog" envPrefix:"CATALOG_"`
	Progressive ProgressiveConfig `yaml:"progressive" envPrefix:"PROGRESSIVE_"`
	Metrics     MetricsConfig     `yaml:"metrics" envPrefix:"METRICS_"`
	Logging     LoggingConfig     `yaml:"logging" envPrefix:"LOGGING_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// CacheConfig sizes the volatile tier.
type CacheConfig struct {
	Shards   int    `yaml:"shards" env:"SHARDS"`
	Capacity int    `yaml:"capacity" env:"CAPACITY"`
	Eviction string `yaml:"eviction" env:"EVICTION"`
}

// StorageConfig selects the persistent backend.
type StorageConfig struct {
	Kind          string        `yaml:"kind" env:"KIND"`
	Path          string        `yaml:"path" env:"PATH"`
	Quota         int64         `yaml:"quota" env:"QUOTA"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisTimeout  time.Duration `yaml:"redis_timeout" env:"REDIS_TIMEOUT"`
}

// CatalogConfig configures the upstream catalog API client.
type CatalogConfig struct {
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int           `yaml:"burst" env:"BURST"`
	MaxRetries        uint          `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryInterval     time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	BreakerFailures   uint32        `yaml:"breaker_failures" env:"BREAKER_FAILURES"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout" env:"BREAKER_TIMEOUT"`
}

// ProgressiveConfig controls metadata caching, prefetching and paging.
type ProgressiveConfig struct {
	MetadataTTL       time.Duration `yaml:"metadata_ttl" env:"METADATA_TTL"`
	MetadataStaleTime time.Duration `yaml:"metadata_stale_time" env:"METADATA_STALE_TIME"`
	MetadataStorage   string        `yaml:"metadata_storage" env:"METADATA_STORAGE"`
	RefetchOnFocus    bool          `yaml:"refetch_on_focus" env:"REFETCH_ON_FOCUS"`
	PrefetchDelay     time.Duration `yaml:"prefetch_delay" env:"PREFETCH_DELAY"`
	PrefetchBatchSize int           `yaml:"prefetch_batch_size" env:"PREFETCH_BATCH_SIZE"`
	MaxFilters        int           `yaml:"max_filters" env:"MAX_FILTERS"`
	PageSize          int           `yaml:"page_size" env:"PAGE_SIZE"`
	PageTTL           time.Duration `yaml:"page_ttl" env:"PAGE_TTL"`
	PageStaleTime     time.Duration `yaml:"page_stale_time" env:"PAGE_STALE_TIME"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Path      string `yaml:"path" env:"PATH"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	cat := remote.DefaultConfig()
	prog := progressive.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Shards:   8,
			Eviction: string(eviction.LRU),
		},
		Storage: StorageConfig{
			Kind:         string(storage.KindBolt),
			Path:         "cache.db",
			RedisTimeout: 2 * time.Second,
		},
		Catalog: CatalogConfig{
			BaseURL:           "http://localhost:3000",
			Timeout:           cat.Timeout,
			RequestsPerSecond: cat.RequestsPerSecond,
			Burst:             cat.Burst,
			MaxRetries:        cat.MaxRetries,
			RetryInterval:     cat.RetryInterval,
			BreakerFailures:   cat.BreakerFailures,
			BreakerTimeout:    cat.BreakerTimeout,
		},
		Progressive: ProgressiveConfig{
			MetadataTTL:       prog.Metadata.TTL,
			MetadataStaleTime: prog.Metadata.StaleTime,
			MetadataStorage:   string(prog.Metadata.Storage),
			RefetchOnFocus:    true,
			PrefetchDelay:     prog.PrefetchDelay,
			PrefetchBatchSize: prog.PrefetchBatchSize,
			MaxFilters:        prog.MaxFilters,
			PageSize:          25,
			PageTTL:           10 * time.Minute,
			PageStaleTime:     2 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "progressive_cache",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path (optional when empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Cache.Shards < 1 {
		errs = append(errs, errors.New("cache.shards must be at least 1"))
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache.capacity must not be negative"))
	}
	if _, err := eviction.ParsePolicyType(c.Cache.Eviction); err != nil {
		errs = append(errs, fmt.Errorf("cache.eviction: %w", err))
	}

	switch storage.Kind(c.Storage.Kind) {
	case storage.KindNone, storage.KindMemory:
	case storage.KindFile, storage.KindBolt:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for %s storage", c.Storage.Kind))
		}
	case storage.KindRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for redis storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.kind %q", c.Storage.Kind))
	}
	if c.Storage.Quota < 0 {
		errs = append(errs, errors.New("storage.quota must not be negative"))
	}

	if c.Catalog.BaseURL == "" {
		errs = append(errs, errors.New("catalog.base_url is required"))
	}

	p := c.Progressive
	if !types.StorageKind(p.MetadataStorage).Valid() {
		errs = append(errs, fmt.Errorf("unknown progressive.metadata_storage %q", p.MetadataStorage))
	}
	if p.MetadataStaleTime > p.MetadataTTL && p.MetadataTTL > 0 {
		errs = append(errs, errors.New("progressive.metadata_stale_time must not exceed metadata_ttl"))
	}
	if p.PrefetchBatchSize < 1 {
		errs = append(errs, errors.New("progressive.prefetch_batch_size must be at least 1"))
	}
	if p.MaxFilters < 1 {
		errs = append(errs, errors.New("progressive.max_filters must be at least 1"))
	}
	if p.PageSize < 1 {
		errs = append(errs, errors.New("progressive.page_size must be at least 1"))
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		errs = append(errs, errors.New("metrics.path is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

// StorageBackend converts the storage section for storage.Open.
func (c *Config) StorageBackend() storage.Config {
	return storage.Config{
		Kind:          storage.Kind(c.Storage.Kind),
		Path:          c.Storage.Path,
		Quota:         c.Storage.Quota,
		RedisAddr:     c.Storage.RedisAddr,
		RedisPassword: c.Storage.RedisPassword,
		RedisDB:       c.Storage.RedisDB,
		RedisTimeout:  c.Storage.RedisTimeout,
	}
}

func (c *Config) Remote() remote.Config {
	return remote.Config{
		BaseURL:           c.Catalog.BaseURL,
		Timeout:           c.Catalog.Timeout,
		RequestsPerSecond: c.Catalog.RequestsPerSecond,
		Burst:             c.Catalog.Burst,
		MaxRetries:        c.Catalog.MaxRetries,
		RetryInterval:     c.Catalog.RetryInterval,
		BreakerFailures:   c.Catalog.BreakerFailures,
		BreakerTimeout:    c.Catalog.BreakerTimeout,
	}
}

// ProgressiveManager builds the per-filter manager configuration.
func (c *Config) ProgressiveManager() progressive.Config {
	cfg := progressive.DefaultConfig()
	cfg.Metadata.TTL = c.Progressive.MetadataTTL
	cfg.Metadata.StaleTime = c.Progressive.MetadataStaleTime
	cfg.Metadata.Storage = types.StorageKind(c.Progressive.MetadataStorage)
	cfg.Metadata.RefetchOnWindowFocus = c.Progressive.RefetchOnFocus
	cfg.PrefetchDelay = c.Progressive.PrefetchDelay
	cfg.PrefetchBatchSize = c.Progressive.PrefetchBatchSize
	cfg.MaxFilters = c.Progressive.MaxFilters
	return cfg
}

// Pages builds the query configuration behind paginated listings.
func (c *Config) Pages() query.Config {
	cfg := query.DefaultConfig()
	cfg.TTL = c.Progressive.PageTTL
	cfg.StaleTime = c.Progressive.PageStaleTime
	cfg.Prefix = "catalog-pages"
	cfg.RefetchOnWindowFocus = c.Progressive.RefetchOnFocus
	return cfg
}
