package config

import (
	"fmt"
	"strings"

	"github.com/quantdash/overview-engine/internal/exchange"
)

// Validate checks runtime configuration constraints and normalises the
// exchange list in place.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	exchanges, err := exchange.Dedupe(c.Exchanges)
	if err != nil {
		return fmt.Errorf("exchanges: %w", err)
	}
	c.Exchanges = exchanges

	if strings.TrimSpace(c.Server.Port) == "" {
		return fmt.Errorf("server.port must be set")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0, got %s", c.Server.RequestTimeout)
	}

	switch c.Source.Mode {
	case SourceStore:
	case SourceRemote:
		if c.Upstream.BaseURL == "" {
			return fmt.Errorf("upstream.base_url is required when source.mode is %q", SourceRemote)
		}
	default:
		return fmt.Errorf("source.mode must be %q or %q, got %q", SourceStore, SourceRemote, c.Source.Mode)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory, postgres or sqlite, got %q", c.Storage.Driver)
	}
	if c.Storage.RedisURL != "" && c.Storage.CacheTTL <= 0 {
		return fmt.Errorf("storage.cache_ttl must be > 0 when redis is enabled, got %s", c.Storage.CacheTTL)
	}

	if c.Upstream.RateLimit < 0 {
		return fmt.Errorf("upstream.rate_limit must be >= 0, got %f", c.Upstream.RateLimit)
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must be >= 0, got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("upstream.breaker.failure_threshold must be >= 1, got %d", c.Upstream.Breaker.FailureThreshold)
	}
	if c.Collector.Concurrency < 0 {
		return fmt.Errorf("collector.concurrency must be >= 0, got %d", c.Collector.Concurrency)
	}

	return nil
}
