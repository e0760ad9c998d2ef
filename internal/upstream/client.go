// Package upstream is the HTTP client for the trading service's positions
// endpoint: GET {base}/positions?exchange=<name> returning a JSON array.
//
// Calls are throttled, retried with capped exponential backoff on transport
// errors, 429 and 5xx, and guarded by a circuit breaker per exchange.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quantdash/overview-engine/internal/metrics"
	"github.com/quantdash/overview-engine/internal/model"
)

var (
	// ErrBreakerOpen is returned without a network call while an exchange's
	// breaker is open.
	ErrBreakerOpen = errors.New("upstream: circuit breaker open")

	// ErrDecode is returned when the response body is not a position array.
	ErrDecode = errors.New("upstream: malformed positions response")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Exchange string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: positions for %s: HTTP %d: %s", e.Exchange, e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

const maxBodyBytes = 32 << 20

// Config configures a Client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration // per attempt
	RateLimit    float64       // requests per second across all exchanges; <= 0 disables
	Burst        int
	MaxRetries   int
	RetryBackoff time.Duration // first retry delay, doubled per attempt
	MaxBackoff   time.Duration
	Breaker      BreakerConfig
}

// Client fetches position records from the trading service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	breakerCfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = cfg.RetryBackoff
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBackoff,
		retryMax:   cfg.MaxBackoff,
		breakerCfg: cfg.Breaker,
		breakers:   make(map[string]*Breaker),
	}, nil
}

// Breaker returns the circuit breaker for an exchange, creating it on first use.
func (c *Client) Breaker(exchange string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[exchange]
	if !ok {
		b = NewBreaker(exchange, c.breakerCfg)
		c.breakers[exchange] = b
	}
	return b
}

// ListPositions fetches every position of one exchange. Records without an
// exchange field are stamped with the requested name.
func (c *Client) ListPositions(ctx context.Context, exchange string) ([]model.PositionRecord, error) {
	br := c.Breaker(exchange)
	if !br.Allow() {
		metrics.UpstreamRequests.WithLabelValues(exchange, "breaker_open").Inc()
		return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, exchange)
	}

	start := time.Now()
	positions, err := c.fetchWithRetry(ctx, exchange)
	metrics.UpstreamLatency.WithLabelValues(exchange).Observe(time.Since(start).Seconds())

	if err != nil {
		// A caller giving up says nothing about the exchange's health.
		if ctx.Err() == nil {
			br.RecordFailure()
		} else {
			br.Release()
		}
		metrics.UpstreamRequests.WithLabelValues(exchange, "error").Inc()
		return nil, err
	}
	br.RecordSuccess()
	metrics.UpstreamRequests.WithLabelValues(exchange, "ok").Inc()

	for i := range positions {
		if positions[i].Exchange == "" {
			positions[i].Exchange = exchange
		}
	}
	return positions, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, exchange string) ([]model.PositionRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(c.retryBase, c.retryMax, attempt-1)); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		positions, err := c.fetch(ctx, exchange)
		if err == nil {
			return positions, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) fetch(ctx context.Context, exchange string) ([]model.PositionRecord, error) {
	u := *c.baseURL
	u.Path = u.Path + "/positions"
	u.RawQuery = url.Values{"exchange": {exchange}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: positions for %s: %w", exchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("upstream: read positions for %s: %w", exchange, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Exchange: exchange, Code: resp.StatusCode, Body: snippet}
	}

	var positions []model.PositionRecord
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, exchange, err)
	}
	if positions == nil {
		positions = []model.PositionRecord{}
	}
	return positions, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, ErrDecode) {
		return false
	}
	// Transport errors (refused, reset, per-attempt timeout).
	return true
}
