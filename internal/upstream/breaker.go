package upstream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantdash/overview-engine/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds configuration for a per-exchange circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes in half-open before closing
	Cooldown         time.Duration // time open before a half-open trial
}

// DefaultBreakerConfig returns the thresholds used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// Breaker isolates an exchange whose position endpoint keeps failing, so a
// dead venue costs one fast rejection instead of a full retry cycle per
// request. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
	trialing     bool // a half-open trial request is in flight
}

// NewBreaker creates a closed breaker for the named exchange.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.publish()
	return b
}

// Allow reports whether a request may proceed. An open breaker moves to
// half-open once the cooldown has elapsed; while half-open only one trial
// is admitted at a time. Every admitted half-open request must be settled
// with RecordSuccess, RecordFailure or Release.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.trialing {
			return false
		}
		b.trialing = true
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = StateHalfOpen
			b.successCount = 0
			b.trialing = true
			b.publish()
			slog.Info("upstream breaker half-open", "exchange", b.name)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful fetch.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.trialing = false
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			b.publish()
			slog.Info("upstream breaker closed", "exchange", b.name)
		}
	}
}

// RecordFailure records a failed fetch.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.trip()
			slog.Warn("upstream breaker open", "exchange", b.name, "failures", b.failureCount)
		}
	case StateHalfOpen:
		b.trip()
		slog.Warn("upstream breaker open (half-open trial failed)", "exchange", b.name)
	}
}

// Release settles an admitted request that ended without a verdict on the
// exchange, such as one cancelled by its caller.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialing = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// trip opens the breaker. Caller holds mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.successCount = 0
	b.trialing = false
	b.openedAt = b.now()
	b.publish()
}

func (b *Breaker) publish() {
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(b.state))
}
