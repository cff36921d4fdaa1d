package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Reconnect defaults.
const (
	// InitialBackoff is the initial reconnection delay.
	InitialBackoff = 1 * time.Second

	// MaxBackoff is the maximum reconnection delay.
	MaxBackoff = 30 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// DefaultMaxAttempts is the number of consecutive failures tolerated
	// before the transport is disabled.
	DefaultMaxAttempts = 5
)

// PolicyConfig allows customizing reconnect parameters. Zero values select
// the defaults.
type PolicyConfig struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int

	// Jitter is the maximum jitter as a fraction of the base delay.
	Jitter float64
}

// ReconnectPolicy tracks consecutive connect failures and computes the delay
// before the next attempt.
type ReconnectPolicy struct {
	mu sync.Mutex

	// Current backoff delay (before jitter)
	current time.Duration

	initial     time.Duration
	max         time.Duration
	multiplier  float64
	jitter      float64
	maxAttempts int

	// Consecutive failures since the last successful connect
	attempts int

	rng *rand.Rand
}

// NewReconnectPolicy creates a policy with default settings.
func NewReconnectPolicy() *ReconnectPolicy {
	return NewReconnectPolicyWithConfig(PolicyConfig{})
}

// NewReconnectPolicyWithConfig creates a policy with custom settings.
func NewReconnectPolicyWithConfig(cfg PolicyConfig) *ReconnectPolicy {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &ReconnectPolicy{
		current:     cfg.Initial,
		initial:     cfg.Initial,
		max:         cfg.Max,
		multiplier:  cfg.Multiplier,
		jitter:      cfg.Jitter,
		maxAttempts: cfg.MaxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fail records a failed attempt. It returns the delay to wait before the
// next attempt and advances the backoff, or ok=false once the number of
// consecutive failures exceeds MaxAttempts. After that Fail keeps returning
// false without counting further.
func (p *ReconnectPolicy) Fail() (delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attempts > p.maxAttempts {
		return 0, false
	}
	p.attempts++
	if p.attempts > p.maxAttempts {
		return 0, false
	}

	delay = p.addJitter(p.current)

	next := time.Duration(float64(p.current) * p.multiplier)
	if next > p.max {
		next = p.max
	}
	p.current = next

	return delay, true
}

// Reset restores the initial delay and clears the attempt counter.
// Call this after a successful connection.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = p.initial
	p.attempts = 0
}

// Attempts returns the number of consecutive failures since the last reset.
func (p *ReconnectPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Current returns the delay the next failure will schedule (without jitter).
func (p *ReconnectPolicy) Current() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// MaxAttempts returns the configured failure budget.
func (p *ReconnectPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Exhausted returns true once the failure budget has been exceeded.
func (p *ReconnectPolicy) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts > p.maxAttempts
}

func (p *ReconnectPolicy) addJitter(d time.Duration) time.Duration {
	if p.jitter <= 0 {
		return d
	}
	jitterAmount := time.Duration(float64(d) * p.jitter * p.rng.Float64())
	return d + jitterAmount
}

// BackoffSequence returns the default sequence of delays scheduled by
// consecutive failures up to the maximum.
func BackoffSequence() []time.Duration {
	return []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // max
	}
}
