package session

import (
	"math"
	"math/rand"
	"time"
)

// DefaultHelloRetryBudget is how many ClientHello attempts follow a join.
const DefaultHelloRetryBudget = 60

// BackoffConfig shapes the delay between ClientHello attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   1.5,
		MaxDelay:     2 * time.Second,
	}
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return max(cfg.InitialDelay, 0)
	}
	mult := max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 {
		delay = min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// HelloRetry tracks the ClientHello retry budget for one connection. The
// zero value is disarmed.
type HelloRetry struct {
	cfg       BackoffConfig
	budget    int
	remaining int
	attempts  int
	next      time.Time
	rng       *rand.Rand
}

func NewHelloRetry(budget int, cfg BackoffConfig, rng *rand.Rand) *HelloRetry {
	if budget < 0 {
		budget = 0
	}
	return &HelloRetry{cfg: cfg, budget: budget, rng: rng}
}

// Arm restores the full budget; the first attempt is due immediately.
func (r *HelloRetry) Arm(now time.Time) {
	r.remaining = r.budget
	r.attempts = 0
	r.next = now
}

func (r *HelloRetry) Disarm() {
	r.remaining = 0
	r.attempts = 0
	r.next = time.Time{}
}

// Due reports whether an attempt may be made at now.
func (r *HelloRetry) Due(now time.Time) bool {
	return r.remaining > 0 && !now.Before(r.next)
}

// Consume spends one attempt and schedules the next.
func (r *HelloRetry) Consume(now time.Time) {
	if r.remaining <= 0 {
		return
	}
	r.remaining--
	r.attempts++
	r.next = now.Add(NextBackoffDelay(r.cfg, r.attempts, r.rng))
}

func (r *HelloRetry) Remaining() int { return r.remaining }
func (r *HelloRetry) Attempts() int  { return r.attempts }
