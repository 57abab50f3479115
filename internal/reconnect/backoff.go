package reconnect

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Default policy values.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMultiplier   = 2.0
)

// Policy describes how reconnect attempts are spaced.
type Policy struct {
	// Enabled turns automatic reconnection on.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// InitialDelay is the delay before the first attempt after a loss.
	InitialDelay time.Duration `yaml:"initial_delay" toml:"initial_delay"`

	// MaxDelay caps every delay.
	MaxDelay time.Duration `yaml:"max_delay" toml:"max_delay"`

	// Multiplier scales the delay after each failed attempt. Values below 1
	// are treated as 1.
	Multiplier float64 `yaml:"multiplier" toml:"multiplier"`

	// Jitter is the largest fraction (0-1) by which a delay may be shortened.
	Jitter float64 `yaml:"jitter" toml:"jitter"`

	// MaxAttempts limits consecutive attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`
}

// DefaultPolicy returns 1s doubling to a 60s cap, no jitter, unlimited attempts.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:      true,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

// Validate checks the policy for values that cannot produce a sane schedule.
func (p Policy) Validate() error {
	if p.InitialDelay < 0 {
		return fmt.Errorf("%w: initial_delay must not be negative", ErrInvalidPolicy)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("%w: max_delay %v below initial_delay %v", ErrInvalidPolicy, p.MaxDelay, p.InitialDelay)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("%w: jitter must be in [0, 1)", ErrInvalidPolicy)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// Delay returns the un-jittered delay for a 1-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return p.InitialDelay
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Backoff tracks consecutive attempts under a Policy.
type Backoff struct {
	policy   Policy
	attempts int
	last     time.Duration
	rng      *rand.Rand
}

// NewBackoff creates a Backoff. rng supplies jitter and may be nil when the
// policy has no jitter.
func NewBackoff(p Policy, rng *rand.Rand) *Backoff {
	if rng == nil && p.Jitter > 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter only
	}
	return &Backoff{policy: p, rng: rng}
}

// Next consumes one attempt and returns its delay.
//
// Returns:
//   - time.Duration: the delay to wait before the attempt
//   - bool: false once Policy.MaxAttempts attempts have been handed out
func (b *Backoff) Next() (time.Duration, bool) {
	if b.policy.MaxAttempts > 0 && b.attempts >= b.policy.MaxAttempts {
		return 0, false
	}
	b.attempts++
	delay := b.policy.Delay(b.attempts)
	if b.policy.Jitter > 0 && b.rng != nil {
		delay -= time.Duration(float64(delay) * b.policy.Jitter * b.rng.Float64())
		// Jitter never makes a delay shorter than the one before it.
		if delay < b.last {
			delay = b.last
		}
	}
	b.last = delay
	return delay, true
}

// Reset returns the backoff to the first attempt.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.last = 0
}

// Attempts returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
