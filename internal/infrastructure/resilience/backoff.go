package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Settings configures the backoff behavior
type Settings struct {
	// Min is the delay before the first retry
	Min time.Duration
	// Max caps every delay, jitter included
	Max time.Duration
	// Multiplier grows the delay per attempt (typically 2.0)
	Multiplier float64
	// Jitter is the fraction (0..1) of each delay that is randomized downwards
	Jitter float64
	// MaxRetries bounds the number of retries; 0 means unlimited
	MaxRetries int
}

// DefaultSettings returns the reconnect policy used when none is configured.
func DefaultSettings() Settings {
	return Settings{
		Min:        500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.5,
	}
}

// Backoff computes exponential delays with jitter. It is not safe for
// concurrent use; the owner serializes access.
type Backoff struct {
	settings Settings
	attempt  int
	random   func() float64
}

// NewBackoff creates a backoff with defaults filled in for zero fields.
func NewBackoff(settings Settings) *Backoff {
	def := DefaultSettings()
	if settings.Min <= 0 {
		settings.Min = def.Min
	}
	if settings.Max < settings.Min {
		settings.Max = max(def.Max, settings.Min)
	}
	if settings.Multiplier < 1 {
		settings.Multiplier = def.Multiplier
	}
	if settings.Multiplier > 1000 {
		settings.Multiplier = 1000
	}
	if settings.Jitter < 0 {
		settings.Jitter = 0
	}
	if settings.Jitter > 1 {
		settings.Jitter = 1
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}

	return &Backoff{
		settings: settings,
		random:   rand.Float64,
	}
}

// WithRandom replaces the jitter source. Useful for deterministic tests.
func (b *Backoff) WithRandom(random func() float64) *Backoff {
	b.random = random
	return b
}

// Settings returns the effective settings.
func (b *Backoff) Settings() Settings {
	return b.settings
}

// Attempt returns the number of retries handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Exhausted reports whether the retry budget is spent.
func (b *Backoff) Exhausted() bool {
	return b.settings.MaxRetries > 0 && b.attempt >= b.settings.MaxRetries
}

// Next returns the delay before the next retry and advances the attempt
// counter. ok is false once the retry budget is spent.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.Exhausted() {
		return 0, false
	}
	delay = b.delayFor(b.attempt)
	b.attempt++
	return delay, true
}

// Reset returns the backoff to its minimum.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// delayFor returns the jittered delay for a zero-based attempt.
func (b *Backoff) delayFor(attempt int) time.Duration {
	s := b.settings
	base := float64(s.Min) * math.Pow(s.Multiplier, float64(attempt))
	if base > float64(s.Max) || math.IsInf(base, 0) || math.IsNaN(base) {
		base = float64(s.Max)
	}
	if s.Jitter > 0 {
		base -= b.random() * s.Jitter * base
	}
	return time.Duration(base)
}
