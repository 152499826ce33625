package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Strategy selects how the base interval grows between attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFibonacci   Strategy = "fibonacci"
)

// maxFibIndex bounds the memoized fibonacci table; beyond it the base is
// clamped by MaxInterval anyway.
const maxFibIndex = 30

// Bounds for AdaptiveReset adjustments of the initial interval.
const (
	adaptiveFloor   = 1 * time.Second
	adaptiveCeiling = 5 * time.Second
)

// Config holds backoff configuration.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64 // growth factor for the exponential strategy
	JitterFactor    float64 // uniform jitter fraction in [0, 1)
	Strategy        Strategy
}

// DefaultConfig returns a default backoff configuration.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.25,
		Strategy:        StrategyExponential,
	}
}

// Metrics is a snapshot of backoff activity since the last Reset.
type Metrics struct {
	TotalAttempts   int
	TotalWaitTime   time.Duration
	LastAttempt     time.Time
	CurrentStreak   int
	AverageInterval time.Duration
}

// Backoff computes retry delays for repeated connection attempts. It is
// owned by a single orchestrator instance but safe for concurrent use.
type Backoff struct {
	mu sync.Mutex

	cfg     Config
	initial time.Duration // adjusted only by AdaptiveReset
	current time.Duration
	streak  int

	totalAttempts int
	totalWait     time.Duration
	lastAttempt   time.Time

	fib []time.Duration
	rng *rand.Rand
}

// New creates a backoff policy from cfg. Zero or negative intervals fall
// back to defaults.
func New(cfg Config) *Backoff {
	def := DefaultConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor >= 1.0 {
		cfg.JitterFactor = def.JitterFactor
	}
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}

	return &Backoff{
		cfg:     cfg,
		initial: cfg.InitialInterval,
		current: cfg.InitialInterval,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextInterval computes the delay before the next attempt: a strategy base
// plus uniform jitter in [0, base*JitterFactor), clamped to MaxInterval.
// Internal state advances for the following call.
func (b *Backoff) NextInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	var base time.Duration
	switch b.cfg.Strategy {
	case StrategyLinear:
		base = b.initial + time.Duration(b.streak)*time.Second
	case StrategyFibonacci:
		base = b.fibBase(b.streak)
	default: // exponential
		base = b.current
		next := time.Duration(float64(b.current) * b.cfg.Multiplier)
		if next > b.cfg.MaxInterval {
			next = b.cfg.MaxInterval
		}
		b.current = next
	}
	if base > b.cfg.MaxInterval {
		base = b.cfg.MaxInterval
	}

	interval := base
	if b.cfg.JitterFactor > 0 {
		interval += time.Duration(b.rng.Float64() * b.cfg.JitterFactor * float64(base))
	}
	if interval > b.cfg.MaxInterval {
		interval = b.cfg.MaxInterval
	}

	b.streak++
	b.totalAttempts++
	b.totalWait += interval
	b.lastAttempt = time.Now()

	return interval
}

// Metrics returns a snapshot of attempt counters. With zero attempts the
// average interval is the configured initial interval.
func (b *Backoff) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	avg := b.initial
	if b.totalAttempts > 0 {
		avg = b.totalWait / time.Duration(b.totalAttempts)
	}

	return Metrics{
		TotalAttempts:   b.totalAttempts,
		TotalWaitTime:   b.totalWait,
		LastAttempt:     b.lastAttempt,
		CurrentStreak:   b.streak,
		AverageInterval: avg,
	}
}

// Reset restores the initial interval and zeroes all metrics. Called on
// every successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// AdaptiveReset adjusts the initial interval based on the connection
// success rate across lifecycles, then performs a normal reset. Rates
// above 0.8 shrink the initial interval by 20%, rates below 0.3 grow it
// by 20%; both directions are clamped.
func (b *Backoff) AdaptiveReset(successRate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case successRate > 0.8:
		b.initial = time.Duration(float64(b.initial) * 0.8)
		if b.initial < adaptiveFloor {
			b.initial = adaptiveFloor
		}
	case successRate < 0.3:
		b.initial = time.Duration(float64(b.initial) * 1.2)
		if b.initial > adaptiveCeiling {
			b.initial = adaptiveCeiling
		}
	}

	b.reset()
}

// InitialInterval returns the current (possibly adapted) initial interval.
func (b *Backoff) InitialInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initial
}

func (b *Backoff) reset() {
	b.current = b.initial
	b.streak = 0
	b.totalAttempts = 0
	b.totalWait = 0
	b.lastAttempt = time.Time{}
}

func (b *Backoff) fibBase(streak int) time.Duration {
	if streak > maxFibIndex {
		streak = maxFibIndex
	}
	for len(b.fib) <= streak {
		n := len(b.fib)
		switch n {
		case 0, 1:
			b.fib = append(b.fib, time.Second)
		default:
			b.fib = append(b.fib, b.fib[n-1]+b.fib[n-2])
		}
	}
	base := b.fib[streak]
	if base > b.cfg.MaxInterval {
		base = b.cfg.MaxInterval
	}
	return base
}
