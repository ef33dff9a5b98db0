package resilience

import (
	"strings"
	"time"
)

// Config tunes retries and circuit breaking for backend calls. Query-path
// operations (see IsQueryOperation) run inside a per-branch search deadline and
// use the smaller Query* retry budget; writes, schema setup and event publishing
// use the Retry* budget.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	QueryRetryMaxAttempts int
	QueryRetryMaxBackoff  time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

var queryOperationSuffixes = []string{".search", ".embed_query", ".judge"}

// IsQueryOperation reports whether operation is issued while answering a search.
func IsQueryOperation(operation string) bool {
	for _, suffix := range queryOperationSuffixes {
		if strings.HasSuffix(operation, suffix) {
			return true
		}
	}
	return false
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		QueryRetryMaxAttempts: 2,
		QueryRetryMaxBackoff:  100 * time.Millisecond,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

type retryBudget struct {
	attempts   int
	initial    time.Duration
	max        time.Duration
	multiplier float64
}

func (c Config) budget(operation string) retryBudget {
	out := retryBudget{
		attempts:   c.RetryMaxAttempts,
		initial:    c.RetryInitialBackoff,
		max:        c.RetryMaxBackoff,
		multiplier: c.RetryMultiplier,
	}
	if IsQueryOperation(operation) {
		out.attempts = c.QueryRetryMaxAttempts
		out.max = c.QueryRetryMaxBackoff
		if out.initial > out.max {
			out.initial = out.max
		}
	}
	return out
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	out.RetryMaxAttempts = positiveOr(out.RetryMaxAttempts, def.RetryMaxAttempts)
	out.RetryInitialBackoff = positiveOr(out.RetryInitialBackoff, def.RetryInitialBackoff)
	out.RetryMaxBackoff = max(positiveOr(out.RetryMaxBackoff, def.RetryMaxBackoff), out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	// The query budget never exceeds the write budget.
	out.QueryRetryMaxAttempts = min(positiveOr(out.QueryRetryMaxAttempts, def.QueryRetryMaxAttempts), out.RetryMaxAttempts)
	out.QueryRetryMaxBackoff = min(positiveOr(out.QueryRetryMaxBackoff, def.QueryRetryMaxBackoff), out.RetryMaxBackoff)

	out.BreakerMinRequests = positiveOr(out.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	out.BreakerOpenTimeout = positiveOr(out.BreakerOpenTimeout, def.BreakerOpenTimeout)
	out.BreakerHalfOpenMaxCalls = positiveOr(out.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return out
}

func positiveOr[T int | uint32 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
