// Package retry implements the retrying transaction driver of spec.md
// §4.5 (Component F): a bounded retry loop over the connection pool, with
// per-condition retry rules and a commit/rollback discipline tied to
// whether the body ever issued a statement.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Condition classifies a retryable failure for the purpose of selecting a
// RetryRule, spec.md §4.5 "Override rules by condition: TransactionConflict,
// NetworkError".
type Condition int

const (
	ConditionDefault Condition = iota
	ConditionTransactionConflict
	ConditionNetworkError
	ConditionIdleSessionTimeout
)

// RetryRule bounds and paces retries for one failure condition: Attempts
// total tries (the first try plus Attempts-1 retries), and Backoff(n) the
// sleep before the n-th retry (n is 1-based, matching spec.md §4.5's
// pseudocode "rule.backoff(attempt + 1)").
type RetryRule struct {
	Attempts int
	Backoff  func(n int) time.Duration
}

// RetryOptions maps failure conditions to rules, spec.md §4.5. The zero
// value is invalid; use NewRetryOptions.
type RetryOptions struct {
	Default             RetryRule
	TransactionConflict RetryRule
	NetworkError        RetryRule
}

// idleSessionTimeoutRule is hardcoded and not present in RetryOptions: "a
// special hardcoded rule fires once with zero backoff on
// IdleSessionTimeout regardless of configuration" (spec.md §4.5). Attempts
// of 2 (the original try plus exactly one retry) is what "fires once"
// means against the pseudocode's `attempt + 1 >= rule.attempts` check.
var idleSessionTimeoutRule = RetryRule{
	Attempts: 2,
	Backoff:  func(int) time.Duration { return 0 },
}

// NewRetryOptions returns spec.md §4.5's default rule set: 3 attempts,
// backoff 2^n × 100ms with jitter, for every condition unless overridden.
func NewRetryOptions() RetryOptions {
	def := RetryRule{Attempts: 3, Backoff: exponentialJitterBackoff(100*time.Millisecond, 2, 0.5)}
	return RetryOptions{
		Default:             def,
		TransactionConflict: def,
		NetworkError:        def,
	}
}

// RuleFor selects the rule for a failure condition, per spec.md §4.5.
func (o RetryOptions) RuleFor(cond Condition) RetryRule {
	switch cond {
	case ConditionTransactionConflict:
		return o.TransactionConflict
	case ConditionNetworkError:
		return o.NetworkError
	case ConditionIdleSessionTimeout:
		return idleSessionTimeoutRule
	default:
		return o.Default
	}
}

// exponentialJitterBackoff builds a Backoff function of the form
// base × multiplier^n, randomized the way github.com/cenkalti/backoff/v5's
// ExponentialBackOff randomizes any single interval — spec.md §4.5's
// "2^n × 100ms + uniform(0..100ms)" is this family (exponential backoff
// with jitter); rather than hand-rolling the arithmetic this builds one
// fresh *backoff.ExponentialBackOff per call, seeded at the n-th interval,
// and takes its first (and only) NextBackOff() as the randomized delay.
func exponentialJitterBackoff(base time.Duration, multiplier float64, randomizationFactor float64) func(n int) time.Duration {
	return func(n int) time.Duration {
		if n < 1 {
			n = 1
		}
		interval := base
		for i := 1; i < n; i++ {
			interval = time.Duration(float64(interval) * multiplier)
		}
		b := backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(interval),
			backoff.WithMultiplier(multiplier),
			backoff.WithRandomizationFactor(randomizationFactor),
			backoff.WithMaxInterval(30*time.Second),
		)
		return b.NextBackOff()
	}
}
