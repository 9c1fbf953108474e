package retry

import (
	"testing"
	"time"
)

func TestRuleForSelectsConditionSpecificRule(t *testing.T) {
	opts := NewRetryOptions()
	opts.TransactionConflict.Attempts = 5
	opts.NetworkError.Attempts = 7

	if got := opts.RuleFor(ConditionTransactionConflict).Attempts; got != 5 {
		t.Fatalf("RuleFor(TransactionConflict).Attempts = %d, want 5", got)
	}
	if got := opts.RuleFor(ConditionNetworkError).Attempts; got != 7 {
		t.Fatalf("RuleFor(NetworkError).Attempts = %d, want 7", got)
	}
	if got := opts.RuleFor(ConditionDefault).Attempts; got != opts.Default.Attempts {
		t.Fatalf("RuleFor(Default).Attempts = %d, want %d", got, opts.Default.Attempts)
	}
}

func TestRuleForIdleSessionTimeoutIsHardcodedRegardlessOfOptions(t *testing.T) {
	opts := NewRetryOptions()
	opts.Default.Attempts = 99

	rule := opts.RuleFor(ConditionIdleSessionTimeout)
	if rule.Attempts != 2 {
		t.Fatalf("idle session timeout Attempts = %d, want 2 (original try + exactly one retry)", rule.Attempts)
	}
	if d := rule.Backoff(1); d != 0 {
		t.Fatalf("idle session timeout Backoff(1) = %v, want 0", d)
	}
}

func TestExponentialJitterBackoffGrowsWithAttemptAndStaysBounded(t *testing.T) {
	opts := NewRetryOptions()
	rule := opts.Default

	for n := 1; n <= 5; n++ {
		d := rule.Backoff(n)
		if d < 0 {
			t.Fatalf("Backoff(%d) = %v, want >= 0", n, d)
		}
		// base 100ms × 2^(n-1), randomized up to +/- 50%; generous upper
		// bound to avoid coupling this test to the library's exact jitter
		// distribution.
		upper := time.Duration(float64(100*time.Millisecond) * pow2(n-1) * 2.5)
		if d > upper {
			t.Fatalf("Backoff(%d) = %v, want <= %v", n, d, upper)
		}
	}
}

func pow2(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}
