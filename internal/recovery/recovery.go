// Package recovery wraps arbitrary operations with classification-based
// retry/backoff. Only transient (network/timeout-class) failures are retried;
// everything else stops immediately and the caller decides how loudly to
// report it.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowpilot/internal/logging"
)

// Class buckets an error by how the caller should react.
type Class int

const (
	// Retryable covers network/timeout-class failures that are safe to retry.
	Retryable Class = iota

	// NonCritical covers missing resources, permissions and bad arguments:
	// not worth retrying, but the caller may continue with a warning.
	NonCritical

	// Critical is anything unrecognized; the caller should hard-stop.
	Critical
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case NonCritical:
		return "non_critical"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Backoff selects the delay progression between retries.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"      // base * attempt
	BackoffExponential Backoff = "exponential" // base * 2^(attempt-1)
)

// Policy configures a retry loop. MaxRetries counts retries after the first
// attempt; MaxRetries=3 means up to four attempts total.
type Policy struct {
	MaxRetries int
	Backoff    Backoff
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// defaultPolicy is the fallback when no tool-specific override applies.
// Replaced at startup from the retry config section.
var defaultPolicy = Policy{
	MaxRetries: 3,
	Backoff:    BackoffExponential,
	BaseDelay:  time.Second,
	MaxDelay:   30 * time.Second,
}

// DefaultPolicy returns the baseline policy used when no tool-specific
// override applies.
func DefaultPolicy() Policy {
	return defaultPolicy
}

// SetDefaultPolicy replaces the baseline policy. Called once during startup,
// before any retry loop runs. An empty backoff means exponential.
func SetDefaultPolicy(p Policy) {
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	defaultPolicy = p
}

// toolPolicies holds per-tool overrides. Network-backed tools tolerate more
// retries and longer delays than local file operations.
var toolPolicies = map[string]Policy{
	"web":    {MaxRetries: 5, Backoff: BackoffExponential, BaseDelay: 2 * time.Second, MaxDelay: time.Minute},
	"email":  {MaxRetries: 5, Backoff: BackoffExponential, BaseDelay: 2 * time.Second, MaxDelay: time.Minute},
	"llm":    {MaxRetries: 4, Backoff: BackoffExponential, BaseDelay: 2 * time.Second, MaxDelay: time.Minute},
	"file":   {MaxRetries: 1, Backoff: BackoffConstant, BaseDelay: 500 * time.Millisecond, MaxDelay: time.Second},
	"shell":  {MaxRetries: 1, Backoff: BackoffConstant, BaseDelay: 500 * time.Millisecond, MaxDelay: time.Second},
	"system": {MaxRetries: 2, Backoff: BackoffLinear, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
}

// PolicyForTool returns the override for a tool id, matching on the prefix
// before the first dot ("email.fetch" -> "email"). Falls back to the default.
func PolicyForTool(tool string) Policy {
	family := tool
	if i := strings.IndexByte(tool, '.'); i > 0 {
		family = tool[:i]
	}
	if p, ok := toolPolicies[family]; ok {
		return p
	}
	return DefaultPolicy()
}

// retryableMarkers identify transient network/timeout failures.
var retryableMarkers = []string{
	"timeout", "timed out", "deadline exceeded",
	"connection refused", "connection reset", "broken pipe",
	"temporary failure", "temporarily unavailable",
	"network is unreachable", "no such host",
	"too many requests", "rate limit", "503", "502", "429",
	"eof",
}

// nonCriticalMarkers identify failures that retrying cannot fix but that the
// caller may treat as a warning.
var nonCriticalMarkers = []string{
	"no such file", "not found", "does not exist",
	"permission denied", "access denied", "operation not permitted",
	"invalid argument", "bad argument", "malformed",
}

// Classify buckets an error. Context cancellation is Critical: the caller
// asked to stop, retrying would fight it.
func Classify(err error) Class {
	if err == nil {
		return NonCritical
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Critical
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return Retryable
		}
	}
	for _, marker := range nonCriticalMarkers {
		if strings.Contains(msg, marker) {
			return NonCritical
		}
	}
	return Critical
}

// Delay returns the backoff delay before retry n (1-based), capped at
// MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt)
	case BackoffExponential:
		d = p.BaseDelay << uint(attempt-1)
	default:
		d = p.BaseDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// WithRetry runs op, retrying Retryable failures per the policy. NonCritical
// and Critical failures return immediately. After exhausting retries the last
// error is returned.
func WithRetry(ctx context.Context, name string, p Policy, op func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 0 {
				logging.Daemon("Operation %s succeeded after %d retries", name, attempt)
			}
			return nil
		}

		class := Classify(lastErr)
		if class != Retryable {
			logging.DaemonDebug("Operation %s failed with %s error, not retrying: %v", name, class, lastErr)
			return lastErr
		}
		if attempt >= p.MaxRetries {
			logging.Get(logging.CategoryDaemon).Warn("Operation %s exhausted %d retries: %v", name, p.MaxRetries, lastErr)
			return lastErr
		}

		delay := p.Delay(attempt + 1)
		logging.DaemonDebug("Operation %s failed (attempt %d/%d), retrying in %v: %v",
			name, attempt+1, p.MaxRetries, delay, lastErr)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
