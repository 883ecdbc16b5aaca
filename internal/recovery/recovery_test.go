package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, NonCritical},
		{"timeout", errors.New("dial tcp: i/o timeout"), Retryable},
		{"connection refused", errors.New("connect: connection refused"), Retryable},
		{"rate limited", errors.New("HTTP 429 too many requests"), Retryable},
		{"missing file", errors.New("open /tmp/x: no such file or directory"), NonCritical},
		{"permission", errors.New("mkdir /root/x: permission denied"), NonCritical},
		{"bad argument", errors.New("invalid argument: frequency"), NonCritical},
		{"unrecognized", errors.New("segmentation violation"), Critical},
		{"context cancelled", context.Canceled, Critical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestDelay(t *testing.T) {
	t.Run("exponential doubles and caps", func(t *testing.T) {
		p := Policy{Backoff: BackoffExponential, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
		assert.Equal(t, 1*time.Second, p.Delay(1))
		assert.Equal(t, 2*time.Second, p.Delay(2))
		assert.Equal(t, 4*time.Second, p.Delay(3))
		assert.Equal(t, 5*time.Second, p.Delay(4)) // capped
	})

	t.Run("linear grows with attempt", func(t *testing.T) {
		p := Policy{Backoff: BackoffLinear, BaseDelay: time.Second, MaxDelay: time.Minute}
		assert.Equal(t, 1*time.Second, p.Delay(1))
		assert.Equal(t, 3*time.Second, p.Delay(3))
	})

	t.Run("constant stays flat", func(t *testing.T) {
		p := Policy{Backoff: BackoffConstant, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
		assert.Equal(t, 2*time.Second, p.Delay(1))
		assert.Equal(t, 2*time.Second, p.Delay(7))
	})
}

// fakeSleeper records requested delays instead of sleeping.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

func TestWithRetry(t *testing.T) {
	t.Run("retryable error retried with exponential backoff, last error surfaced", func(t *testing.T) {
		sleeper := &fakeSleeper{}
		p := Policy{MaxRetries: 3, Backoff: BackoffExponential, BaseDelay: time.Second, MaxDelay: 30 * time.Second, sleep: sleeper.sleep}

		attempts := 0
		err := WithRetry(context.Background(), "flaky", p, func(ctx context.Context) error {
			attempts++
			return fmt.Errorf("attempt %d: connection reset by peer", attempts)
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "attempt 4", "last error is surfaced")
		assert.Equal(t, 4, attempts, "initial attempt plus 3 retries")
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		sleeper := &fakeSleeper{}
		p := Policy{MaxRetries: 3, Backoff: BackoffConstant, BaseDelay: time.Second, sleep: sleeper.sleep}

		attempts := 0
		err := WithRetry(context.Background(), "eventually-ok", p, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary failure in name resolution")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Len(t, sleeper.delays, 2)
	})

	t.Run("non-critical error is not retried", func(t *testing.T) {
		sleeper := &fakeSleeper{}
		p := Policy{MaxRetries: 3, Backoff: BackoffConstant, BaseDelay: time.Second, sleep: sleeper.sleep}

		attempts := 0
		err := WithRetry(context.Background(), "missing", p, func(ctx context.Context) error {
			attempts++
			return errors.New("stat /tmp/report.pdf: no such file or directory")
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
		assert.Empty(t, sleeper.delays)
	})

	t.Run("critical error is not retried", func(t *testing.T) {
		p := Policy{MaxRetries: 3, Backoff: BackoffConstant, BaseDelay: time.Second, sleep: (&fakeSleeper{}).sleep}

		attempts := 0
		err := WithRetry(context.Background(), "boom", p, func(ctx context.Context) error {
			attempts++
			return errors.New("unexpected internal state")
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancelled context stops the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := Policy{MaxRetries: 5, Backoff: BackoffConstant, BaseDelay: time.Millisecond}

		attempts := 0
		err := WithRetry(ctx, "cancelled", p, func(ctx context.Context) error {
			attempts++
			cancel()
			return errors.New("connection reset")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestSetDefaultPolicy(t *testing.T) {
	orig := DefaultPolicy()
	defer SetDefaultPolicy(orig)

	SetDefaultPolicy(Policy{
		MaxRetries: 10,
		Backoff:    BackoffLinear,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	})

	assert.Equal(t, 10, DefaultPolicy().MaxRetries)
	assert.Equal(t, BackoffLinear, DefaultPolicy().Backoff)

	// Tools without an override pick up the configured fallback; per-tool
	// overrides are untouched.
	assert.Equal(t, 10, PolicyForTool("calendar.create").MaxRetries)
	assert.Equal(t, 5, PolicyForTool("email.fetch").MaxRetries)

	// An unset backoff falls back to exponential.
	SetDefaultPolicy(Policy{MaxRetries: 1, BaseDelay: time.Second})
	assert.Equal(t, BackoffExponential, DefaultPolicy().Backoff)
}

func TestPolicyForTool(t *testing.T) {
	assert.Equal(t, 5, PolicyForTool("email.fetch").MaxRetries)
	assert.Equal(t, 5, PolicyForTool("web.scrape").MaxRetries)
	assert.Equal(t, 1, PolicyForTool("file.move").MaxRetries)
	// Unknown tools get the default.
	assert.Equal(t, DefaultPolicy().MaxRetries, PolicyForTool("unknown.thing").MaxRetries)

	// Network tools wait longer than file tools.
	assert.Greater(t, PolicyForTool("email.fetch").BaseDelay, PolicyForTool("file.move").BaseDelay)
}
