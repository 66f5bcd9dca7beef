package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

var errBusy = NewTransientError(errors.New("anthropic: overloaded"), 529)

func TestDo_FirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(4), func(context.Context) error {
		calls++
		return errBusy
	})
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 4, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errors.New("prompt is too long")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errBusy
	})
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomShouldRetryAndOnRetry(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(error) bool { return true }
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func(context.Context) error { return errors.New("anything") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "partial", errBusy
		}
		return "- Approved the consent agenda", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "- Approved the consent agenda", v)

	v, err = DoVal(context.Background(), fastRetry(2), func(context.Context) (string, error) {
		return "partial", errBusy
	})
	require.Error(t, err)
	assert.Empty(t, v)
}

func TestComputeBackoff_Exponential(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 30 * time.Second, MaxBackoff: time.Hour, Multiplier: 2}

	assert.Equal(t, 30*time.Second, computeBackoff(0, cfg))
	assert.Equal(t, time.Minute, computeBackoff(1, cfg))
	assert.Equal(t, 2*time.Minute, computeBackoff(2, cfg))
	assert.Equal(t, time.Hour, computeBackoff(10, cfg))
}

func TestComputeBackoff_Jitter(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2, JitterFraction: 0.25}
	for i := 0; i < 100; i++ {
		d := computeBackoff(2, cfg)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestBackoff_AppliesDefaults(t *testing.T) {
	d := Backoff(0, RetryConfig{})
	assert.GreaterOrEqual(t, d, 375*time.Millisecond)
	assert.LessOrEqual(t, d, 625*time.Millisecond)

	d = Backoff(3, RetryConfig{InitialBackoff: 30 * time.Second, MaxBackoff: time.Hour})
	assert.GreaterOrEqual(t, d, 3*time.Minute)
	assert.LessOrEqual(t, d, 5*time.Minute)
}

func TestRetryLogger(t *testing.T) {
	hook := RetryLogger("anthropic", "summary")
	assert.NotPanics(t, func() { hook(1, errBusy) })
}
