package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0,
	}
}

func TestRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsAfterMaxAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetrySucceedsOnLaterAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}, func() error {
		calls++
		return errors.New("always fails")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "context should be checked before the second attempt's delay elapses")
}

func TestNextDelayCapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{Multiplier: 2, MaxDelay: 50 * time.Millisecond}
	assert.Equal(t, 40*time.Millisecond, nextDelay(20*time.Millisecond, cfg))
	assert.Equal(t, 50*time.Millisecond, nextDelay(40*time.Millisecond, cfg))
}

func TestAddJitterWithZeroJitterReturnsUnchanged(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, addJitter(100*time.Millisecond, 0))
}

func TestAddJitterStaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := addJitter(base, 0.2)
		assert.GreaterOrEqual(t, got, 80*time.Millisecond)
		assert.LessOrEqual(t, got, 120*time.Millisecond)
	}
}

func TestDefaultRetryConfigHasUsableValues(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
}
