package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProbe = errors.New("probe failure")

func TestNewAppliesDefaultsForZeroFields(t *testing.T) {
	cb := New(Config{})
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 5, cb.config.MaxFailures)
	assert.Equal(t, 30*time.Second, cb.config.Timeout)
	assert.Equal(t, 3, cb.config.HalfOpenMax)
}

func TestExecuteStaysClosedOnSuccess(t *testing.T) {
	cb := New(DefaultConfig())
	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func() error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Hour, HalfOpenMax: 1})

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error { return errProbe })
		assert.ErrorIs(t, err, errProbe)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestExecuteTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})

	err := cb.Execute(context.Background(), func() error { return errProbe })
	require.ErrorIs(t, err, errProbe)
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err = cb.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State(), "a lone success with HalfOpenMax=1 must close the circuit")
}

func TestExecuteReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 3})

	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return errProbe }), errProbe)
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return errProbe })
	assert.ErrorIs(t, err, errProbe)
	assert.Equal(t, StateOpen, cb.State(), "a half-open probe failure must reopen the circuit")
}

func TestExecuteLimitsConcurrentHalfOpenRequests(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})

	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return errProbe }), errProbe)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)

	close(release)
	wg.Wait()
}

func TestOnStateChangeCallbackFiresOnTransition(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{}, 1)

	cb := New(Config{
		MaxFailures: 1,
		Timeout:     time.Hour,
		HalfOpenMax: 1,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
			done <- struct{}{}
		},
	})

	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return errProbe }), errProbe)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state change callback")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, "closed->open")
}

func TestStateStringRepresentations(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
