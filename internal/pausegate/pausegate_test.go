package pausegate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsClosed(t *testing.T) {
	g := New()
	assert.False(t, g.IsOpen())
}

func TestAwaitBlocksUntilOpen(t *testing.T) {
	g := New()
	done := make(chan error, 1)

	go func() {
		done <- g.Await(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Await returned before Open was called")
	case <-time.After(50 * time.Millisecond):
	}

	g.Open()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Await did not return after Open")
	}
	assert.True(t, g.IsOpen())
}

func TestAwaitReturnsImmediatelyWhenAlreadyOpen(t *testing.T) {
	g := New()
	g.Open()

	err := g.Await(context.Background())
	assert.NoError(t, err)
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseAfterOpenBlocksAgain(t *testing.T) {
	g := New()
	g.Open()
	assert.True(t, g.IsOpen())

	g.Close()
	assert.False(t, g.IsOpen())

	done := make(chan error, 1)
	go func() { done <- g.Await(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Await returned while gate is closed")
	case <-time.After(30 * time.Millisecond):
	}

	g.Open()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Await did not unblock after reopen")
	}
}
