// Package pausegate implements the two-state latch that coordinates the
// AssetManager's swap cycle with the EnrichmentPipeline's entry point.
// Readers suspend in Await until the gate opens rather than polling; the
// gate starts closed (initial asset downloads have not completed) and is
// toggled by exactly one writer — the AssetManager, plus the startup
// sequence.
package pausegate

import (
	"context"
	"sync"
)

// Gate is a latch with two states, Open and Closed. The zero value
// starts Closed.
type Gate struct {
	mu   sync.Mutex
	open bool
	ch   chan struct{} // closed exactly when open
}

// New returns a Gate in the Closed state.
func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// opened returns the channel that is closed once the gate becomes (or
// already is) Open.
func (g *Gate) opened() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
	return g.ch
}

// Await suspends the caller until the gate is Open or ctx is done,
// whichever happens first. This is the pipeline-entry suspension point
// spec.md §4.6 step 1 describes as awaiting PauseGate.closed().
func (g *Gate) Await(ctx context.Context) error {
	select {
	case <-g.opened():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open transitions the gate to Open, releasing every waiter.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return
	}
	g.open = true
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
	close(g.ch)
}

// Close transitions the gate back to Closed, making future Await
// callers block again.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return
	}
	g.open = false
	g.ch = make(chan struct{})
}

// IsOpen reports the current state without blocking.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}
