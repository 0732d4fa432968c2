package pipeline

import (
	"context"
	"sync"
)

// Gate is the pause signal shared between the controller and the worker.
// It is checked between tasks only.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	closed  bool
	changed chan struct{}
}

// NewGate returns an open, unpaused gate
func NewGate() *Gate {
	return &Gate{changed: make(chan struct{})}
}

// Pause makes subsequent Wait calls block until Resume or Close
func (g *Gate) Pause() {
	g.set(func() { g.paused = true })
}

// Resume releases blocked waiters
func (g *Gate) Resume() {
	g.set(func() { g.paused = false })
}

// Close makes every current and future Wait return ErrStopped
func (g *Gate) Close() {
	g.set(func() { g.closed = true })
}

// Reopen clears a previous Close and the paused flag
func (g *Gate) Reopen() {
	g.set(func() {
		g.closed = false
		g.paused = false
	})
}

// Paused reports whether the gate is paused
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Closed reports whether the gate has been closed
func (g *Gate) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Wait returns nil immediately when the gate is open, blocks while paused,
// and returns ErrStopped once closed or ctx.Err() when ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			g.mu.Unlock()
			return err
		}
		if !g.paused {
			g.mu.Unlock()
			return nil
		}
		ch := g.changed
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gate) set(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
	close(g.changed)
	g.changed = make(chan struct{})
}
