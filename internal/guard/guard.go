// Package guard serializes transitions per server.
//
// Two concurrent transitions for different servers proceed in parallel; two
// for the same server are mutually exclusive. The poll tick uses the
// non-blocking TryAcquire so one busy server never stalls the whole tick; a
// failed acquisition just defers that window to the next tick.
package guard

import (
	"context"
	"sync"
)

type Guard struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func New() *Guard {
	return &Guard{slots: map[int64]chan struct{}{}}
}

func (g *Guard) slot(serverID int64) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[serverID]
	if !ok {
		s = make(chan struct{}, 1)
		g.slots[serverID] = s
	}
	return s
}

// TryAcquire takes the server's slot without waiting.
func (g *Guard) TryAcquire(serverID int64) bool {
	select {
	case g.slot(serverID) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire waits for the server's slot until ctx is done. Used by
// caller-driven cancellations, which are allowed to wait briefly for an
// in-flight transition instead of failing.
func (g *Guard) Acquire(ctx context.Context, serverID int64) error {
	select {
	case g.slot(serverID) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the server's slot. Must follow a successful acquisition.
func (g *Guard) Release(serverID int64) {
	select {
	case <-g.slot(serverID):
	default:
		// release without acquisition is a programming error; make it
		// harmless rather than deadlock-prone
	}
}
