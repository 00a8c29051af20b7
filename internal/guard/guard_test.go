package guard

import (
	"context"
	"testing"
	"time"
)

func TestTryAcquireIsExclusivePerServer(t *testing.T) {
	g := New()

	if !g.TryAcquire(1) {
		t.Fatalf("first TryAcquire(1) failed")
	}
	if g.TryAcquire(1) {
		t.Fatalf("second TryAcquire(1) succeeded while held")
	}
	// Other servers are unaffected.
	if !g.TryAcquire(2) {
		t.Fatalf("TryAcquire(2) failed while 1 is held")
	}

	g.Release(1)
	if !g.TryAcquire(1) {
		t.Fatalf("TryAcquire(1) failed after release")
	}
	g.Release(1)
	g.Release(2)
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	g := New()
	if !g.TryAcquire(7) {
		t.Fatalf("TryAcquire failed")
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- g.Acquire(context.Background(), 7)
	}()

	select {
	case <-acquired:
		t.Fatalf("Acquire returned while guard was held")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release(7)
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Acquire did not return after release")
	}
	g.Release(7)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	g := New()
	if !g.TryAcquire(3) {
		t.Fatalf("TryAcquire failed")
	}
	defer g.Release(3)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx, 3); err == nil {
		t.Fatalf("Acquire succeeded despite held guard and expired context")
	}
}

func TestReleaseWithoutHoldIsSafe(t *testing.T) {
	g := New()
	g.Release(99) // no-op
	if !g.TryAcquire(99) {
		t.Fatalf("TryAcquire failed after spurious release")
	}
	g.Release(99)
}
