package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"maintd/pkg/logx"
)

// forEachStore runs the same suite against both backends so they cannot
// drift apart semantically.
func forEachStore(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})

	t.Run("sqlite", func(t *testing.T) {
		st, err := Open(Config{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "maintd.db"),
		}, logx.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

func mustServer(t *testing.T, st Store, name string) Server {
	t.Helper()
	s := Server{Name: name, Hostname: name + ".example.net", Status: ServerOnline}
	if err := st.CreateServer(context.Background(), &s); err != nil {
		t.Fatalf("CreateServer(%s): %v", name, err)
	}
	if s.ID == 0 {
		t.Fatalf("CreateServer did not assign an id")
	}
	return s
}

func mustWindow(t *testing.T, st Store, serverID int64, start, end time.Time) Window {
	t.Helper()
	w := Window{ServerID: serverID, Title: "patching", StartTime: start, EndTime: end, Status: WindowScheduled}
	if err := st.CreateWindow(context.Background(), &w); err != nil {
		t.Fatalf("CreateWindow: %v", err)
	}
	return w
}

func TestServerCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := mustServer(t, st, "web-1")

		got, err := st.GetServer(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetServer: %v", err)
		}
		if got.Name != "web-1" || got.Status != ServerOnline {
			t.Fatalf("unexpected server: %+v", got)
		}

		got.Description = "frontend"
		if err := st.UpdateServer(ctx, &got); err != nil {
			t.Fatalf("UpdateServer: %v", err)
		}
		got, _ = st.GetServer(ctx, s.ID)
		if got.Description != "frontend" {
			t.Fatalf("description not persisted: %+v", got)
		}

		if err := st.DeleteServer(ctx, s.ID); err != nil {
			t.Fatalf("DeleteServer: %v", err)
		}
		if _, err := st.GetServer(ctx, s.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestServerNameMustBeUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		mustServer(t, st, "db-1")

		dup := Server{Name: "db-1", Hostname: "other.example.net"}
		if err := st.CreateServer(ctx, &dup); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for duplicate name, got %v", err)
		}
	})
}

func TestSetServerStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := mustServer(t, st, "app-1")

		if err := st.SetServerStatus(ctx, s.ID, ServerOffline); err != nil {
			t.Fatalf("SetServerStatus: %v", err)
		}
		got, _ := st.GetServer(ctx, s.ID)
		if got.Status != ServerOffline {
			t.Fatalf("status = %s, want offline", got.Status)
		}

		if err := st.SetServerStatus(ctx, s.ID, ServerStatus("bogus")); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for bogus status, got %v", err)
		}
		if err := st.SetServerStatus(ctx, 9999, ServerOnline); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for missing server, got %v", err)
		}
	})
}

func TestTransitionWindowEnforcesStateMachine(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := mustServer(t, st, "web-1")
		base := time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)
		w := mustWindow(t, st, s.ID, base, base.Add(time.Hour))

		// illegal edge is rejected before touching the row
		if err := st.TransitionWindow(ctx, w.ID, WindowScheduled, WindowCompleted, base); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("scheduled->completed: expected ErrInvalidState, got %v", err)
		}

		if err := st.TransitionWindow(ctx, w.ID, WindowScheduled, WindowInProgress, base); err != nil {
			t.Fatalf("scheduled->in_progress: %v", err)
		}
		// stale precondition fails: the window is no longer Scheduled
		if err := st.TransitionWindow(ctx, w.ID, WindowScheduled, WindowInProgress, base); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("repeat start: expected ErrInvalidState, got %v", err)
		}

		endAt := base.Add(time.Hour)
		if err := st.TransitionWindow(ctx, w.ID, WindowInProgress, WindowCompleted, endAt); err != nil {
			t.Fatalf("in_progress->completed: %v", err)
		}

		got, err := st.GetWindow(ctx, w.ID)
		if err != nil {
			t.Fatalf("GetWindow: %v", err)
		}
		if got.Status != WindowCompleted {
			t.Fatalf("status = %s, want completed", got.Status)
		}
		if !got.ActualStart.Equal(base) {
			t.Fatalf("actual start = %v, want %v", got.ActualStart, base)
		}
		if !got.ActualEnd.Equal(endAt) {
			t.Fatalf("actual end = %v, want %v", got.ActualEnd, endAt)
		}
	})
}

func TestTerminalWindowsAreImmutable(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := mustServer(t, st, "web-1")
		base := time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)
		w := mustWindow(t, st, s.ID, base, base.Add(time.Hour))

		if err := st.TransitionWindow(ctx, w.ID, WindowScheduled, WindowCancelled, base); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		w.Title = "edited"
		if err := st.UpdateWindow(ctx, &w); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("editing cancelled window: expected ErrInvalidState, got %v", err)
		}
		// cancelled is a dead end
		if err := st.TransitionWindow(ctx, w.ID, WindowCancelled, WindowScheduled, base); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("reviving cancelled window: expected ErrInvalidState, got %v", err)
		}
	})
}

func TestDeleteWindowRequiresTerminalState(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := mustServer(t, st, "web-1")
		base := time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)
		w := mustWindow(t, st, s.ID, base, base.Add(time.Hour))

		if err := st.DeleteWindow(ctx, w.ID); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("deleting scheduled window: expected ErrInvalidState, got %v", err)
		}
		if err := st.TransitionWindow(ctx, w.ID, WindowScheduled, WindowCancelled, base); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := st.DeleteWindow(ctx, w.ID); err != nil {
			t.Fatalf("deleting cancelled window: %v", err)
		}
		if _, err := st.GetWindow(ctx, w.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestListWindowsFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s1 := mustServer(t, st, "web-1")
		s2 := mustServer(t, st, "web-2")
		base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

		early := mustWindow(t, st, s1.ID, base, base.Add(time.Hour))
		late := mustWindow(t, st, s1.ID, base.Add(3*time.Hour), base.Add(4*time.Hour))
		other := mustWindow(t, st, s2.ID, base.Add(time.Hour), base.Add(2*time.Hour))

		due, err := st.ListWindows(ctx, WindowFilter{
			Statuses:    []WindowStatus{WindowScheduled},
			StartBefore: base.Add(90 * time.Minute),
		})
		if err != nil {
			t.Fatalf("ListWindows: %v", err)
		}
		if len(due) != 2 || due[0].ID != early.ID || due[1].ID != other.ID {
			t.Fatalf("due windows = %+v, want [%d %d]", due, early.ID, other.ID)
		}

		byServer, err := st.ListWindows(ctx, WindowFilter{ServerID: s1.ID})
		if err != nil {
			t.Fatalf("ListWindows: %v", err)
		}
		if len(byServer) != 2 || byServer[0].ID != early.ID || byServer[1].ID != late.ID {
			t.Fatalf("server windows = %+v", byServer)
		}

		// [From, To) overlap: only windows intersecting hour 2..3.5
		overlap, err := st.ListWindows(ctx, WindowFilter{
			From: base.Add(90 * time.Minute),
			To:   base.Add(210 * time.Minute),
		})
		if err != nil {
			t.Fatalf("ListWindows: %v", err)
		}
		if len(overlap) != 2 || overlap[0].ID != other.ID || overlap[1].ID != late.ID {
			t.Fatalf("overlap windows = %+v, want [%d %d]", overlap, other.ID, late.ID)
		}

		limited, err := st.ListWindows(ctx, WindowFilter{Limit: 1})
		if err != nil {
			t.Fatalf("ListWindows: %v", err)
		}
		if len(limited) != 1 || limited[0].ID != early.ID {
			t.Fatalf("limited windows = %+v", limited)
		}
	})
}

func TestCountsByStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := mustServer(t, st, "web-1")
		base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

		mustWindow(t, st, s.ID, base, base.Add(time.Hour))
		w2 := mustWindow(t, st, s.ID, base.Add(time.Hour), base.Add(2*time.Hour))
		if err := st.TransitionWindow(ctx, w2.ID, WindowScheduled, WindowInProgress, base); err != nil {
			t.Fatalf("start: %v", err)
		}

		servers, err := st.CountServersByStatus(ctx)
		if err != nil {
			t.Fatalf("CountServersByStatus: %v", err)
		}
		if servers[ServerOnline] != 1 {
			t.Fatalf("server counts = %+v", servers)
		}
		windows, err := st.CountWindowsByStatus(ctx)
		if err != nil {
			t.Fatalf("CountWindowsByStatus: %v", err)
		}
		if windows[WindowScheduled] != 1 || windows[WindowInProgress] != 1 {
			t.Fatalf("window counts = %+v", windows)
		}
	})
}

func TestPurgeTerminalBefore(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		s := mustServer(t, st, "web-1")
		base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

		old := mustWindow(t, st, s.ID, base, base.Add(time.Hour))
		if err := st.TransitionWindow(ctx, old.ID, WindowScheduled, WindowCancelled, base); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		keptTerminal := mustWindow(t, st, s.ID, base.Add(48*time.Hour), base.Add(49*time.Hour))
		if err := st.TransitionWindow(ctx, keptTerminal.ID, WindowScheduled, WindowCancelled, base); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		keptOpen := mustWindow(t, st, s.ID, base, base.Add(time.Hour))

		n, err := st.PurgeTerminalBefore(ctx, base.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("PurgeTerminalBefore: %v", err)
		}
		if n != 1 {
			t.Fatalf("purged %d windows, want 1", n)
		}
		if _, err := st.GetWindow(ctx, old.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("old terminal window survived purge: %v", err)
		}
		if _, err := st.GetWindow(ctx, keptTerminal.ID); err != nil {
			t.Fatalf("recent terminal window purged: %v", err)
		}
		if _, err := st.GetWindow(ctx, keptOpen.ID); err != nil {
			t.Fatalf("open window purged: %v", err)
		}
	})
}
