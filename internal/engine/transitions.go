package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"maintd/internal/hook"
	"maintd/internal/recurrence"
	"maintd/internal/store"
	"maintd/pkg/logx"
)

// runTick is one due-window scan. Start transitions run before End
// transitions, so a window whose start and end are both overdue (long
// process pause) fires both in this tick, in order.
//
// Per-window failures never halt the tick; a store listing failure aborts
// it, to be retried on the next tick. An aborted tick is never treated as
// "no windows due".
func (s *Service) runTick(ctx context.Context) {
	now := s.now()
	started := time.Now()

	due, err := s.st.ListWindows(ctx, store.WindowFilter{
		Statuses:    []store.WindowStatus{store.WindowScheduled},
		StartBefore: now,
	})
	if err != nil {
		s.tickAborted(err)
		return
	}
	for _, w := range due {
		s.startOne(ctx, w, now)
	}

	// Queried after the start pass so windows that just went InProgress
	// with an already-overdue end fire their End transition too.
	ending, err := s.st.ListWindows(ctx, store.WindowFilter{
		Statuses:  []store.WindowStatus{store.WindowInProgress},
		EndBefore: now,
	})
	if err != nil {
		s.tickAborted(err)
		return
	}
	sort.Slice(ending, func(i, j int) bool {
		if !ending[i].EndTime.Equal(ending[j].EndTime) {
			return ending[i].EndTime.Before(ending[j].EndTime)
		}
		return ending[i].ID < ending[j].ID
	})
	for _, w := range ending {
		s.endOne(ctx, w, now)
	}

	if s.mx != nil {
		if counts, err := s.st.CountWindowsByStatus(ctx); err == nil {
			s.mx.SetWindowGauges(counts[store.WindowInProgress], counts[store.WindowScheduled])
		}
	}

	took := time.Since(started)
	if s.mx != nil {
		s.mx.ObserveTick(took.Seconds())
	}
	if poll := s.pollInterval(); took > poll {
		// Symptom of store overload; the tick is never aborted mid-way for this.
		s.log.Warn("poll tick overran the poll interval",
			logx.Duration("took", took), logx.Duration("poll_interval", poll))
	}
}

func (s *Service) tickAborted(err error) {
	s.log.Warn("poll tick aborted; store unavailable", logx.Err(err))
	if s.mx != nil {
		s.mx.RecordTickError()
	}
}

func (s *Service) startOne(ctx context.Context, w store.Window, now time.Time) {
	if !s.gd.TryAcquire(w.ServerID) {
		// Expected contention; the window stays due and fires next tick.
		if s.mx != nil {
			s.mx.RecordContention()
		}
		s.log.Debug("guard held; deferring start", logx.Int64("window_id", w.ID), logx.Int64("server_id", w.ServerID))
		return
	}

	srv, err := s.st.GetServer(ctx, w.ServerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Orphaned window; cancel it so it stops turning up as due.
			_ = s.st.TransitionWindow(ctx, w.ID, store.WindowScheduled, store.WindowCancelled, now)
			s.log.Warn("window references missing server; cancelled",
				logx.Int64("window_id", w.ID), logx.Int64("server_id", w.ServerID))
		} else {
			s.log.Warn("start transition failed reading server", logx.Int64("window_id", w.ID), logx.Err(err))
		}
		s.gd.Release(w.ServerID)
		return
	}

	// Re-check under the guard; the window may have been cancelled or
	// already started since the scan.
	if err := s.st.TransitionWindow(ctx, w.ID, store.WindowScheduled, store.WindowInProgress, now); err != nil {
		if !errors.Is(err, store.ErrInvalidState) && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("start transition failed", logx.Int64("window_id", w.ID), logx.Err(err))
		}
		s.gd.Release(w.ServerID)
		return
	}

	// A maintenance window does not force a server online: an
	// administratively Offline server stays Offline while the window runs.
	if srv.Status == store.ServerOnline {
		if err := s.st.SetServerStatus(ctx, srv.ID, store.ServerMaintenance); err != nil {
			s.log.Warn("setting server status failed", logx.Int64("server_id", srv.ID), logx.Err(err))
		} else {
			srv.Status = store.ServerMaintenance
		}
	}
	s.gd.Release(w.ServerID)

	if s.mx != nil {
		s.mx.RecordTransition("start")
	}
	s.log.Info("maintenance window started",
		logx.Int64("window_id", w.ID),
		logx.Int64("server_id", srv.ID),
		logx.String("server", srv.Name),
		logx.Time("scheduled_start", w.StartTime),
	)
	s.invokeHook(srv, hook.PhaseStart)
}

func (s *Service) endOne(ctx context.Context, w store.Window, now time.Time) {
	if !s.gd.TryAcquire(w.ServerID) {
		if s.mx != nil {
			s.mx.RecordContention()
		}
		s.log.Debug("guard held; deferring end", logx.Int64("window_id", w.ID), logx.Int64("server_id", w.ServerID))
		return
	}

	if err := s.st.TransitionWindow(ctx, w.ID, store.WindowInProgress, store.WindowCompleted, now); err != nil {
		if !errors.Is(err, store.ErrInvalidState) && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("end transition failed", logx.Int64("window_id", w.ID), logx.Err(err))
		}
		s.gd.Release(w.ServerID)
		return
	}

	srv, srvErr := s.st.GetServer(ctx, w.ServerID)
	if srvErr == nil {
		s.recomputeServerStatus(ctx, &srv)
	}
	s.gd.Release(w.ServerID)

	if s.mx != nil {
		s.mx.RecordTransition("end")
	}
	s.log.Info("maintenance window completed",
		logx.Int64("window_id", w.ID),
		logx.Int64("server_id", w.ServerID),
		logx.Time("scheduled_end", w.EndTime),
	)

	if srvErr == nil {
		s.invokeHook(srv, hook.PhaseEnd)
	} else {
		s.log.Warn("server missing at end transition; hook skipped",
			logx.Int64("window_id", w.ID), logx.Int64("server_id", w.ServerID))
		return
	}

	if w.Recurrence != store.RecurrenceNone {
		s.regenerate(ctx, w)
	}
}

// CancelActive cancels an InProgress window on behalf of the fleet service.
// It waits for the guard (bounded by ctx), applies the same server-status
// recomputation as a normal End transition and fires the end-phase hook,
// but never regenerates the series: explicit cancellation suppresses it.
func (s *Service) CancelActive(ctx context.Context, windowID int64) error {
	w, err := s.st.GetWindow(ctx, windowID)
	if err != nil {
		return err
	}
	if w.Status != store.WindowInProgress {
		return fmt.Errorf("window %d is %s: %w", windowID, w.Status, store.ErrInvalidState)
	}

	if err := s.gd.Acquire(ctx, w.ServerID); err != nil {
		return fmt.Errorf("window %d: waiting for server guard: %w", windowID, err)
	}

	if err := s.st.TransitionWindow(ctx, windowID, store.WindowInProgress, store.WindowCancelled, s.now()); err != nil {
		s.gd.Release(w.ServerID)
		return err
	}

	srv, srvErr := s.st.GetServer(ctx, w.ServerID)
	if srvErr == nil {
		s.recomputeServerStatus(ctx, &srv)
	}
	s.gd.Release(w.ServerID)

	if s.mx != nil {
		s.mx.RecordTransition("cancel")
	}
	s.log.Info("maintenance window cancelled while active",
		logx.Int64("window_id", windowID), logx.Int64("server_id", w.ServerID))

	if srvErr == nil {
		s.invokeHook(srv, hook.PhaseEnd)
	}
	return nil
}

// recomputeServerStatus flips a Maintenance server back Online once no
// InProgress window remains. An administrative Offline is left alone.
func (s *Service) recomputeServerStatus(ctx context.Context, srv *store.Server) {
	if srv.Status != store.ServerMaintenance {
		return
	}
	remaining, err := s.st.ListWindows(ctx, store.WindowFilter{
		ServerID: srv.ID,
		Statuses: []store.WindowStatus{store.WindowInProgress},
	})
	if err != nil {
		s.log.Warn("recomputing server status failed", logx.Int64("server_id", srv.ID), logx.Err(err))
		return
	}
	if len(remaining) > 0 {
		// Overlapping window still running; stay in Maintenance.
		return
	}
	if err := s.st.SetServerStatus(ctx, srv.ID, store.ServerOnline); err != nil {
		s.log.Warn("setting server status failed", logx.Int64("server_id", srv.ID), logx.Err(err))
		return
	}
	srv.Status = store.ServerOnline
}

// regenerate creates exactly one Scheduled successor for a completed
// recurring window. Failure is logged and does not revert the completion.
func (s *Service) regenerate(ctx context.Context, w store.Window) {
	nextStart, nextEnd, err := recurrence.Next(w.Recurrence, w.StartTime, w.EndTime)
	if err != nil {
		s.log.Error("computing next occurrence failed", logx.Int64("window_id", w.ID), logx.Err(err))
		return
	}

	succ := store.Window{
		ServerID:    w.ServerID,
		Title:       w.Title,
		Description: w.Description,
		StartTime:   nextStart,
		EndTime:     nextEnd,
		Status:      store.WindowScheduled,
		Recurrence:  w.Recurrence,
		SeriesID:    w.SeriesID,
	}
	if succ.SeriesID == "" {
		succ.SeriesID = uuid.NewString()
	}
	if err := s.st.CreateWindow(ctx, &succ); err != nil {
		s.log.Error("creating successor window failed",
			logx.Int64("window_id", w.ID), logx.String("series_id", succ.SeriesID), logx.Err(err))
		return
	}
	if s.mx != nil {
		s.mx.RecordSuccessor()
	}
	s.log.Info("recurring window regenerated",
		logx.Int64("window_id", w.ID),
		logx.Int64("successor_id", succ.ID),
		logx.String("series_id", succ.SeriesID),
		logx.Time("next_start", nextStart),
	)
}

// invokeHook fires the action hook outside the guard with a bounded
// timeout. The transition is already committed; a hook failure is logged
// and counted, never rolled back into engine state.
func (s *Service) invokeHook(srv store.Server, phase hook.Phase) {
	if s.hk == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.hookTimeout())
	defer cancel()
	if err := s.hk.OnTransition(ctx, srv, phase); err != nil {
		if s.mx != nil {
			s.mx.RecordHookFailure()
		}
		s.log.Warn("action hook failed",
			logx.Int64("server_id", srv.ID),
			logx.String("phase", string(phase)),
			logx.Err(err),
		)
	}
}

// housekeep purges terminal windows older than the retention cutoff.
func (s *Service) housekeep(ctx context.Context) {
	s.mu.Lock()
	retention := s.cfg.Retention
	s.mu.Unlock()
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)
	n, err := s.st.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		s.log.Warn("retention purge failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("purged terminal windows", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
}
