// Package fleet is the collaborator-facing boundary over the entity store:
// validation, lifecycle guards, cascades, and the dashboard summary. The
// web/API layer talks to this service and never mutates status fields
// directly; anything touching an InProgress window is routed through the
// engine so it happens under the same per-server guard as the poll tick.
package fleet

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"maintd/internal/store"
	"maintd/pkg/logx"
)

// Engine is the slice of the transition engine the fleet service needs.
type Engine interface {
	// Poke requests an immediate poll tick after a window mutation.
	Poke()
	// CancelActive cancels an InProgress window under the server guard.
	CancelActive(ctx context.Context, windowID int64) error
}

type Config struct {
	// GracePeriod bounds how far in the past a new window's start may lie
	// before creation is rejected as stale. Default 15m.
	GracePeriod time.Duration
}

type Service struct {
	st  store.Store
	eng Engine
	log logx.Logger

	grace time.Duration

	// now is a seam for tests; production uses time.Now.
	now func() time.Time
}

func New(cfg Config, st store.Store, eng Engine, log logx.Logger) *Service {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 15 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{st: st, eng: eng, log: log, grace: cfg.GracePeriod, now: time.Now}
}

// ---- servers ----

// ServerSpec is the collaborator's input for creating or updating a server.
type ServerSpec struct {
	Name        string
	Hostname    string
	IPAddress   string
	Description string
}

func (sp ServerSpec) validate() error {
	if strings.TrimSpace(sp.Name) == "" {
		return fmt.Errorf("%w: server name is required", store.ErrValidation)
	}
	if strings.TrimSpace(sp.Hostname) == "" {
		return fmt.Errorf("%w: hostname is required", store.ErrValidation)
	}
	if ip := strings.TrimSpace(sp.IPAddress); ip != "" && net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: invalid ip address %q", store.ErrValidation, sp.IPAddress)
	}
	return nil
}

func (s *Service) CreateServer(ctx context.Context, sp ServerSpec) (store.Server, error) {
	if err := sp.validate(); err != nil {
		return store.Server{}, err
	}
	srv := store.Server{
		Name:        strings.TrimSpace(sp.Name),
		Hostname:    strings.TrimSpace(sp.Hostname),
		IPAddress:   strings.TrimSpace(sp.IPAddress),
		Description: sp.Description,
		Status:      store.ServerOnline,
	}
	if err := s.st.CreateServer(ctx, &srv); err != nil {
		return store.Server{}, err
	}
	return srv, nil
}

func (s *Service) UpdateServer(ctx context.Context, id int64, sp ServerSpec) (store.Server, error) {
	if err := sp.validate(); err != nil {
		return store.Server{}, err
	}
	srv, err := s.st.GetServer(ctx, id)
	if err != nil {
		return store.Server{}, err
	}
	srv.Name = strings.TrimSpace(sp.Name)
	srv.Hostname = strings.TrimSpace(sp.Hostname)
	srv.IPAddress = strings.TrimSpace(sp.IPAddress)
	srv.Description = sp.Description
	if err := s.st.UpdateServer(ctx, &srv); err != nil {
		return store.Server{}, err
	}
	return srv, nil
}

// DeleteServer cancels every non-terminal window of the server, then
// deletes the server row. Terminal windows survive as history.
func (s *Service) DeleteServer(ctx context.Context, id int64) error {
	if _, err := s.st.GetServer(ctx, id); err != nil {
		return err
	}

	open, err := s.st.ListWindows(ctx, store.WindowFilter{
		ServerID: id,
		Statuses: []store.WindowStatus{store.WindowScheduled, store.WindowInProgress},
	})
	if err != nil {
		return fmt.Errorf("listing windows for server %d: %w", id, err)
	}
	for _, w := range open {
		if err := s.CancelWindow(ctx, w.ID); err != nil {
			return fmt.Errorf("cancelling window %d: %w", w.ID, err)
		}
	}

	if err := s.st.DeleteServer(ctx, id); err != nil {
		return err
	}
	s.log.Info("server deleted", logx.Int64("server_id", id), logx.Int("windows_cancelled", len(open)))
	return nil
}

func (s *Service) GetServer(ctx context.Context, id int64) (store.Server, error) {
	return s.st.GetServer(ctx, id)
}

func (s *Service) ListServers(ctx context.Context, f store.ServerFilter) ([]store.Server, error) {
	return s.st.ListServers(ctx, f)
}

// SetServerStatus is the administrative override. Forcing Online while
// maintenance is still running coerces to Maintenance, so the
// status-vs-windows invariant cannot be broken from the outside; forcing
// Offline always sticks and the engine will not overwrite it.
func (s *Service) SetServerStatus(ctx context.Context, id int64, status store.ServerStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid server status %q", store.ErrValidation, status)
	}
	if status == store.ServerOnline {
		active, err := s.st.ListWindows(ctx, store.WindowFilter{
			ServerID: id,
			Statuses: []store.WindowStatus{store.WindowInProgress},
		})
		if err != nil {
			return err
		}
		if len(active) > 0 {
			status = store.ServerMaintenance
		}
	}
	return s.st.SetServerStatus(ctx, id, status)
}

// ---- windows ----

// WindowSpec is the collaborator's input for creating or updating a window.
type WindowSpec struct {
	ServerID    int64
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Recurrence  store.Recurrence
}

func (s *Service) validateWindowSpec(sp WindowSpec, allowPast bool) error {
	if sp.StartTime.IsZero() || sp.EndTime.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", store.ErrValidation)
	}
	if !sp.EndTime.After(sp.StartTime) {
		return fmt.Errorf("%w: end_time must be after start_time", store.ErrValidation)
	}
	if !sp.Recurrence.Valid() {
		return fmt.Errorf("%w: invalid recurrence %q", store.ErrValidation, sp.Recurrence)
	}
	if !allowPast {
		// Within the grace period the window is accepted and fires on the
		// next poll tick; clearly stale schedules are rejected instead of
		// silently firing immediately.
		if cutoff := s.now().Add(-s.grace); sp.StartTime.Before(cutoff) {
			return fmt.Errorf("%w: start_time %s is more than %s in the past",
				store.ErrValidation, sp.StartTime.Format(time.RFC3339), s.grace)
		}
	}
	return nil
}

func (s *Service) CreateWindow(ctx context.Context, sp WindowSpec) (store.Window, error) {
	if err := s.validateWindowSpec(sp, false); err != nil {
		return store.Window{}, err
	}
	if _, err := s.st.GetServer(ctx, sp.ServerID); err != nil {
		return store.Window{}, err
	}

	w := store.Window{
		ServerID:    sp.ServerID,
		Title:       strings.TrimSpace(sp.Title),
		Description: sp.Description,
		StartTime:   sp.StartTime,
		EndTime:     sp.EndTime,
		Status:      store.WindowScheduled,
		Recurrence:  sp.Recurrence,
	}
	if w.Recurrence != store.RecurrenceNone {
		w.SeriesID = uuid.NewString()
	}
	if err := s.st.CreateWindow(ctx, &w); err != nil {
		return store.Window{}, err
	}
	s.poke()
	return w, nil
}

// UpdateWindow edits the schedulable fields of a non-terminal window.
// Status is never touched here; that is the engine's job.
func (s *Service) UpdateWindow(ctx context.Context, id int64, sp WindowSpec) (store.Window, error) {
	w, err := s.st.GetWindow(ctx, id)
	if err != nil {
		return store.Window{}, err
	}
	if w.Status.Terminal() {
		return store.Window{}, fmt.Errorf("window %d is %s: %w", id, w.Status, store.ErrInvalidState)
	}
	// Moving an already-running or historical start around is allowed;
	// the grace check only applies to creation.
	if err := s.validateWindowSpec(sp, true); err != nil {
		return store.Window{}, err
	}

	w.Title = strings.TrimSpace(sp.Title)
	w.Description = sp.Description
	w.StartTime = sp.StartTime
	w.EndTime = sp.EndTime
	if sp.Recurrence != w.Recurrence {
		w.Recurrence = sp.Recurrence
		if w.Recurrence == store.RecurrenceNone {
			w.SeriesID = ""
		} else if w.SeriesID == "" {
			w.SeriesID = uuid.NewString()
		}
	}
	if err := s.st.UpdateWindow(ctx, &w); err != nil {
		return store.Window{}, err
	}
	s.poke()
	return w, nil
}

// CancelWindow cancels a Scheduled or InProgress window. Cancelled is
// terminal and suppresses series regeneration.
func (s *Service) CancelWindow(ctx context.Context, id int64) error {
	w, err := s.st.GetWindow(ctx, id)
	if err != nil {
		return err
	}
	switch w.Status {
	case store.WindowScheduled:
		// A Scheduled window is not visible to any running transition, so
		// the conditional update alone is race-safe against the tick.
		if err := s.st.TransitionWindow(ctx, id, store.WindowScheduled, store.WindowCancelled, s.now()); err != nil {
			return err
		}
		s.poke()
		return nil
	case store.WindowInProgress:
		if s.eng == nil {
			return fmt.Errorf("window %d is in progress: %w", id, store.ErrInvalidState)
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.eng.CancelActive(cctx, id)
	default:
		return fmt.Errorf("window %d is already %s: %w", id, w.Status, store.ErrInvalidState)
	}
}

// DeleteWindow removes a terminal window. Scheduled/InProgress windows must
// be cancelled first.
func (s *Service) DeleteWindow(ctx context.Context, id int64) error {
	return s.st.DeleteWindow(ctx, id)
}

func (s *Service) GetWindow(ctx context.Context, id int64) (store.Window, error) {
	return s.st.GetWindow(ctx, id)
}

func (s *Service) ListWindows(ctx context.Context, f store.WindowFilter) ([]store.Window, error) {
	return s.st.ListWindows(ctx, f)
}

func (s *Service) poke() {
	if s.eng != nil {
		s.eng.Poke()
	}
}

// ---- dashboard ----

// Summary is the read-only aggregate for dashboards; it never touches the
// write path.
type Summary struct {
	Servers  map[store.ServerStatus]int `json:"servers"`
	Windows  map[store.WindowStatus]int `json:"windows"`
	Upcoming int                        `json:"upcoming_24h"`
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	servers, err := s.st.CountServersByStatus(ctx)
	if err != nil {
		return Summary{}, err
	}
	windows, err := s.st.CountWindowsByStatus(ctx)
	if err != nil {
		return Summary{}, err
	}
	now := s.now()
	upcoming, err := s.st.ListWindows(ctx, store.WindowFilter{
		Statuses: []store.WindowStatus{store.WindowScheduled},
		From:     now,
		To:       now.Add(24 * time.Hour),
	})
	if err != nil {
		return Summary{}, err
	}
	return Summary{Servers: servers, Windows: windows, Upcoming: len(upcoming)}, nil
}
