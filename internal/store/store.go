package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"maintd/pkg/logx"
)

// Store is the persistence API used by the fleet service and the engine.
type Store interface {
	CreateServer(ctx context.Context, s *Server) error
	UpdateServer(ctx context.Context, s *Server) error
	DeleteServer(ctx context.Context, id int64) error
	GetServer(ctx context.Context, id int64) (Server, error)
	ListServers(ctx context.Context, f ServerFilter) ([]Server, error)
	SetServerStatus(ctx context.Context, id int64, status ServerStatus) error
	CountServersByStatus(ctx context.Context) (map[ServerStatus]int, error)

	CreateWindow(ctx context.Context, w *Window) error
	UpdateWindow(ctx context.Context, w *Window) error
	DeleteWindow(ctx context.Context, id int64) error
	GetWindow(ctx context.Context, id int64) (Window, error)
	ListWindows(ctx context.Context, f WindowFilter) ([]Window, error)

	// TransitionWindow atomically moves a window from one status to another.
	// It fails with ErrInvalidState if the current status is not `from`, so
	// a transition observed by a concurrent poll tick can never apply twice.
	// Moving to InProgress records ActualStart; moving out of InProgress
	// records ActualEnd.
	TransitionWindow(ctx context.Context, id int64, from, to WindowStatus, at time.Time) error

	CountWindowsByStatus(ctx context.Context) (map[WindowStatus]int, error)

	// PurgeTerminalBefore deletes Completed/Cancelled windows whose end_time
	// is older than the cutoff. Returns the number of rows removed.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Config configures storage. See config.StoreConfig for the wire form.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
