package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-process store. It backs the "memory" driver
// and the test suites of every layer above the store.
type Memory struct {
	mu sync.RWMutex

	servers map[int64]Server
	windows map[int64]Window

	nextServerID int64
	nextWindowID int64
}

func NewMemory() *Memory {
	return &Memory{
		servers: map[int64]Server{},
		windows: map[int64]Window{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- servers ----

func (m *Memory) CreateServer(_ context.Context, s *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ex := range m.servers {
		if ex.Name == s.Name {
			return fmt.Errorf("%w: server name %q already exists", ErrValidation, s.Name)
		}
	}

	m.nextServerID++
	s.ID = m.nextServerID
	if s.Status == "" {
		s.Status = ServerOnline
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.servers[s.ID] = *s
	return nil
}

func (m *Memory) UpdateServer(_ context.Context, s *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.servers[s.ID]
	if !ok {
		return fmt.Errorf("server %d: %w", s.ID, ErrNotFound)
	}
	for id, ex := range m.servers {
		if id != s.ID && ex.Name == s.Name {
			return fmt.Errorf("%w: server name %q already exists", ErrValidation, s.Name)
		}
	}
	cur.Name = s.Name
	cur.Hostname = s.Hostname
	cur.IPAddress = s.IPAddress
	cur.Description = s.Description
	cur.UpdatedAt = time.Now().UTC()
	m.servers[s.ID] = cur
	*s = cur
	return nil
}

func (m *Memory) DeleteServer(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[id]; !ok {
		return fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	delete(m.servers, id)
	return nil
}

func (m *Memory) GetServer(_ context.Context, id int64) (Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return Server{}, fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Memory) ListServers(_ context.Context, f ServerFilter) ([]Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Server, 0, len(m.servers))
	for _, s := range m.servers {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetServerStatus(_ context.Context, id int64, status ServerStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid server status %q", ErrValidation, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	m.servers[id] = s
	return nil
}

func (m *Memory) CountServersByStatus(_ context.Context) (map[ServerStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[ServerStatus]int{}
	for _, s := range m.servers {
		out[s.Status]++
	}
	return out, nil
}

// ---- windows ----

func (m *Memory) CreateWindow(_ context.Context, w *Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextWindowID++
	w.ID = m.nextWindowID
	if w.Status == "" {
		w.Status = WindowScheduled
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	m.windows[w.ID] = *w
	return nil
}

func (m *Memory) UpdateWindow(_ context.Context, w *Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.windows[w.ID]
	if !ok {
		return fmt.Errorf("window %d: %w", w.ID, ErrNotFound)
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("window %d is %s: %w", w.ID, cur.Status, ErrInvalidState)
	}
	cur.Title = w.Title
	cur.Description = w.Description
	cur.StartTime = w.StartTime
	cur.EndTime = w.EndTime
	cur.Recurrence = w.Recurrence
	cur.SeriesID = w.SeriesID
	cur.UpdatedAt = time.Now().UTC()
	m.windows[w.ID] = cur
	*w = cur
	return nil
}

func (m *Memory) DeleteWindow(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.windows[id]
	if !ok {
		return fmt.Errorf("window %d: %w", id, ErrNotFound)
	}
	if !cur.Status.Terminal() {
		return fmt.Errorf("window %d is %s: %w", id, cur.Status, ErrInvalidState)
	}
	delete(m.windows, id)
	return nil
}

func (m *Memory) GetWindow(_ context.Context, id int64) (Window, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	if !ok {
		return Window{}, fmt.Errorf("window %d: %w", id, ErrNotFound)
	}
	return w, nil
}

func (m *Memory) ListWindows(_ context.Context, f WindowFilter) ([]Window, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Window, 0, 16)
	for _, w := range m.windows {
		if !matchWindow(w, f) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchWindow(w Window, f WindowFilter) bool {
	if f.ServerID != 0 && w.ServerID != f.ServerID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if w.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.StartBefore.IsZero() && w.StartTime.After(f.StartBefore) {
		return false
	}
	if !f.EndBefore.IsZero() && w.EndTime.After(f.EndBefore) {
		return false
	}
	if !f.From.IsZero() && !w.EndTime.After(f.From) {
		return false
	}
	if !f.To.IsZero() && !w.StartTime.Before(f.To) {
		return false
	}
	return true
}

func (m *Memory) TransitionWindow(_ context.Context, id int64, from, to WindowStatus, at time.Time) error {
	if !legalEdge(from, to) {
		return fmt.Errorf("window %d: transition %s -> %s: %w", id, from, to, ErrInvalidState)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.windows[id]
	if !ok {
		return fmt.Errorf("window %d: %w", id, ErrNotFound)
	}
	if cur.Status != from {
		return fmt.Errorf("window %d is %s, not %s: %w", id, cur.Status, from, ErrInvalidState)
	}
	cur.Status = to
	applyActuals(&cur, from, to, at)
	cur.UpdatedAt = time.Now().UTC()
	m.windows[id] = cur
	return nil
}

// legalEdge encodes the window state machine; every other edge is
// unrepresentable through the store.
func legalEdge(from, to WindowStatus) bool {
	switch {
	case from == WindowScheduled && to == WindowInProgress:
	case from == WindowInProgress && to == WindowCompleted:
	case from == WindowScheduled && to == WindowCancelled:
	case from == WindowInProgress && to == WindowCancelled:
	default:
		return false
	}
	return true
}

func applyActuals(w *Window, from, to WindowStatus, at time.Time) {
	if to == WindowInProgress && w.ActualStart.IsZero() {
		w.ActualStart = at
	}
	if from == WindowInProgress && w.ActualEnd.IsZero() {
		w.ActualEnd = at
	}
}

func (m *Memory) CountWindowsByStatus(_ context.Context) (map[WindowStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[WindowStatus]int{}
	for _, w := range m.windows {
		out[w.Status]++
	}
	return out, nil
}

func (m *Memory) PurgeTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, w := range m.windows {
		if w.Status.Terminal() && w.EndTime.Before(cutoff) {
			delete(m.windows, id)
			n++
		}
	}
	return n, nil
}
