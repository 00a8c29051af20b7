package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"maintd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Comparable instants are stored as Unix milliseconds so range scans can use
// plain integer indexes.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./maintd.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- time helpers ----

func toMS(t time.Time) int64 { return t.UnixMilli() }

func msToTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullMSToTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return msToTime(v.Int64)
}

// ---- servers ----

func (s *sqliteStore) CreateServer(ctx context.Context, srv *Server) error {
	if srv.Status == "" {
		srv.Status = ServerOnline
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO servers(name, hostname, ip_address, description, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)`,
		srv.Name, srv.Hostname, srv.IPAddress, srv.Description, string(srv.Status), toMS(now), toMS(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: server name %q already exists", ErrValidation, srv.Name)
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	srv.ID = id
	srv.CreatedAt = now
	srv.UpdatedAt = now
	return nil
}

func (s *sqliteStore) UpdateServer(ctx context.Context, srv *Server) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET name=?, hostname=?, ip_address=?, description=?, updated_at=? WHERE id=?`,
		srv.Name, srv.Hostname, srv.IPAddress, srv.Description, toMS(now), srv.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: server name %q already exists", ErrValidation, srv.Name)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("server %d: %w", srv.ID, ErrNotFound)
	}
	srv.UpdatedAt = now
	return nil
}

func (s *sqliteStore) DeleteServer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return nil
}

const serverCols = `id, name, hostname, ip_address, description, status, created_at, updated_at`

func scanServer(row interface{ Scan(...any) error }) (Server, error) {
	var (
		srv                  Server
		status               string
		createdMS, updatedMS int64
	)
	err := row.Scan(&srv.ID, &srv.Name, &srv.Hostname, &srv.IPAddress, &srv.Description, &status, &createdMS, &updatedMS)
	if err != nil {
		return Server{}, err
	}
	srv.Status = ServerStatus(status)
	srv.CreatedAt = msToTime(createdMS)
	srv.UpdatedAt = msToTime(updatedMS)
	return srv, nil
}

func (s *sqliteStore) GetServer(ctx context.Context, id int64) (Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverCols+` FROM servers WHERE id=?`, id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return srv, err
}

func (s *sqliteStore) ListServers(ctx context.Context, f ServerFilter) ([]Server, error) {
	q := `SELECT ` + serverCols + ` FROM servers`
	args := []any{}
	if f.Status != "" {
		q += ` WHERE status=?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetServerStatus(ctx context.Context, id int64, status ServerStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid server status %q", ErrValidation, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET status=?, updated_at=? WHERE id=?`,
		string(status), toMS(time.Now().UTC()), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) CountServersByStatus(ctx context.Context) (map[ServerStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM servers GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[ServerStatus]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[ServerStatus(st)] = n
	}
	return out, rows.Err()
}

// ---- windows ----

func (s *sqliteStore) CreateWindow(ctx context.Context, w *Window) error {
	if w.Status == "" {
		w.Status = WindowScheduled
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO windows(server_id, title, description, start_time, end_time, actual_start, actual_end,
		                     status, recurrence, series_id, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ServerID, w.Title, w.Description, toMS(w.StartTime), toMS(w.EndTime),
		nullMS(w.ActualStart), nullMS(w.ActualEnd),
		string(w.Status), string(w.Recurrence), w.SeriesID, toMS(now), toMS(now),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	w.ID = id
	w.CreatedAt = now
	w.UpdatedAt = now
	return nil
}

func (s *sqliteStore) UpdateWindow(ctx context.Context, w *Window) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE windows SET title=?, description=?, start_time=?, end_time=?, recurrence=?, series_id=?, updated_at=?
		 WHERE id=? AND status NOT IN (?,?)`,
		w.Title, w.Description, toMS(w.StartTime), toMS(w.EndTime), string(w.Recurrence), w.SeriesID, toMS(now),
		w.ID, string(WindowCompleted), string(WindowCancelled),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish missing from terminal for the caller's error taxonomy.
		if _, gerr := s.GetWindow(ctx, w.ID); errors.Is(gerr, ErrNotFound) {
			return gerr
		}
		return fmt.Errorf("window %d is terminal: %w", w.ID, ErrInvalidState)
	}
	w.UpdatedAt = now
	return nil
}

func (s *sqliteStore) DeleteWindow(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM windows WHERE id=? AND status IN (?,?)`,
		id, string(WindowCompleted), string(WindowCancelled),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := s.GetWindow(ctx, id); errors.Is(gerr, ErrNotFound) {
			return gerr
		}
		return fmt.Errorf("window %d is not terminal: %w", id, ErrInvalidState)
	}
	return nil
}

const windowCols = `id, server_id, title, description, start_time, end_time, actual_start, actual_end,
	status, recurrence, series_id, created_at, updated_at`

func scanWindow(row interface{ Scan(...any) error }) (Window, error) {
	var (
		w                      Window
		startMS, endMS         int64
		actualStart, actualEnd sql.NullInt64
		status, recurrence     string
		createdMS, updatedMS   int64
	)
	err := row.Scan(&w.ID, &w.ServerID, &w.Title, &w.Description, &startMS, &endMS,
		&actualStart, &actualEnd, &status, &recurrence, &w.SeriesID, &createdMS, &updatedMS)
	if err != nil {
		return Window{}, err
	}
	w.StartTime = msToTime(startMS)
	w.EndTime = msToTime(endMS)
	w.ActualStart = nullMSToTime(actualStart)
	w.ActualEnd = nullMSToTime(actualEnd)
	w.Status = WindowStatus(status)
	w.Recurrence = Recurrence(recurrence)
	w.CreatedAt = msToTime(createdMS)
	w.UpdatedAt = msToTime(updatedMS)
	return w, nil
}

func (s *sqliteStore) GetWindow(ctx context.Context, id int64) (Window, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+windowCols+` FROM windows WHERE id=?`, id)
	w, err := scanWindow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Window{}, fmt.Errorf("window %d: %w", id, ErrNotFound)
	}
	return w, err
}

func (s *sqliteStore) ListWindows(ctx context.Context, f WindowFilter) ([]Window, error) {
	q := `SELECT ` + windowCols + ` FROM windows`
	var (
		conds []string
		args  []any
	)
	if f.ServerID != 0 {
		conds = append(conds, `server_id=?`)
		args = append(args, f.ServerID)
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, `status IN (`+strings.Join(ph, ",")+`)`)
	}
	if !f.StartBefore.IsZero() {
		conds = append(conds, `start_time <= ?`)
		args = append(args, toMS(f.StartBefore))
	}
	if !f.EndBefore.IsZero() {
		conds = append(conds, `end_time <= ?`)
		args = append(args, toMS(f.EndBefore))
	}
	if !f.From.IsZero() {
		conds = append(conds, `end_time > ?`)
		args = append(args, toMS(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, `start_time < ?`)
		args = append(args, toMS(f.To))
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY start_time, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) TransitionWindow(ctx context.Context, id int64, from, to WindowStatus, at time.Time) error {
	if !legalEdge(from, to) {
		return fmt.Errorf("window %d: transition %s -> %s: %w", id, from, to, ErrInvalidState)
	}

	q := `UPDATE windows SET status=?, updated_at=?`
	args := []any{string(to), toMS(time.Now().UTC())}
	if to == WindowInProgress {
		q += `, actual_start=COALESCE(actual_start, ?)`
		args = append(args, toMS(at))
	}
	if from == WindowInProgress {
		q += `, actual_end=COALESCE(actual_end, ?)`
		args = append(args, toMS(at))
	}
	q += ` WHERE id=? AND status=?`
	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		cur, gerr := s.GetWindow(ctx, id)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("window %d is %s, not %s: %w", id, cur.Status, from, ErrInvalidState)
	}
	return nil
}

func (s *sqliteStore) CountWindowsByStatus(ctx context.Context) (map[WindowStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM windows GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[WindowStatus]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[WindowStatus(st)] = n
	}
	return out, rows.Err()
}

func (s *sqliteStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM windows WHERE status IN (?,?) AND end_time < ?`,
		string(WindowCompleted), string(WindowCancelled), toMS(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces constraint failures in the error text;
	// avoid depending on driver-internal error types.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
