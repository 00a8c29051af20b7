package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means the referenced id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the operation is not permitted in the record's
	// current lifecycle state (e.g. editing a completed window, or a
	// TransitionWindow whose precondition no longer holds).
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation means the input was rejected before any state change.
	ErrValidation = errors.New("validation failed")
)

type ServerStatus string

const (
	ServerOnline      ServerStatus = "online"
	ServerMaintenance ServerStatus = "maintenance"
	ServerOffline     ServerStatus = "offline"
)

func (s ServerStatus) Valid() bool {
	switch s {
	case ServerOnline, ServerMaintenance, ServerOffline:
		return true
	}
	return false
}

type WindowStatus string

const (
	WindowScheduled  WindowStatus = "scheduled"
	WindowInProgress WindowStatus = "in_progress"
	WindowCompleted  WindowStatus = "completed"
	WindowCancelled  WindowStatus = "cancelled"
)

// Terminal reports whether the status ends the window's lifecycle.
func (s WindowStatus) Terminal() bool {
	return s == WindowCompleted || s == WindowCancelled
}

func (s WindowStatus) Valid() bool {
	switch s {
	case WindowScheduled, WindowInProgress, WindowCompleted, WindowCancelled:
		return true
	}
	return false
}

type Recurrence string

const (
	RecurrenceNone    Recurrence = ""
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

type Server struct {
	ID          int64
	Name        string
	Hostname    string
	IPAddress   string
	Description string
	Status      ServerStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Window is one scheduled maintenance period for one server.
//
// ActualStart/ActualEnd are zero until the corresponding transition fires.
// SeriesID links all windows of one recurring series; it is empty for
// non-recurring windows.
type Window struct {
	ID          int64
	ServerID    int64
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	ActualStart time.Time
	ActualEnd   time.Time
	Status      WindowStatus
	Recurrence  Recurrence
	SeriesID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Duration is the scheduled (not observed) length of the window.
func (w Window) Duration() time.Duration { return w.EndTime.Sub(w.StartTime) }

type ServerFilter struct {
	// Status narrows to one status; empty matches all.
	Status ServerStatus
}

// WindowFilter narrows ListWindows. Zero fields are ignored.
type WindowFilter struct {
	ServerID int64
	Statuses []WindowStatus

	// StartBefore matches windows with StartTime <= the given instant.
	StartBefore time.Time
	// EndBefore matches windows with EndTime <= the given instant.
	EndBefore time.Time

	// From/To match windows overlapping the half-open range [From, To).
	From time.Time
	To   time.Time

	Limit int
}
