// Package store is the entity store for servers and maintenance windows.
//
// Two drivers are provided:
//   - "sqlite": durable SQLite database file (default)
//   - "memory": in-process maps, lost on restart
//
// The store only persists and queries; lifecycle rules (validation, grace
// periods, cascades) live in the fleet service, and status transitions are
// driven through TransitionWindow, a conditional check-and-set that both the
// engine and the fleet service use so a transition can never apply twice.
package store
