// Package engine drives maintenance windows through their lifecycle.
//
// A cron-driven poll tick scans the store for due windows and applies Start
// and End transitions under a per-server guard. Eligibility is always
// recomputed from persisted status and time fields, so a process restart
// needs no replay: the next tick picks up whatever became due while the
// process was down, and re-running a tick is idempotent because every
// transition re-checks the current status as a conditional update.
//
// Ticks are coalesced through a one-slot channel: the cron entry and
// Poke() (called by the fleet service after any window mutation) both feed
// the same single tick worker, so ticks never overlap.
package engine
