package engine

import "time"

// Config controls the transition engine.
type Config struct {
	// PollInterval is the tick period. Must be small relative to
	// scheduling granularity; default 30s.
	PollInterval time.Duration

	// HookTimeout bounds one action hook invocation; default 5s.
	HookTimeout time.Duration

	// HousekeepSpec is a 5-field cron spec for the retention purge.
	// Default "0 3 * * *". Ignored when Retention is zero.
	HousekeepSpec string

	// Retention drops Completed/Cancelled windows older than this.
	// Zero disables purging.
	Retention time.Duration

	// Timezone is the IANA location for cron specs; empty means local.
	Timezone string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = 5 * time.Second
	}
	if c.HousekeepSpec == "" {
		c.HousekeepSpec = "0 3 * * *"
	}
	return c
}
