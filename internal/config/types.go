package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Store selects and configures the entity store backend.
	Store StoreConfig `json:"store"`

	// Engine controls the transition poll loop.
	Engine EngineConfig `json:"engine"`

	Fleet FleetConfig `json:"fleet,omitempty"`

	// Hooks configures the maintenance action callbacks fired on
	// start/end transitions. All hooks are optional; a structured log
	// line is always emitted regardless.
	Hooks HooksConfig `json:"hooks,omitempty"`

	Web WebConfig `json:"web,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StoreConfig configures persistence.
//
// Driver values:
//   - "sqlite": SQLite database file (durable, default)
//   - "memory": in-process store, lost on restart
type StoreConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout is a Go duration string (sqlite only; "0s" means default).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EngineConfig controls the transition engine.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "30s"
//   - hook_timeout: "5s"
//   - housekeep_spec: "0 3 * * *"
//   - retention: "0s" (purging disabled)
type EngineConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	HookTimeout  string `json:"hook_timeout,omitempty"`

	// HousekeepSpec is a 5-field cron spec for the terminal-window purge.
	HousekeepSpec string `json:"housekeep_spec,omitempty"`

	// Retention drops Completed/Cancelled windows older than this.
	// "0s" keeps them forever.
	Retention string `json:"retention,omitempty"`

	Timezone string `json:"timezone,omitempty"` // IANA TZ for cron specs
}

// FleetConfig controls collaborator-facing validation.
type FleetConfig struct {
	// GracePeriod bounds how far in the past a new window's start_time may
	// lie before creation is rejected as stale. Default "15m".
	GracePeriod string `json:"grace_period,omitempty"`
}

type HooksConfig struct {
	Webhook  *WebhookConfig      `json:"webhook,omitempty"`
	Telegram *TelegramHookConfig `json:"telegram,omitempty"`
}

type WebhookConfig struct {
	URL        string `json:"url"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type TelegramHookConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// WebConfig controls the read-only operational HTTP endpoint
// (healthz, summary, metrics, optional pprof).
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type WebConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
