package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail later at component startup.
// It is installed as the Manager's validator so bad hot-reload edits are
// dropped before commit/publish.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", cfg.Store.Driver)
	}
	if _, err := ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout); err != nil {
		return err
	}

	poll, err := ParseDurationField("engine.poll_interval", cfg.Engine.PollInterval)
	if err != nil {
		return err
	}
	if poll > 0 && poll < time.Second {
		return fmt.Errorf("engine.poll_interval: %s is below 1s", poll)
	}
	if _, err := ParseDurationField("engine.hook_timeout", cfg.Engine.HookTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("engine.retention", cfg.Engine.Retention); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Engine.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("engine.timezone: %w", err)
		}
	}
	if _, err := ParseDurationField("fleet.grace_period", cfg.Fleet.GracePeriod); err != nil {
		return err
	}

	if wh := cfg.Hooks.Webhook; wh != nil && strings.TrimSpace(wh.URL) == "" {
		return fmt.Errorf("hooks.webhook.url is required when the webhook hook is configured")
	}
	if tg := cfg.Hooks.Telegram; tg != nil {
		if strings.TrimSpace(tg.Token) == "" {
			return fmt.Errorf("hooks.telegram.token is required when the telegram hook is configured")
		}
		if tg.ChatID == 0 {
			return fmt.Errorf("hooks.telegram.chat_id is required when the telegram hook is configured")
		}
	}

	return nil
}
