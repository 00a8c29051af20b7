package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
store:
  driver: sqlite
  path: /var/lib/maintd/maintd.db
engine:
  poll_interval: 10s
  retention: 720h
hooks:
  webhook:
    url: https://ops.example.net/hook
    rate_per_sec: 2
web:
  enabled: true
  addr: 127.0.0.1:8720
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Engine.PollInterval != "10s" || cfg.Engine.Retention != "720h" {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Hooks.Webhook == nil || cfg.Hooks.Webhook.URL != "https://ops.example.net/hook" {
		t.Fatalf("hooks = %+v", cfg.Hooks)
	}
	if !cfg.Web.Enabled || cfg.Web.Addr != "127.0.0.1:8720" {
		t.Fatalf("web = %+v", cfg.Web)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"level":"info","console":true},"engine":{"poll_interval":"1m"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.PollInterval != "1m" {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  console: true
enigne:
  poll_interval: 10s
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected error for misspelled section")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"console":true}} {"extra":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected error for trailing JSON")
	}
}

func TestValidate(t *testing.T) {
	ok := &Config{}
	if err := Validate(ok); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}

	cases := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"bad duration", func(c *Config) { c.Engine.PollInterval = "soon" }, "poll_interval"},
		{"sub-second poll", func(c *Config) { c.Engine.PollInterval = "100ms" }, "below 1s"},
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }, "timezone"},
		{"webhook without url", func(c *Config) { c.Hooks.Webhook = &WebhookConfig{} }, "webhook.url"},
		{"telegram without token", func(c *Config) { c.Hooks.Telegram = &TelegramHookConfig{ChatID: 1} }, "telegram.token"},
		{"telegram without chat", func(c *Config) { c.Hooks.Telegram = &TelegramHookConfig{Token: "t"} }, "chat_id"},
	}
	for _, tc := range cases {
		c := &Config{}
		tc.mut(c)
		err := Validate(c)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadRunsValidator(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
engine:
  poll_interval: bogus
`)
	m := NewManager(path)
	m.SetValidator(Validate)
	if _, err := m.Load(); err == nil {
		t.Fatalf("expected validation error from Load")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("90s: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("expected error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", 15*time.Minute); err != nil || d != 15*time.Minute {
		t.Fatalf("default: %v %v", d, err)
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  console: true\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)

	select {
	case got := <-sub:
		if got != cfg {
			t.Fatalf("subscriber got wrong config")
		}
	default:
		t.Fatalf("subscriber did not receive config")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("channel not closed after unsubscribe")
	}
}
