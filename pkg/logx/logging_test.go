package logx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFileSinkWritesStructuredLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maintd.log")
	svc, log := New(Config{
		Level: "DEBUG",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.With(String("comp", "test")).Info("window started", Int64("window_id", 7))
	_ = svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := strings.TrimSpace(string(b))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, line)
	}
	if rec["message"] != "window started" || rec["comp"] != "test" {
		t.Fatalf("record = %v", rec)
	}
	if rec["window_id"] != float64(7) {
		t.Fatalf("record = %v", rec)
	}
}

func TestApplyChangesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maintd.log")
	svc, log := New(Config{
		Level: "ERROR",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	if log.Enabled(LevelDebug) {
		t.Fatalf("debug enabled at ERROR level")
	}

	svc.Apply(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	if !log.Enabled(LevelDebug) {
		t.Fatalf("debug not enabled after Apply")
	}
}

func TestNopLoggerIsSilentAndSafe(t *testing.T) {
	l := Nop()
	if l.IsZero() {
		t.Fatalf("Nop logger should not be zero")
	}
	l.Info("dropped", String("k", "v"), Err(nil))

	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	zero.Warn("also dropped")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
