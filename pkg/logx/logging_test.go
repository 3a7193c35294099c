package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	// Must not panic.
	l.Info("hello", String("k", "v"))
	l.With(Int("n", 1)).Warn("still nothing")
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWriter(&buf, "info").Component("scheduler")

	l.Debug("filtered")
	l.Info("cycle done", Int("dispatched", 2), Bool("ok", true))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["message"] != "cycle done" {
		t.Fatalf("message=%v", m["message"])
	}
	if m["comp"] != "scheduler" {
		t.Fatalf("comp=%v", m["comp"])
	}
	if m["dispatched"] != float64(2) {
		t.Fatalf("dispatched=%v", m["dispatched"])
	}
	if !l.Enabled(LevelWarn) || l.Enabled(LevelDebug) {
		t.Fatalf("unexpected Enabled results")
	}
}

func TestServiceApplyFileSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("to file", String("task", "market_analysis_high"))

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("dropped after level change")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "market_analysis_high") {
		t.Fatalf("expected first line in file, got %q", s)
	}
	if strings.Contains(s, "dropped after level change") {
		t.Fatalf("level change not applied: %q", s)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
