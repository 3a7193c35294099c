package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"adaptived/internal/task/model"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  base_interval: 30s
  max_concurrent: 2
  exec_timeout: 5s
storage:
  driver: sqlite
  path: /tmp/adaptived.db
tasks:
  definitions:
    - id: trading_execution_high
      category: trading_execution
      priority: high
      conditions: [trending]
      dependencies: [market_analysis_high]
      cooldown: 2m
      preferred_windows: ["* 9-16 * * MON-FRI"]
`

func TestDecodeFormats(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("adaptived.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Scheduler.MaxConcurrent != 2 || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	defs, err := BuildDefinitions(cfg.Tasks.Definitions)
	if err != nil || len(defs) != 1 {
		t.Fatalf("definitions: %v %v", defs, err)
	}
	d := defs[0]
	if d.Priority != model.PriorityHigh || d.Cooldown != 2*time.Minute || len(d.PreferredWindows) != 1 || d.Conditions[0] != model.CondTrending {
		t.Fatalf("definition=%+v", d)
	}

	empty, err := Decode("empty.yml", nil)
	if err != nil || empty == nil {
		t.Fatalf("empty yaml: %v", err)
	}

	tests := []struct {
		name string
		path string
		data string
	}{
		{"unknown field", "c.json", `{"logging":{"level":"info"},"bogus":1}`},
		{"trailing data", "c.json", `{"logging":{}} {}`},
		{"unknown yaml field", "c.yaml", "scheduler:\n  workers: 3\n"},
		{"bad yaml", "c.yaml", "scheduler: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.path, []byte(tt.data)); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero config", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad duration", func(c *Config) { c.Scheduler.BaseInterval = "soon" }, "scheduler.base_interval"},
		{"negative duration", func(c *Config) { c.Scheduler.ExecTimeout = "-1s" }, "scheduler.exec_timeout"},
		{"min above max", func(c *Config) { c.Scheduler.MinInterval = "5m"; c.Scheduler.MaxInterval = "1m" }, "min_interval"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"confidence range", func(c *Config) { c.Decision.MinConfidence = 1.5 }, "min_confidence"},
		{"unknown rule", func(c *Config) { c.Decision.DisabledRules = []string{"nope"} }, "disabled_rules"},
		{"cleanup rate", func(c *Config) { c.Cleanup.MaxFailureRate = 2 }, "max_failure_rate"},
		{"storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "mongo"} }, "storage.driver"},
		{"file needs path", func(c *Config) { c.Storage = &StorageConfig{Driver: "file"} }, "storage.path"},
		{"redis needs addr", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.addr"},
		{"oracle mode", func(c *Config) { c.Oracle.Mode = "psychic" }, "oracle.mode"},
		{"failure rate", func(c *Config) { c.Hooks.Simulated.FailureRate = -0.1 }, "failure_rate"},
		{"exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
		{"otlp endpoint", func(c *Config) { c.Tracing.Exporter = "otlphttp" }, "tracing.endpoint"},
		{"bad category", func(c *Config) {
			c.Tasks.Definitions = []TaskDefinitionConfig{{Category: "gardening"}}
		}, "unknown category"},
		{"bad window", func(c *Config) {
			c.Tasks.Definitions = []TaskDefinitionConfig{{Category: "data_sync", AvoidWindows: []string{"99 * * * *"}}}
		}, "avoid_windows"},
		{"duplicate", func(c *Config) {
			c.Tasks.Definitions = []TaskDefinitionConfig{{Category: "data_sync"}, {Category: "data_sync"}}
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	old := &Config{Storage: &StorageConfig{Driver: "redis", Addr: "a:6379", Password: "x"}}
	next := &Config{
		Storage:   &StorageConfig{Driver: "redis", Addr: "a:6379", Password: "y"},
		Scheduler: SchedulerConfig{MaxConcurrent: 5},
		Tasks:     TasksConfig{Definitions: []TaskDefinitionConfig{{Category: "data_sync"}}},
	}
	changed, attrs := SummarizeConfigChange(old, next)
	if want := []string{"scheduler", "storage", "tasks"}; !slices.Equal(changed, want) {
		t.Fatalf("changed=%v want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if changed, _ := SummarizeConfigChange(next, next); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestLoadAndWatchReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "adaptived.json")
	if err := os.WriteFile(path, []byte(`{"scheduler":{"max_concurrent":1}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil || cfg.Scheduler.MaxConcurrent != 1 || m.Get() != cfg {
		t.Fatalf("load: %v %+v", err, cfg)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(watchDone)
	}()

	// The watcher may start after the first write; keep rewriting until a
	// reload lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-sub:
			if got.Scheduler.MaxConcurrent != 4 {
				t.Fatalf("reloaded max_concurrent=%d", got.Scheduler.MaxConcurrent)
			}
			cancel()
			<-watchDone
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte(`{"scheduler":{"max_concurrent":4}}`), 0o600)
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "adaptived.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"oracle":{"mode":"psychic"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	m.reload(context.Background())
	select {
	case got := <-sub:
		t.Fatalf("invalid config published: %+v", got)
	default:
	}
	if m.Get().Oracle.Mode != "" {
		t.Fatalf("invalid config committed")
	}
}

func TestParseDurations(t *testing.T) {
	t.Parallel()

	var a, b time.Duration
	if err := ParseDurations(
		DurationField{Path: "a", Raw: " 90s ", Dst: &a},
		DurationField{Path: "b", Raw: "", Dst: &b},
		DurationField{Path: "check", Raw: "1m"},
	); err != nil {
		t.Fatal(err)
	}
	if a != 90*time.Second || b != 0 {
		t.Fatalf("a=%s b=%s", a, b)
	}

	tests := []struct {
		raw     string
		wantErr string
	}{
		{"soon", "x.y: invalid duration"},
		{"-5s", "x.y: duration must be >= 0"},
	}
	for _, tt := range tests {
		err := ParseDurations(DurationField{Path: "x.y", Raw: tt.raw})
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("raw %q: err=%v want %q", tt.raw, err, tt.wantErr)
		}
	}

	if d, err := ParseDurationOrDefault("z", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: %s %v", d, err)
	}
	if _, err := ParseDurationOrDefault("z", "bad", time.Minute); err == nil {
		t.Fatalf("expected error")
	}
}
