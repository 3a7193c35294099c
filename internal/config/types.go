package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "30s", "1h").
// Unknown fields are rejected by the loader.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Decision    DecisionConfig    `json:"decision"`
	Cleanup     CleanupConfig     `json:"cleanup"`
	Persistence PersistenceConfig `json:"persistence"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Oracle      OracleConfig      `json:"oracle"`
	Hooks       HooksConfig       `json:"hooks"`
	Tracing     TracingConfig     `json:"tracing"`
	Tasks       TasksConfig       `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduling loop.
//
// Defaults (when fields are omitted/zero):
//   - base_interval: "30s"
//   - min_interval: "10s"
//   - max_interval: "2m"
//   - error_interval: "60s"
//   - max_concurrent: 3
//   - backoff_cap: "30m"
//   - exec_timeout: "0s" (disabled)
//   - history_size: 200
//   - bootstrap: true
type SchedulerConfig struct {
	BaseInterval  string `json:"base_interval,omitempty"`
	MinInterval   string `json:"min_interval,omitempty"`
	MaxInterval   string `json:"max_interval,omitempty"`
	ErrorInterval string `json:"error_interval,omitempty"`

	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	BackoffCap    string `json:"backoff_cap,omitempty"`

	// ExecTimeout bounds a single hook call. "0s" leaves hooks unbounded.
	ExecTimeout string `json:"exec_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`

	// Bootstrap seeds the fixed base tasks on start. Pointer so an explicit
	// false can be told apart from "omitted".
	Bootstrap *bool `json:"bootstrap,omitempty"`

	// Timezone used to evaluate task time windows. Defaults to local.
	Timezone string `json:"timezone,omitempty"`
}

type DecisionConfig struct {
	// MinConfidence drops recommendations below it. Default 0.6.
	MinConfidence float64 `json:"min_confidence,omitempty"`
	// DisabledRules lists rule names to skip (see decision.RuleNames).
	DisabledRules []string `json:"disabled_rules,omitempty"`
}

type CleanupConfig struct {
	MinSamples     int     `json:"min_samples,omitempty"`      // default 5
	MaxFailureRate float64 `json:"max_failure_rate,omitempty"` // default 0.8
}

// PersistenceConfig controls registry snapshots.
//
// Example:
//
//	"persistence": { "key": "orchestrator:state", "ttl": "1h" }
type PersistenceConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true when storage is configured
	Key     string `json:"key,omitempty"`
	TTL     string `json:"ttl,omitempty"`
	Restore *bool  `json:"restore,omitempty"` // default true
}

// StorageConfig selects the key-value backend.
//
// Driver values: "memory", "file", "sqlite", "redis". Empty or "none" disables storage.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	Addr     string `json:"addr,omitempty"` // redis
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`

	// RunsMax bounds the run journal (redis list / sqlite rows). 0 = default.
	RunsMax int `json:"runs_max,omitempty"`
}

type OracleConfig struct {
	// Mode is "simulated" (default) or "host".
	Mode     string `json:"mode,omitempty"`
	Seed     uint64 `json:"seed,omitempty"`
	DiskPath string `json:"disk_path,omitempty"`
	// CPUSample is the window used to measure cpu percent. Default "200ms".
	CPUSample string `json:"cpu_sample,omitempty"`
}

type HooksConfig struct {
	Simulated SimulatedHookConfig `json:"simulated"`
	Health    HealthHookConfig    `json:"health"`
}

type SimulatedHookConfig struct {
	MinDuration string  `json:"min_duration,omitempty"` // default "100ms"
	MaxDuration string  `json:"max_duration,omitempty"` // default "2s"
	FailureRate float64 `json:"failure_rate,omitempty"`
}

type HealthHookConfig struct {
	MaxMemoryPct   float64 `json:"max_memory_pct,omitempty"` // default 95
	LatencyCheck   bool    `json:"latency_check,omitempty"`
	LatencyTimeout string  `json:"latency_timeout,omitempty"` // default "10s"
}

type TracingConfig struct {
	// Exporter is "none" (default), "stdout" or "otlphttp".
	Exporter    string  `json:"exporter,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
}

type TasksConfig struct {
	Definitions []TaskDefinitionConfig `json:"definitions,omitempty"`
}

// TaskDefinitionConfig describes readiness gates for a task id or a whole category.
//
// Windows are cron specs; a window "matches" when the current minute is one of
// its fire times, e.g. "* 9-16 * * MON-FRI".
type TaskDefinitionConfig struct {
	ID               string   `json:"id,omitempty"`
	Category         string   `json:"category"`
	Priority         string   `json:"priority,omitempty"`
	FrequencyMinutes int      `json:"frequency_minutes,omitempty"`
	Conditions       []string `json:"conditions,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
	Cooldown         string   `json:"cooldown,omitempty"`
	PreferredWindows []string `json:"preferred_windows,omitempty"`
	AvoidWindows     []string `json:"avoid_windows,omitempty"`
}
