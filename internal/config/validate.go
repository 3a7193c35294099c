package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"adaptived/internal/task/decision"
	"adaptived/internal/task/model"
)

// Validate checks a decoded config before it is committed or applied.
// It is fast and has no side effects.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when logging.file.enabled")
	}

	if err := validateScheduler(cfg.Scheduler); err != nil {
		return err
	}
	if err := validateDecision(cfg.Decision); err != nil {
		return err
	}
	if cfg.Cleanup.MinSamples < 0 {
		return fmt.Errorf("cleanup.min_samples must be >= 0")
	}
	if r := cfg.Cleanup.MaxFailureRate; r < 0 || r > 1 {
		return fmt.Errorf("cleanup.max_failure_rate must be within [0,1]")
	}
	if _, err := ParseDurationField("persistence.ttl", cfg.Persistence.TTL); err != nil {
		return err
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}
	if err := validateOracle(cfg.Oracle); err != nil {
		return err
	}
	if err := validateHooks(cfg.Hooks); err != nil {
		return err
	}
	if err := validateTracing(cfg.Tracing); err != nil {
		return err
	}
	return validateDefinitions(cfg.Tasks.Definitions)
}

func validateScheduler(s SchedulerConfig) error {
	var minI, maxI time.Duration
	err := ParseDurations(
		DurationField{Path: "scheduler.base_interval", Raw: s.BaseInterval},
		DurationField{Path: "scheduler.min_interval", Raw: s.MinInterval, Dst: &minI},
		DurationField{Path: "scheduler.max_interval", Raw: s.MaxInterval, Dst: &maxI},
		DurationField{Path: "scheduler.error_interval", Raw: s.ErrorInterval},
		DurationField{Path: "scheduler.backoff_cap", Raw: s.BackoffCap},
		DurationField{Path: "scheduler.exec_timeout", Raw: s.ExecTimeout},
	)
	if err != nil {
		return err
	}
	if minI > 0 && maxI > 0 && minI > maxI {
		return fmt.Errorf("scheduler.min_interval (%s) exceeds scheduler.max_interval (%s)", minI, maxI)
	}
	if s.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent must be >= 0")
	}
	if s.HistorySize < 0 {
		return fmt.Errorf("scheduler.history_size must be >= 0")
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}

func validateDecision(d DecisionConfig) error {
	if d.MinConfidence < 0 || d.MinConfidence > 1 {
		return fmt.Errorf("decision.min_confidence must be within [0,1]")
	}
	known := decision.RuleNames()
	for _, name := range d.DisabledRules {
		if !slices.Contains(known, strings.TrimSpace(name)) {
			return fmt.Errorf("decision.disabled_rules: unknown rule %q (known: %s)", name, strings.Join(known, ", "))
		}
	}
	return nil
}

func validateStorage(s *StorageConfig) error {
	if s == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", s.Driver)
		}
	case "redis":
		if strings.TrimSpace(s.Addr) == "" {
			return fmt.Errorf("storage.addr is required for driver redis")
		}
	default:
		return fmt.Errorf("storage.driver: unsupported %q (use memory, file, sqlite or redis)", s.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
		return err
	}
	if s.DB < 0 || s.RunsMax < 0 {
		return fmt.Errorf("storage.db and storage.runs_max must be >= 0")
	}
	return nil
}

func validateOracle(o OracleConfig) error {
	switch strings.ToLower(strings.TrimSpace(o.Mode)) {
	case "", "simulated", "host":
	default:
		return fmt.Errorf("oracle.mode: unsupported %q (use simulated or host)", o.Mode)
	}
	_, err := ParseDurationField("oracle.cpu_sample", o.CPUSample)
	return err
}

func validateHooks(h HooksConfig) error {
	minD, err := ParseDurationField("hooks.simulated.min_duration", h.Simulated.MinDuration)
	if err != nil {
		return err
	}
	maxD, err := ParseDurationField("hooks.simulated.max_duration", h.Simulated.MaxDuration)
	if err != nil {
		return err
	}
	if minD > 0 && maxD > 0 && minD > maxD {
		return fmt.Errorf("hooks.simulated.min_duration exceeds max_duration")
	}
	if r := h.Simulated.FailureRate; r < 0 || r > 1 {
		return fmt.Errorf("hooks.simulated.failure_rate must be within [0,1]")
	}
	if p := h.Health.MaxMemoryPct; p < 0 || p > 100 {
		return fmt.Errorf("hooks.health.max_memory_pct must be within [0,100]")
	}
	_, err = ParseDurationField("hooks.health.latency_timeout", h.Health.LatencyTimeout)
	return err
}

func validateTracing(t TracingConfig) error {
	switch strings.ToLower(strings.TrimSpace(t.Exporter)) {
	case "", "none", "stdout":
	case "otlphttp", "otlp":
		if strings.TrimSpace(t.Endpoint) == "" {
			return fmt.Errorf("tracing.endpoint is required for exporter %q", t.Exporter)
		}
	default:
		return fmt.Errorf("tracing.exporter: unsupported %q (use none, stdout or otlphttp)", t.Exporter)
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	return nil
}

func validateDefinitions(defs []TaskDefinitionConfig) error {
	seen := map[string]struct{}{}
	for i, d := range defs {
		if _, err := BuildDefinition(d); err != nil {
			return fmt.Errorf("tasks.definitions[%d]: %w", i, err)
		}
		key := strings.TrimSpace(d.ID)
		if key == "" {
			key = "category:" + strings.TrimSpace(d.Category)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("tasks.definitions[%d]: duplicate definition for %s", i, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// BuildDefinition converts a definition entry into its runtime form.
func BuildDefinition(d TaskDefinitionConfig) (model.Definition, error) {
	cat, err := model.ParseCategory(d.Category)
	if err != nil {
		return model.Definition{}, err
	}
	out := model.Definition{
		ID:               strings.TrimSpace(d.ID),
		Category:         cat,
		FrequencyMinutes: d.FrequencyMinutes,
		Dependencies:     d.Dependencies,
	}
	if d.FrequencyMinutes < 0 {
		return model.Definition{}, fmt.Errorf("frequency_minutes must be >= 0")
	}
	if strings.TrimSpace(d.Priority) != "" {
		if out.Priority, err = model.ParsePriority(d.Priority); err != nil {
			return model.Definition{}, err
		}
	}
	for _, c := range d.Conditions {
		cond, err := model.ParseCondition(c)
		if err != nil {
			return model.Definition{}, err
		}
		out.Conditions = append(out.Conditions, cond)
	}
	if out.Cooldown, err = ParseDurationField("cooldown", d.Cooldown); err != nil {
		return model.Definition{}, err
	}
	if out.PreferredWindows, err = model.ParseWindows(d.PreferredWindows); err != nil {
		return model.Definition{}, fmt.Errorf("preferred_windows: %w", err)
	}
	if out.AvoidWindows, err = model.ParseWindows(d.AvoidWindows); err != nil {
		return model.Definition{}, fmt.Errorf("avoid_windows: %w", err)
	}
	return out, nil
}

// BuildDefinitions converts every entry. Call after Validate.
func BuildDefinitions(defs []TaskDefinitionConfig) ([]model.Definition, error) {
	out := make([]model.Definition, 0, len(defs))
	for i, d := range defs {
		def, err := BuildDefinition(d)
		if err != nil {
			return nil, fmt.Errorf("tasks.definitions[%d]: %w", i, err)
		}
		out = append(out, def)
	}
	return out, nil
}
