package app

import (
	"strings"
	"time"

	"adaptived/internal/config"
	"adaptived/internal/hooks"
	"adaptived/internal/observability"
	"adaptived/internal/oracle"
	"adaptived/internal/task/decision"
	"adaptived/internal/task/scheduler"
	logx "adaptived/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapSchedulerConfig resolves the scheduler, cleanup, persistence and task
// definition sections. cfg must already be validated.
func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	var out scheduler.Config
	err := config.ParseDurations(
		config.DurationField{Path: "scheduler.base_interval", Raw: s.BaseInterval, Dst: &out.BaseInterval},
		config.DurationField{Path: "scheduler.min_interval", Raw: s.MinInterval, Dst: &out.MinInterval},
		config.DurationField{Path: "scheduler.max_interval", Raw: s.MaxInterval, Dst: &out.MaxInterval},
		config.DurationField{Path: "scheduler.error_interval", Raw: s.ErrorInterval, Dst: &out.ErrorInterval},
		config.DurationField{Path: "scheduler.backoff_cap", Raw: s.BackoffCap, Dst: &out.BackoffCap},
		config.DurationField{Path: "scheduler.exec_timeout", Raw: s.ExecTimeout, Dst: &out.ExecTimeout},
		config.DurationField{Path: "persistence.ttl", Raw: cfg.Persistence.TTL, Dst: &out.PersistTTL},
	)
	if err != nil {
		return scheduler.Config{}, err
	}
	out.MaxConcurrent = s.MaxConcurrent
	out.HistorySize = s.HistorySize
	out.SkipBootstrap = s.Bootstrap != nil && !*s.Bootstrap
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if out.Location, err = time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, err
		}
	}

	out.MinSamples = cfg.Cleanup.MinSamples
	out.MaxFailureRate = cfg.Cleanup.MaxFailureRate

	out.PersistKey = strings.TrimSpace(cfg.Persistence.Key)
	out.DisablePersistence = cfg.Persistence.Enabled != nil && !*cfg.Persistence.Enabled
	out.SkipRestore = cfg.Persistence.Restore != nil && !*cfg.Persistence.Restore

	if out.Definitions, err = config.BuildDefinitions(cfg.Tasks.Definitions); err != nil {
		return scheduler.Config{}, err
	}
	return out, nil
}

func mapDecisionConfig(cfg *config.Config) decision.Config {
	return decision.Config{
		MinConfidence: cfg.Decision.MinConfidence,
		DisabledRules: cfg.Decision.DisabledRules,
	}
}

func mapOracleConfig(cfg *config.Config) (oracle.Config, error) {
	sample, err := config.ParseDurationField("oracle.cpu_sample", cfg.Oracle.CPUSample)
	if err != nil {
		return oracle.Config{}, err
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Oracle.Mode))
	if mode == "" {
		mode = oracle.ModeSimulated
	}
	return oracle.Config{
		Mode:      mode,
		Seed:      cfg.Oracle.Seed,
		DiskPath:  strings.TrimSpace(cfg.Oracle.DiskPath),
		CPUSample: sample,
	}, nil
}

func mapTracingConfig(cfg *config.Config, version string) observability.Config {
	return observability.Config{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	}
}

// buildHooks registers the simulated hook for every category and the health
// hook for system_health.
func buildHooks(cfg *config.Config, seed uint64) (*hooks.Registry, error) {
	h := cfg.Hooks
	minD, err := config.ParseDurationOrDefault("hooks.simulated.min_duration", h.Simulated.MinDuration, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	maxD, err := config.ParseDurationOrDefault("hooks.simulated.max_duration", h.Simulated.MaxDuration, 2*time.Second)
	if err != nil {
		return nil, err
	}
	latencyTimeout, err := config.ParseDurationOrDefault("hooks.health.latency_timeout", h.Health.LatencyTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	reg := hooks.NewRegistry()
	sim := hooks.NewSimulated(minD, maxD, h.Simulated.FailureRate, seed)
	health := hooks.NewHealth(h.Health.MaxMemoryPct, h.Health.LatencyCheck, latencyTimeout)
	if err := hooks.RegisterDefaults(reg, sim, health); err != nil {
		return nil, err
	}
	return reg, nil
}
