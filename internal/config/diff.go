package config

import (
	"reflect"
	"sort"
	"strings"

	logx "adaptived/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (storage.password) are never logged.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.base_interval", strings.TrimSpace(s.BaseInterval)),
			logx.Int("scheduler.max_concurrent", s.MaxConcurrent),
			logx.String("scheduler.backoff_cap", strings.TrimSpace(s.BackoffCap)),
			logx.String("scheduler.exec_timeout", strings.TrimSpace(s.ExecTimeout)),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Decision, newCfg.Decision) {
		changed = append(changed, "decision")
		attrs = append(attrs,
			logx.Float64("decision.min_confidence", newCfg.Decision.MinConfidence),
			logx.Strings("decision.disabled_rules", newCfg.Decision.DisabledRules),
		)
	}

	if oldCfg.Cleanup != newCfg.Cleanup {
		changed = append(changed, "cleanup")
		attrs = append(attrs,
			logx.Int("cleanup.min_samples", newCfg.Cleanup.MinSamples),
			logx.Float64("cleanup.max_failure_rate", newCfg.Cleanup.MaxFailureRate),
		)
	}

	if !reflect.DeepEqual(oldCfg.Persistence, newCfg.Persistence) {
		changed = append(changed, "persistence")
		attrs = append(attrs,
			logx.String("persistence.key", strings.TrimSpace(newCfg.Persistence.Key)),
			logx.String("persistence.ttl", strings.TrimSpace(newCfg.Persistence.TTL)),
		)
	}

	// Nil storage means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.addr", strings.TrimSpace(nS.Addr)),
			logx.Bool("storage.password_set", nS.Password != ""),
		)
	}

	if oldCfg.Oracle != newCfg.Oracle {
		changed = append(changed, "oracle")
		attrs = append(attrs, logx.String("oracle.mode", newCfg.Oracle.Mode))
	}

	if oldCfg.Hooks != newCfg.Hooks {
		changed = append(changed, "hooks")
		attrs = append(attrs,
			logx.Float64("hooks.simulated.failure_rate", newCfg.Hooks.Simulated.FailureRate),
			logx.Bool("hooks.health.latency_check", newCfg.Hooks.Health.LatencyCheck),
		)
	}

	if oldCfg.Tracing != newCfg.Tracing {
		changed = append(changed, "tracing")
		attrs = append(attrs,
			logx.String("tracing.exporter", newCfg.Tracing.Exporter),
			logx.Float64("tracing.sample_ratio", newCfg.Tracing.SampleRatio),
		)
	}

	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		changed = append(changed, "tasks")
		attrs = append(attrs, logx.Int("tasks.definitions", len(newCfg.Tasks.Definitions)))
	}

	sort.Strings(changed)
	return changed, attrs
}
