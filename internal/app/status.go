package app

import (
	"context"
	"errors"
	"fmt"

	"adaptived/internal/config"
	"adaptived/internal/storage"
	"adaptived/internal/task/scheduler"
	logx "adaptived/pkg/logx"
)

// Report is what the status command prints.
type Report struct {
	Status scheduler.Status    `json:"status"`
	Runs   []storage.RunRecord `json:"recent_runs,omitempty"`
}

// ReadStatus loads the config at cfgPath and reads the persisted snapshot
// and the newest runs from its store. It never starts the scheduler.
func ReadStatus(ctx context.Context, cfgPath string, runs int) (Report, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return Report{}, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return Report{}, err
	}
	if !enabled || sc.Driver == "memory" {
		return Report{}, errors.New("status needs a persistent storage driver (file, sqlite or redis)")
	}
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return Report{}, err
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return Report{}, err
	}
	defer st.Close()

	var rep Report
	snap, ok, err := scheduler.LoadSnapshot(ctx, st, scfg.PersistKey)
	if err != nil {
		return Report{}, fmt.Errorf("read snapshot: %w", err)
	}
	if ok {
		if rep.Status, err = scheduler.StatusFromSnapshot(snap); err != nil {
			return Report{}, err
		}
	}
	if runs > 0 {
		if rep.Runs, err = st.Runs(ctx, runs); err != nil {
			return Report{}, fmt.Errorf("read runs: %w", err)
		}
	}
	return rep, nil
}

// CheckConfig loads and validates the config file and resolves every
// section the way run would.
func CheckConfig(cfgPath string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return nil, err
	}
	if _, err := mapOracleConfig(cfg); err != nil {
		return nil, err
	}
	if _, err := buildHooks(cfg, 0); err != nil {
		return nil, err
	}
	return cfg, nil
}
