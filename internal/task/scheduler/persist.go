package scheduler

import (
	"context"
	"time"

	"adaptived/internal/storage"
	"adaptived/internal/task/registry"
	logx "adaptived/pkg/logx"
)

const persistTimeout = 5 * time.Second

func (s *Service) persistenceEnabled(cfg Config) bool {
	return s.store != nil && !cfg.DisablePersistence
}

// persist writes the registry snapshot. Failures are logged, throttled, and
// never stop the loop.
func (s *Service) persist(ctx context.Context, cfg Config) {
	s.regMu.Lock()
	snap := s.reg.Snapshot(s.now())
	s.regMu.Unlock()

	b, err := registry.EncodeSnapshot(snap)
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, persistTimeout)
		err = s.store.Put(pctx, cfg.PersistKey, b, cfg.PersistTTL)
		cancel()
	}
	if err == nil {
		return
	}
	if s.persistWarn.Allow() {
		s.log.Warn("state persistence failed", logx.String("key", cfg.PersistKey), logx.Err(err))
		return
	}
	s.log.Debug("state persistence failed", logx.String("key", cfg.PersistKey), logx.Err(err))
}

// restoreLocked loads a snapshot written within the TTL. Errors leave the
// registry empty.
func (s *Service) restoreLocked(ctx context.Context, cfg Config, now time.Time) {
	snap, ok, err := LoadSnapshot(ctx, s.store, cfg.PersistKey)
	if err != nil {
		s.log.Warn("state restore failed", logx.String("key", cfg.PersistKey), logx.Err(err))
		return
	}
	if !ok {
		return
	}
	if age := now.Sub(snap.Timestamp); age > cfg.PersistTTL {
		s.log.Info("persisted state too old; ignored", logx.Duration("age", age))
		return
	}
	n, err := s.reg.Restore(snap)
	if err != nil {
		s.log.Warn("persisted state rejected", logx.Err(err))
		return
	}
	s.log.Info("state restored", logx.Int("tasks", n), logx.Time("written_at", snap.Timestamp))
}

// LoadSnapshot reads and decodes the snapshot stored under key.
func LoadSnapshot(ctx context.Context, st storage.Store, key string) (registry.Snapshot, bool, error) {
	if key == "" {
		key = DefaultPersistKey
	}
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	b, ok, err := st.Get(pctx, key)
	if err != nil || !ok {
		return registry.Snapshot{}, false, err
	}
	snap, err := registry.DecodeSnapshot(b)
	if err != nil {
		return registry.Snapshot{}, false, err
	}
	return snap, true, nil
}
