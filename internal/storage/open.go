package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "adaptived/pkg/logx"
)

// Store is the persistence API used by the scheduler and the run journal.
//
// Get reports ok=false for missing or expired keys. A ttl <= 0 on Put means
// the key never expires. Runs returns up to limit records, oldest first.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	AppendRun(ctx context.Context, r RunRecord) error
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.Component("storage").With(logx.String("driver", driver))

	switch driver {
	case "memory":
		return NewMemory(cfg.runsMax()), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, at time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}

func tail[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		in = in[len(in)-limit:]
	}
	return append([]T(nil), in...)
}
