package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "adaptived/pkg/logx"
)

type redisStore struct {
	rdb     *redis.Client
	log     logx.Logger
	runsKey string
	max     int
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return newRedisStore(rdb, cfg, log), nil
}

func newRedisStore(rdb *redis.Client, cfg Config, log logx.Logger) *redisStore {
	key := strings.TrimSpace(cfg.RunsKey)
	if key == "" {
		key = DefaultRunsKey
	}
	return &redisStore{rdb: rdb, log: log, runsKey: key, max: cfg.runsMax()}
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) AppendRun(ctx context.Context, r RunRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, s.runsKey, b)
		p.LTrim(ctx, s.runsKey, int64(-s.max), -1)
		return nil
	})
	return err
}

func (s *redisStore) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = s.max
	}
	items, err := s.rdb.LRange(ctx, s.runsKey, int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(items))
	for _, it := range items {
		var r RunRecord
		if err := json.Unmarshal([]byte(it), &r); err != nil {
			s.log.Debug("skipping malformed run record", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }
