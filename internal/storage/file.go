package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "adaptived/pkg/logx"
)

// fileStore keeps each key in its own JSON envelope next to the configured path.
//
// Files:
//   - <prefix>.<key>.json  (envelope, replaced via tmp+rename)
//   - <prefix>.runs.jsonl  (append-only run journal, compacted to RunsMax)
type fileStore struct {
	log    logx.Logger
	prefix string
	max    int
	now    func() time.Time

	mu       sync.Mutex
	runsFile *os.File
	runsPath string
	runLines int
}

type envelope struct {
	Key       string          `json:"key"`
	WrittenAt time.Time       `json:"written_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Raw       []byte          `json:"raw,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	lines, err := countLines(runsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:      log,
		prefix:   prefix,
		max:      cfg.runsMax(),
		now:      time.Now,
		runsFile: rf,
		runsPath: runsPath,
		runLines: lines,
	}, nil
}

func (s *fileStore) keyPath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return s.prefix + "." + b.String() + ".json"
}

func (s *fileStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	env := envelope{Key: key, WrittenAt: now.UTC()}
	if at := expiry(now, ttl); !at.IsZero() {
		at = at.UTC()
		env.ExpiresAt = &at
	}
	// Keep JSON values readable on disk.
	if json.Valid(value) {
		env.Data = json.RawMessage(value)
	} else {
		env.Raw = value
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrDisabled
	}
	return writeAtomic(s.keyPath(key), b)
}

func (s *fileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	closed := s.runsFile == nil
	s.mu.Unlock()
	if closed {
		return nil, false, ErrDisabled
	}

	b, err := os.ReadFile(s.keyPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, false, err
	}
	if env.ExpiresAt != nil && expired(s.now(), *env.ExpiresAt) {
		return nil, false, nil
	}
	if env.Data != nil {
		var buf bytes.Buffer
		if err := json.Compact(&buf, env.Data); err != nil {
			return nil, false, err
		}
		return buf.Bytes(), true, nil
	}
	return env.Raw, true, nil
}

func (s *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrDisabled
	}
	if _, err := s.runsFile.Write(append(b, '\n')); err != nil {
		return err
	}
	s.runLines++
	if s.runLines >= 2*s.max {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("run journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Runs(_ context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil, ErrDisabled
	}
	runs, err := readRuns(s.runsPath)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.max
	}
	return tail(runs, limit), nil
}

// compactLocked rewrites the journal keeping the newest max records.
func (s *fileStore) compactLocked() error {
	runs, err := readRuns(s.runsPath)
	if err != nil {
		return err
	}
	runs = tail(runs, s.max)

	var buf []byte
	for _, r := range runs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		buf = append(append(buf, b...), '\n')
	}
	if err := writeAtomic(s.runsPath, buf); err != nil {
		return err
	}
	_ = s.runsFile.Close()
	f, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.runsFile = nil
		return err
	}
	s.runsFile = f
	s.runLines = len(runs)
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil
	}
	err := s.runsFile.Close()
	s.runsFile = nil
	return err
}

func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readRuns(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		// A torn trailing line after a crash is skipped.
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
