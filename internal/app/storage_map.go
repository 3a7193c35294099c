package app

import (
	"fmt"
	"strings"
	"time"

	"adaptived/internal/config"
	"adaptived/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	out := storage.Config{
		Driver:  driver,
		Path:    strings.TrimSpace(sc.Path),
		RunsMax: sc.RunsMax,
	}
	switch driver {
	case "memory", "file":
	case "sqlite", "sqlite3":
		out.Driver = "sqlite"
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	case "redis":
		out.Addr = strings.TrimSpace(sc.Addr)
		out.Password = sc.Password
		out.DB = sc.DB
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, true, nil
}
