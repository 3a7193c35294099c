package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string for the config key path.
// Blank means unset (0). Negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, d)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// DurationField binds a config key to its raw value and, optionally, the
// destination of the parsed value.
type DurationField struct {
	Path string
	Raw  string
	Dst  *time.Duration
}

// ParseDurations parses every field in order and stops at the first error.
// A nil Dst only validates.
func ParseDurations(fields ...DurationField) error {
	for _, f := range fields {
		d, err := ParseDurationField(f.Path, f.Raw)
		if err != nil {
			return err
		}
		if f.Dst != nil {
			*f.Dst = d
		}
	}
	return nil
}
