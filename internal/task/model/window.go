package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var windowParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Window is a cron spec read as a set of minutes.
type Window struct {
	Spec  string
	sched cron.Schedule
}

// ParseWindow parses a standard 5-field cron spec or a descriptor (@daily).
func ParseWindow(spec string) (Window, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Window{}, fmt.Errorf("empty window")
	}
	sched, err := windowParser.Parse(spec)
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", spec, err)
	}
	return Window{Spec: spec, sched: sched}, nil
}

// ParseWindows parses every spec, failing on the first bad one.
func ParseWindows(specs []string) ([]Window, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]Window, 0, len(specs))
	for _, s := range specs {
		w, err := ParseWindow(s)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Matches reports whether the minute containing t is a fire time of the spec.
// t is evaluated in its own location.
func (w Window) Matches(t time.Time) bool {
	if w.sched == nil {
		return false
	}
	minute := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	return w.sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// AnyMatch reports whether any window matches t.
func AnyMatch(ws []Window, t time.Time) bool {
	for _, w := range ws {
		if w.Matches(t) {
			return true
		}
	}
	return false
}
