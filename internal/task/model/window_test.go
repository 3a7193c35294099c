package model

import (
	"testing"
	"time"
)

func TestWindowMatchesMinute(t *testing.T) {
	t.Parallel()

	w, err := ParseWindow("* 9-16 * * MON-FRI")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"weekday open", time.Date(2024, 3, 4, 9, 30, 45, 0, time.UTC), true},
		{"weekday close edge", time.Date(2024, 3, 4, 16, 59, 0, 0, time.UTC), true},
		{"weekday after close", time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC), false},
		{"saturday", time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Matches(tt.at); got != tt.want {
				t.Fatalf("Matches(%s)=%v want %v", tt.at, got, tt.want)
			}
		})
	}

	hourly, err := ParseWindow("@hourly")
	if err != nil {
		t.Fatalf("parse descriptor: %v", err)
	}
	if !hourly.Matches(time.Date(2024, 1, 1, 5, 0, 30, 0, time.UTC)) || hourly.Matches(time.Date(2024, 1, 1, 5, 1, 0, 0, time.UTC)) {
		t.Fatalf("hourly window mismatch")
	}
	if !AnyMatch([]Window{w, hourly}, time.Date(2024, 3, 9, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("AnyMatch should pick hourly")
	}
}

func TestParseWindowsRejectsBadSpec(t *testing.T) {
	t.Parallel()

	if _, err := ParseWindows([]string{"* * * * *", "61 * * * *"}); err == nil {
		t.Fatalf("expected error")
	}
	if ws, err := ParseWindows(nil); err != nil || ws != nil {
		t.Fatalf("nil specs: %v %v", ws, err)
	}
	if _, err := ParseWindow("  "); err == nil {
		t.Fatalf("empty spec should fail")
	}
}
