package util

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func TestWindowContains(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		hour, min  int
		want       bool
	}{
		{name: "unrestricted", hour: 13, want: true},
		{name: "inside", start: "01:00", end: "05:00", hour: 2, want: true},
		{name: "end inclusive", start: "01:00", end: "05:00", hour: 5, want: true},
		{name: "after end", start: "01:00", end: "05:00", hour: 5, min: 1},
		{name: "wraps midnight", start: "23:00", end: "02:00", hour: 1, want: true},
		{name: "outside wrap", start: "23:00", end: "02:00", hour: 12},
		{name: "start only", start: "20:00", hour: 21, want: true},
		{name: "end only", end: "06:00", hour: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow(tt.start, tt.end, "UTC")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			now := time.Date(2026, 3, 14, tt.hour, tt.min, 30, 0, time.UTC)
			if got := w.Contains(now); got != tt.want {
				t.Fatalf("Contains(%s) in %s = %v, want %v", now.Format(clockLayout), w, got, tt.want)
			}
		})
	}
}

func TestWindowUsesTimezone(t *testing.T) {
	w, err := ParseWindow("01:00", "03:00", "Australia/Brisbane")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 16:30 UTC is 02:30 in Brisbane (UTC+10, no daylight saving).
	if !w.Contains(time.Date(2026, 3, 14, 16, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected %s to contain 16:30 UTC", w)
	}
}

func TestParseWindowRejects(t *testing.T) {
	if _, err := ParseWindow("25:00", "", ""); err == nil {
		t.Fatalf("expected invalid start to fail")
	}
	if _, err := ParseWindow("", "", "Mars/Olympus"); err == nil {
		t.Fatalf("expected invalid timezone to fail")
	}
}
