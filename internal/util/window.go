package util

import (
	"fmt"
	"time"
)

const clockLayout = "15:04"

// Window is a daily time-of-day range. Either bound may be unset; the zero
// Window accepts every instant.
type Window struct {
	start, end int // minutes after midnight, -1 when unset
	loc        *time.Location
}

// ParseWindow reads HH:MM bounds in tz. An empty tz keeps the location of the
// instant passed to Contains.
func ParseWindow(start, end, tz string) (Window, error) {
	w := Window{start: -1, end: -1}
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Window{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		w.loc = loc
	}
	var err error
	if w.start, err = minuteOfDay(start); err != nil {
		return Window{}, fmt.Errorf("invalid window start: %w", err)
	}
	if w.end, err = minuteOfDay(end); err != nil {
		return Window{}, fmt.Errorf("invalid window end: %w", err)
	}
	return w, nil
}

func minuteOfDay(v string) (int, error) {
	if v == "" {
		return -1, nil
	}
	t, err := time.Parse(clockLayout, v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Unrestricted reports whether neither bound is set.
func (w Window) Unrestricted() bool {
	return w.start < 0 && w.end < 0
}

// Contains reports whether now falls inside the window, bounds inclusive at
// minute resolution. A start later than the end wraps past midnight.
func (w Window) Contains(now time.Time) bool {
	if w.loc != nil {
		now = now.In(w.loc)
	}
	m := now.Hour()*60 + now.Minute()
	switch {
	case w.Unrestricted():
		return true
	case w.end < 0:
		return m >= w.start
	case w.start < 0:
		return m <= w.end
	case w.end > w.start:
		return m >= w.start && m <= w.end
	default:
		return m >= w.start || m <= w.end
	}
}

func (w Window) String() string {
	if w.Unrestricted() {
		return "any time"
	}
	bound := func(m int) string {
		if m < 0 {
			return "--:--"
		}
		return fmt.Sprintf("%02d:%02d", m/60, m%60)
	}
	s := bound(w.start) + "-" + bound(w.end)
	if w.loc != nil {
		s += " " + w.loc.String()
	}
	return s
}
