package helper

import (
	"fmt"
	"strings"
	"time"
)

// ParseClock разбирает "HH:MM" в смещение от полуночи.
func ParseClock(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", raw, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Window: торговое окно в пределах суток. Нулевое значение открыто всегда.
type Window struct {
	Start, End time.Duration
	set        bool
}

// ParseWindow: если обе границы пустые, окно без ограничений.
func ParseWindow(start, end string) (Window, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return Window{}, nil
	}
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e, set: true}, nil
}

func (w Window) Always() bool { return !w.set }

// Contains: [Start, End); окно через полночь (22:00-02:00) тоже работает.
func (w Window) Contains(t time.Time) bool {
	if !w.set || w.Start == w.End {
		return true
	}
	off := SinceMidnight(t)
	if w.Start < w.End {
		return off >= w.Start && off < w.End
	}
	return off >= w.Start || off < w.End
}

func (w Window) String() string {
	if !w.set {
		return "always"
	}
	return fmt.Sprintf("%s-%s", clock(w.Start), clock(w.End))
}

func SinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
