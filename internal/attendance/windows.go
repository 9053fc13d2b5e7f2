// Package attendance implements the per-identity per-day attendance state
// machine: check-in/check-out progression, window rules, duplicate
// suppression, and the atomic record transitions behind them.
package attendance

import (
	"fmt"
	"time"

	"github.com/veritime/facegate/internal/config"
)

// Window is a parsed attendance window. Start and End are seconds since
// local midnight; Grace widens the window on both sides.
type Window struct {
	Name  string
	Start int
	End   int
	Grace time.Duration
}

// Schedule is the set of configured attendance windows.
type Schedule []Window

// parseTimeOfDay parses "HH:MM" into seconds since midnight.
func parseTimeOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// ParseSchedule converts window configuration into a Schedule.
func ParseSchedule(cfgs []config.WindowConfig) (Schedule, error) {
	schedule := make(Schedule, 0, len(cfgs))
	for _, wc := range cfgs {
		start, err := parseTimeOfDay(wc.Start)
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", wc.Name, err)
		}
		end, err := parseTimeOfDay(wc.End)
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", wc.Name, err)
		}
		if end <= start {
			return nil, fmt.Errorf("window %q: end %s not after start %s", wc.Name, wc.End, wc.Start)
		}
		schedule = append(schedule, Window{
			Name:  wc.Name,
			Start: start,
			End:   end,
			Grace: time.Duration(wc.GraceMinutes) * time.Minute,
		})
	}
	return schedule, nil
}

// secondsOfDay returns the seconds since local midnight for t.
func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// Contains reports whether t falls inside the window widened by grace.
func (w Window) Contains(t time.Time) bool {
	sec := secondsOfDay(t)
	grace := int(w.Grace.Seconds())
	return sec >= w.Start-grace && sec <= w.End+grace
}

// WindowFor returns the first window containing t, or nil when the
// timestamp falls outside every configured window.
func (s Schedule) WindowFor(t time.Time) *Window {
	for i := range s {
		if s[i].Contains(t) {
			return &s[i]
		}
	}
	return nil
}
