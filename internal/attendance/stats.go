package attendance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/veritime/facegate/internal/store"
)

// DailyRecord summarizes one day in a monthly report.
type DailyRecord struct {
	Day       string     `json:"day"`
	CheckIn   *time.Time `json:"check_in,omitempty"`
	CheckOut  *time.Time `json:"check_out,omitempty"`
	WorkedMin int        `json:"worked_minutes"`
	Status    string     `json:"status"` // present, late, absent
}

// MonthlyStats aggregates an identity's attendance for one month.
// Weekends are excluded from the working-day count.
type MonthlyStats struct {
	Year             int           `json:"year"`
	Month            int           `json:"month"`
	WorkingDays      int           `json:"working_days"`
	PresentDays      int           `json:"present_days"`
	AbsentDays       int           `json:"absent_days"`
	LateDays         int           `json:"late_days"`
	TotalWorkHours   float64       `json:"total_work_hours"`
	AverageWorkHours float64       `json:"average_work_hours"`
	Daily            []DailyRecord `json:"daily"`
}

// round2 rounds to two decimal places for report output.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// MonthlyReport computes attendance statistics for an identity and month.
// A check-in after the earliest window start plus grace counts as late.
func (t *Tracker) MonthlyReport(ctx context.Context, identityID string, year, month int) (*MonthlyStats, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month %d", month)
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, t.loc)
	last := first.AddDate(0, 1, -1)

	records, err := t.records.ListRange(ctx, identityID, store.DayKey(first, t.loc), store.DayKey(last, t.loc))
	if err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}

	byDay := make(map[string]*store.AttendanceRecord, len(records))
	for i := range records {
		byDay[records[i].Day] = &records[i]
	}

	lateCutoff := t.lateCutoffSeconds()
	stats := &MonthlyStats{Year: year, Month: month}
	today := store.DayKey(t.now(), t.loc)

	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		day := store.DayKey(d, t.loc)
		if day > today {
			break
		}
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		stats.WorkingDays++

		rec, present := byDay[day]
		daily := DailyRecord{Day: day, Status: "absent"}
		if present {
			stats.PresentDays++
			daily.Status = "present"
			checkIn := rec.CheckIn.In(t.loc)
			daily.CheckIn = &checkIn
			if secondsOfDay(checkIn) > lateCutoff {
				stats.LateDays++
				daily.Status = "late"
			}
			if rec.CheckOut != nil {
				checkOut := rec.CheckOut.In(t.loc)
				daily.CheckOut = &checkOut
				worked := checkOut.Sub(checkIn)
				daily.WorkedMin = int(worked.Minutes())
				stats.TotalWorkHours += worked.Hours()
			}
		}
		stats.Daily = append(stats.Daily, daily)
	}

	stats.AbsentDays = stats.WorkingDays - stats.PresentDays
	if stats.PresentDays > 0 {
		stats.AverageWorkHours = round2(stats.TotalWorkHours / float64(stats.PresentDays))
	}
	stats.TotalWorkHours = round2(stats.TotalWorkHours)
	return stats, nil
}

// lateCutoffSeconds returns the earliest window start plus its grace, the
// point after which a check-in counts as late.
func (t *Tracker) lateCutoffSeconds() int {
	cutoff := 24 * 3600
	for _, w := range t.schedule {
		c := w.Start + int(w.Grace.Seconds())
		if c < cutoff {
			cutoff = c
		}
	}
	return cutoff
}
