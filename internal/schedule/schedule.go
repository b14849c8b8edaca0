package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reportforge/internal/models"
)

// NextRun computes the next execution time for a recurrence specification.
// The result is always strictly after now.
func NextRun(s *models.Schedule, now time.Time) (time.Time, error) {
	if s == nil {
		return time.Time{}, fmt.Errorf("no schedule given")
	}

	interval := s.Interval
	if interval <= 0 {
		interval = 1
	}

	switch s.Type {
	case models.ScheduleHourly:
		return now.Add(time.Duration(interval) * time.Hour), nil

	case models.ScheduleDaily:
		next := now.AddDate(0, 0, interval)
		next, err := applyTimeOfDay(next, s.Time)
		if err != nil {
			return time.Time{}, err
		}
		if !next.After(now) {
			next = next.AddDate(0, 0, interval)
		}
		return next, nil

	case models.ScheduleWeekly:
		next := now.AddDate(0, 0, 7*interval)
		if s.DayOfWeek != nil {
			// Advance forward to land on the requested weekday.
			delta := (*s.DayOfWeek - int(next.Weekday()) + 7) % 7
			next = next.AddDate(0, 0, delta)
		}
		next, err := applyTimeOfDay(next, s.Time)
		if err != nil {
			return time.Time{}, err
		}
		if !next.After(now) {
			next = next.AddDate(0, 0, 7*interval)
		}
		return next, nil

	case models.ScheduleMonthly:
		next := addMonths(now, interval, s.DayOfMonth)
		next, err := applyTimeOfDay(next, s.Time)
		if err != nil {
			return time.Time{}, err
		}
		if !next.After(now) {
			next = addMonths(next, interval, s.DayOfMonth)
		}
		return next, nil

	case models.ScheduleCron:
		spec, err := cron.ParseStandard(s.Expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %v", s.Expression, err)
		}
		return spec.Next(now), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule type: %s", s.Type)
	}
}

// Validate checks a schedule specification without computing anything.
func Validate(s *models.Schedule) error {
	if s == nil {
		return nil
	}
	switch s.Type {
	case models.ScheduleHourly, models.ScheduleDaily, models.ScheduleWeekly, models.ScheduleMonthly:
	case models.ScheduleCron:
		if _, err := cron.ParseStandard(s.Expression); err != nil {
			return fmt.Errorf("invalid cron expression %q: %v", s.Expression, err)
		}
	default:
		return fmt.Errorf("unknown schedule type: %s", s.Type)
	}
	if s.Time != "" {
		if _, _, err := parseTimeOfDay(s.Time); err != nil {
			return err
		}
	}
	if s.DayOfWeek != nil && (*s.DayOfWeek < 0 || *s.DayOfWeek > 6) {
		return fmt.Errorf("day_of_week out of range: %d", *s.DayOfWeek)
	}
	if s.DayOfMonth != nil && (*s.DayOfMonth < 1 || *s.DayOfMonth > 31) {
		return fmt.Errorf("day_of_month out of range: %d", *s.DayOfMonth)
	}
	return nil
}

// applyTimeOfDay pins t to the "HH:MM" wall-clock time on the same date.
// An empty spec leaves t unchanged.
func applyTimeOfDay(t time.Time, spec string) (time.Time, error) {
	if spec == "" {
		return t, nil
	}
	hour, minute, err := parseTimeOfDay(spec)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location()), nil
}

func parseTimeOfDay(spec string) (hour, minute int, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", spec)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", spec)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", spec)
	}
	return hour, minute, nil
}

// addMonths advances t by the given number of calendar months, clamping the
// day to the target month's length instead of letting the date roll over.
func addMonths(t time.Time, months int, dayOfMonth *int) time.Time {
	year, month, day := t.Date()
	month += time.Month(months)
	for month > 12 {
		month -= 12
		year++
	}
	if dayOfMonth != nil {
		day = *dayOfMonth
	}
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
