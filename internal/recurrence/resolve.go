package recurrence

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

var timeOfDayRegexp = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ResolveOn expands a schedule's recurrence rule for a single calendar date
// and returns the applicable times of day ("HH:MM", sorted). It is pure: the
// same schedule and date always produce the same result.
//
// Dates outside the schedule's validity window produce nothing. A Monthly
// rule whose day does not exist in the given month (e.g. day 31 in April)
// produces nothing for that month; there is no clamping to the last day.
func ResolveOn(schedule model.MedicationSchedule, date time.Time) ([]string, error) {
	rule, err := Parse(schedule.RecurrenceRule)
	if err != nil {
		return nil, fmt.Errorf("parse rule for schedule %d: %w", schedule.ID, err)
	}

	day := startOfDay(date)
	if day.Before(startOfDay(schedule.StartDate)) {
		return nil, nil
	}
	if schedule.EndDate != nil && day.After(startOfDay(*schedule.EndDate)) {
		return nil, nil
	}

	due := false
	switch rule.Freq {
	case Daily:
		due = true
	case Weekly:
		for _, wd := range rule.ByDay {
			if day.Weekday() == wd {
				due = true
				break
			}
		}
	case Monthly:
		due = day.Day() == rule.ByMonthDay
	}
	if !due {
		return nil, nil
	}

	times := make([]string, len(schedule.Times))
	copy(times, schedule.Times)
	sort.Strings(times)
	return times, nil
}

// ValidateSchedule checks the invariants a schedule must satisfy before it
// is accepted: a parseable rule, at least one time of day, HH:MM formatting,
// no duplicate times, and a coherent validity window.
func ValidateSchedule(schedule model.MedicationSchedule) error {
	if _, err := Parse(schedule.RecurrenceRule); err != nil {
		return err
	}

	if len(schedule.Times) == 0 {
		return fmt.Errorf("schedule requires at least one time of day")
	}
	seen := make(map[string]bool, len(schedule.Times))
	for _, t := range schedule.Times {
		if !timeOfDayRegexp.MatchString(t) {
			return fmt.Errorf("invalid time of day %q: want HH:MM", t)
		}
		if seen[t] {
			return fmt.Errorf("duplicate time of day %q", t)
		}
		seen[t] = true
	}

	if schedule.EndDate != nil && schedule.EndDate.Before(schedule.StartDate) {
		return fmt.Errorf("end date before start date")
	}

	switch schedule.FoodRelation {
	case "", model.FoodBefore, model.FoodAfter, model.FoodWith:
	default:
		return fmt.Errorf("unknown food relation %q", schedule.FoodRelation)
	}

	return nil
}

// At combines a calendar date with an "HH:MM" time of day in date's location.
func At(date time.Time, timeOfDay string) (time.Time, error) {
	parsed, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time of day %q: %w", timeOfDay, err)
	}
	return time.Date(
		date.Year(), date.Month(), date.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0,
		date.Location(),
	), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
