package dose

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key identifies one dose occurrence: a schedule, a calendar date, and a
// time of day. Occurrences are derived from schedules each resolution cycle
// and never persisted as plan objects; the key is the only identity they have.
type Key struct {
	ScheduleID int64
	Date       string // YYYY-MM-DD
	Time       string // HH:MM
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%s", k.ScheduleID, k.Date, k.Time)
}

// ParseKey parses a key in "scheduleID:date:time" form, e.g.
// "12:2026-03-01:09:00".
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("invalid occurrence key: %q", s)
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("invalid schedule id in key %q", s)
	}
	if _, err := time.Parse("2006-01-02", parts[1]); err != nil {
		return Key{}, fmt.Errorf("invalid date in key %q", s)
	}
	if _, err := time.Parse("15:04", parts[2]); err != nil {
		return Key{}, fmt.Errorf("invalid time in key %q", s)
	}

	return Key{ScheduleID: id, Date: parts[1], Time: parts[2]}, nil
}

// Occurrence is one concrete "take medicine X at time T on date D" instance,
// carrying the schedule facts the escalation side needs to phrase reminders.
type Occurrence struct {
	Key            Key
	UserID         int64
	MedicationID   int64
	MedicationName string
	Dosage         string
	Kind           string
	ScheduledAt    time.Time
}
