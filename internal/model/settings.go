package model

import "time"

// ReminderSettings controls the escalation timeline for a user's doses.
// All values are minutes and must be positive.
type ReminderSettings struct {
	InitialDuration  int `json:"initial_duration"`
	SecondAlertDelay int `json:"second_alert_delay"`
	FamilyAlertDelay int `json:"family_alert_delay"`
}

// DefaultReminderSettings are applied when a user has no stored overrides.
func DefaultReminderSettings() ReminderSettings {
	return ReminderSettings{
		InitialDuration:  1,
		SecondAlertDelay: 3,
		FamilyAlertDelay: 10,
	}
}

func (s ReminderSettings) Initial() time.Duration {
	return time.Duration(s.InitialDuration) * time.Minute
}

func (s ReminderSettings) Repeat() time.Duration {
	return time.Duration(s.SecondAlertDelay) * time.Minute
}

func (s ReminderSettings) FamilyDeadline() time.Duration {
	return time.Duration(s.FamilyAlertDelay) * time.Minute
}
