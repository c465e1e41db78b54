package model

import "time"

// SnoozeChoice records one snooze interval a user actually picked for a
// medication. The advisor biases future recommendations toward this history.
type SnoozeChoice struct {
	ID           int64     `json:"id"`
	MedicationID int64     `json:"medication_id"`
	UserID       int64     `json:"user_id"`
	Minutes      int       `json:"minutes"`
	ChosenAt     time.Time `json:"chosen_at"`
}
