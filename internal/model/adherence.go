package model

import "time"

// Adherence outcome statuses. Logs are append-only; exactly one terminal
// log is written per dose occurrence.
const (
	StatusTaken    = "taken"
	StatusSkipped  = "skipped"
	StatusMissed   = "missed"
	StatusStockOut = "stock_out"
	StatusMuted    = "muted"
)

type AdherenceLog struct {
	ID           string    `json:"id"`
	MedicationID int64     `json:"medication_id"`
	UserID       int64     `json:"user_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	ActualAt     time.Time `json:"actual_at"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidStatus reports whether s is one of the adherence outcome statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusTaken, StatusSkipped, StatusMissed, StatusStockOut, StatusMuted:
		return true
	}
	return false
}
