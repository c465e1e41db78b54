package model

import "time"

type MedicationSchedule struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	Name           string     `json:"name"`
	Dosage         string     `json:"dosage"`
	Kind           string     `json:"kind"`
	RecurrenceRule string     `json:"recurrence_rule"`
	Times          []string   `json:"times"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	FoodRelation   string     `json:"food_relation"`
	FoodOffsetMin  int        `json:"food_offset_min"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Food relation values. Empty means no food annotation.
const (
	FoodBefore = "before"
	FoodAfter  = "after"
	FoodWith   = "with"
)
