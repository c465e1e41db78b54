package store

import (
	"database/sql"
	"fmt"

	"github.com/dosewell/dosewell/internal/model"
)

type SnoozeStore struct {
	db *sql.DB
}

func NewSnoozeStore(db *sql.DB) *SnoozeStore {
	return &SnoozeStore{db: db}
}

func (s *SnoozeStore) Record(c model.SnoozeChoice) error {
	_, err := s.db.Exec(
		`INSERT INTO snooze_choices (medication_id, user_id, minutes, chosen_at) VALUES (?, ?, ?, ?)`,
		c.MedicationID, c.UserID, c.Minutes, c.ChosenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record snooze choice: %w", err)
	}
	return nil
}

// PastIntervals returns the minutes of past snooze choices for a medication,
// oldest first.
func (s *SnoozeStore) PastIntervals(medicationID int64) ([]int, error) {
	rows, err := s.db.Query(
		`SELECT minutes FROM snooze_choices WHERE medication_id = ? ORDER BY chosen_at ASC`,
		medicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list snooze intervals: %w", err)
	}
	defer rows.Close()

	var intervals []int
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan snooze interval: %w", err)
		}
		intervals = append(intervals, m)
	}
	return intervals, rows.Err()
}
