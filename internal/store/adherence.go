package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

type AdherenceStore struct {
	db *sql.DB
}

func NewAdherenceStore(db *sql.DB) *AdherenceStore {
	return &AdherenceStore{db: db}
}

const adherenceCols = `id, medication_id, user_id, scheduled_at, actual_at, status, created_at`

func scanAdherenceLog(scanner interface{ Scan(...any) error }) (*model.AdherenceLog, error) {
	var l model.AdherenceLog
	err := scanner.Scan(&l.ID, &l.MedicationID, &l.UserID, &l.ScheduledAt, &l.ActualAt, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Append writes the terminal log for one occurrence. The unique index on
// (medication_id, scheduled_at) rejects a second terminal for the same
// occurrence; that surfaces as ErrDuplicateTerminal.
func (s *AdherenceStore) Append(ctx context.Context, log model.AdherenceLog) error {
	if !model.ValidStatus(log.Status) {
		return fmt.Errorf("invalid adherence status: %q", log.Status)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO adherence_logs (id, medication_id, user_id, scheduled_at, actual_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, log.MedicationID, log.UserID,
		log.ScheduledAt.UTC(), log.ActualAt.UTC(), log.Status,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateTerminal
		}
		return fmt.Errorf("append adherence log: %w", err)
	}
	return nil
}

func (s *AdherenceStore) HasTerminal(medicationID int64, scheduledAt time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM adherence_logs WHERE medication_id = ? AND scheduled_at = ?`,
		medicationID, scheduledAt.UTC(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check terminal log: %w", err)
	}
	return count > 0, nil
}

func (s *AdherenceStore) ListByUser(userID int64, from, to time.Time) ([]model.AdherenceLog, error) {
	rows, err := s.db.Query(
		`SELECT `+adherenceCols+` FROM adherence_logs
		 WHERE user_id = ? AND scheduled_at >= ? AND scheduled_at < ?
		 ORDER BY scheduled_at ASC`,
		userID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list adherence logs: %w", err)
	}
	defer rows.Close()

	var logs []model.AdherenceLog
	for rows.Next() {
		l, err := scanAdherenceLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adherence log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}
