package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

const scheduleCols = `id, user_id, name, dosage, kind, recurrence_rule, times, start_date, end_date, food_relation, food_offset_min, created_at, updated_at`

func scanSchedule(scanner interface{ Scan(...any) error }) (*model.MedicationSchedule, error) {
	var s model.MedicationSchedule
	var times string
	var endDate sql.NullTime

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.Name, &s.Dosage, &s.Kind,
		&s.RecurrenceRule, &times, &s.StartDate, &endDate,
		&s.FoodRelation, &s.FoodOffsetMin,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if times != "" {
		s.Times = strings.Split(times, ",")
	}
	if endDate.Valid {
		s.EndDate = &endDate.Time
	}
	return &s, nil
}

func (s *ScheduleStore) Create(sched model.MedicationSchedule) (*model.MedicationSchedule, error) {
	var endDate sql.NullTime
	if sched.EndDate != nil {
		endDate = sql.NullTime{Time: *sched.EndDate, Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO medication_schedules (user_id, name, dosage, kind, recurrence_rule, times, start_date, end_date, food_relation, food_offset_min)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.UserID, sched.Name, sched.Dosage, sched.Kind, sched.RecurrenceRule,
		strings.Join(sched.Times, ","), sched.StartDate, endDate,
		sched.FoodRelation, sched.FoodOffsetMin,
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ScheduleStore) GetByID(id int64) (*model.MedicationSchedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleCols+` FROM medication_schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

func (s *ScheduleStore) ListByUser(userID int64) ([]model.MedicationSchedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleCols+` FROM medication_schedules WHERE user_id = ? ORDER BY name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.MedicationSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// UserIDs returns every user that has at least one schedule. The escalation
// engine uses it to know whose doses need a loop at startup and rollover.
func (s *ScheduleStore) UserIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT user_id FROM medication_schedules ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list schedule users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *ScheduleStore) Update(sched model.MedicationSchedule) (*model.MedicationSchedule, error) {
	var endDate sql.NullTime
	if sched.EndDate != nil {
		endDate = sql.NullTime{Time: *sched.EndDate, Valid: true}
	}

	_, err := s.db.Exec(
		`UPDATE medication_schedules
		 SET name = ?, dosage = ?, kind = ?, recurrence_rule = ?, times = ?, start_date = ?, end_date = ?, food_relation = ?, food_offset_min = ?, updated_at = ?
		 WHERE id = ?`,
		sched.Name, sched.Dosage, sched.Kind, sched.RecurrenceRule,
		strings.Join(sched.Times, ","), sched.StartDate, endDate,
		sched.FoodRelation, sched.FoodOffsetMin, time.Now().UTC(), sched.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s.GetByID(sched.ID)
}

func (s *ScheduleStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM medication_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}
