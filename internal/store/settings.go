package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

const (
	keyInitialDuration  = "reminder_initial_duration"
	keySecondAlertDelay = "reminder_second_alert_delay"
	keyFamilyAlertDelay = "reminder_family_alert_delay"
)

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(userID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(userID int64, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// ReminderSettings returns the user's escalation timing, falling back to the
// defaults for any key that is unset or unparseable.
func (s *SettingsStore) ReminderSettings(userID int64) (model.ReminderSettings, error) {
	settings := model.DefaultReminderSettings()

	rows, err := s.db.Query(
		`SELECT key, value FROM settings WHERE user_id = ? AND key IN (?, ?, ?)`,
		userID, keyInitialDuration, keySecondAlertDelay, keyFamilyAlertDelay,
	)
	if err != nil {
		return settings, fmt.Errorf("get reminder settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return settings, fmt.Errorf("scan reminder setting: %w", err)
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			continue
		}
		switch key {
		case keyInitialDuration:
			settings.InitialDuration = n
		case keySecondAlertDelay:
			settings.SecondAlertDelay = n
		case keyFamilyAlertDelay:
			settings.FamilyAlertDelay = n
		}
	}
	return settings, rows.Err()
}

func (s *SettingsStore) SetReminderSettings(userID int64, settings model.ReminderSettings) error {
	if settings.InitialDuration < 1 || settings.SecondAlertDelay < 1 || settings.FamilyAlertDelay < 1 {
		return fmt.Errorf("reminder settings must be positive minutes")
	}

	pairs := map[string]int{
		keyInitialDuration:  settings.InitialDuration,
		keySecondAlertDelay: settings.SecondAlertDelay,
		keyFamilyAlertDelay: settings.FamilyAlertDelay,
	}
	for key, value := range pairs {
		if err := s.Set(userID, key, strconv.Itoa(value)); err != nil {
			return err
		}
	}
	return nil
}
