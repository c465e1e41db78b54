package store

import (
	"database/sql"
	"fmt"

	"github.com/dosewell/dosewell/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushCols = `id, user_id, family_member_id, endpoint, p256dh_key, auth_key, device_name, created_at`

func scanPushSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var memberID sql.NullInt64

	err := scanner.Scan(&sub.ID, &sub.UserID, &memberID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if memberID.Valid {
		sub.FamilyMemberID = &memberID.Int64
	}
	return &sub, nil
}

// Save upserts by endpoint: re-subscribing a device refreshes its keys.
func (s *PushStore) Save(sub model.PushSubscription) (*model.PushSubscription, error) {
	var memberID sql.NullInt64
	if sub.FamilyMemberID != nil {
		memberID = sql.NullInt64{Int64: *sub.FamilyMemberID, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (user_id, family_member_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		sub.UserID, memberID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.DeviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("save push subscription: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+pushCols+` FROM push_subscriptions WHERE endpoint = ?`, sub.Endpoint)
	saved, err := scanPushSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("get saved subscription: %w", err)
	}
	return saved, nil
}

func (s *PushStore) ListByUser(userID int64) ([]model.PushSubscription, error) {
	return s.list(`SELECT `+pushCols+` FROM push_subscriptions WHERE user_id = ? AND family_member_id IS NULL`, userID)
}

func (s *PushStore) ListByFamilyMember(memberID int64) ([]model.PushSubscription, error) {
	return s.list(`SELECT `+pushCols+` FROM push_subscriptions WHERE family_member_id = ?`, memberID)
}

func (s *PushStore) list(query string, arg any) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanPushSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PushStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
