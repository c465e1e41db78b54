package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

// SQLStorage is the durable Storage implementation, composed from the
// per-entity SQLite stores.
type SQLStorage struct {
	Schedules *ScheduleStore
	Adherence *AdherenceStore
	Snoozes   *SnoozeStore
	Family    *FamilyMemberStore
	Settings  *SettingsStore
	Push      *PushStore
}

var _ Storage = (*SQLStorage)(nil)

func NewSQLStorage(db *sql.DB) *SQLStorage {
	return &SQLStorage{
		Schedules: NewScheduleStore(db),
		Adherence: NewAdherenceStore(db),
		Snoozes:   NewSnoozeStore(db),
		Family:    NewFamilyMemberStore(db),
		Settings:  NewSettingsStore(db),
		Push:      NewPushStore(db),
	}
}

func (s *SQLStorage) CreateSchedule(sched model.MedicationSchedule) (*model.MedicationSchedule, error) {
	return s.Schedules.Create(sched)
}

func (s *SQLStorage) ScheduleByID(id int64) (*model.MedicationSchedule, error) {
	return s.Schedules.GetByID(id)
}

func (s *SQLStorage) LoadSchedulesForUser(userID int64) ([]model.MedicationSchedule, error) {
	return s.Schedules.ListByUser(userID)
}

func (s *SQLStorage) UpdateSchedule(sched model.MedicationSchedule) (*model.MedicationSchedule, error) {
	return s.Schedules.Update(sched)
}

func (s *SQLStorage) DeleteSchedule(id int64) error {
	return s.Schedules.Delete(id)
}

func (s *SQLStorage) ScheduleUserIDs() ([]int64, error) {
	return s.Schedules.UserIDs()
}

func (s *SQLStorage) AppendAdherenceLog(ctx context.Context, log model.AdherenceLog) error {
	return s.Adherence.Append(ctx, log)
}

func (s *SQLStorage) HasTerminalLog(medicationID int64, scheduledAt time.Time) (bool, error) {
	return s.Adherence.HasTerminal(medicationID, scheduledAt)
}

func (s *SQLStorage) AdherenceLogsForUser(userID int64, from, to time.Time) ([]model.AdherenceLog, error) {
	return s.Adherence.ListByUser(userID, from, to)
}

func (s *SQLStorage) RecordSnoozeChoice(c model.SnoozeChoice) error {
	return s.Snoozes.Record(c)
}

func (s *SQLStorage) LoadPastSnoozeIntervals(medicationID int64) ([]int, error) {
	return s.Snoozes.PastIntervals(medicationID)
}

func (s *SQLStorage) CreateFamilyMember(m model.FamilyMember) (*model.FamilyMember, error) {
	return s.Family.Create(m)
}

func (s *SQLStorage) FamilyMemberByID(id int64) (*model.FamilyMember, error) {
	return s.Family.GetByID(id)
}

func (s *SQLStorage) FamilyMembersForUser(userID int64) ([]model.FamilyMember, error) {
	return s.Family.ListByUser(userID)
}

func (s *SQLStorage) DesignateFamilyMember(userID, memberID int64) error {
	return s.Family.Designate(userID, memberID)
}

func (s *SQLStorage) DesignatedFamilyMember(userID int64) (*model.FamilyMember, error) {
	return s.Family.Designated(userID)
}

func (s *SQLStorage) DeleteFamilyMember(id int64) error {
	return s.Family.Delete(id)
}

func (s *SQLStorage) SetFamilyMemberPIN(id int64, hashedPIN string) error {
	return s.Family.SetPIN(id, hashedPIN)
}

func (s *SQLStorage) FamilyMemberPINHash(id int64) (string, error) {
	return s.Family.GetPINHash(id)
}

func (s *SQLStorage) ReminderSettings(userID int64) (model.ReminderSettings, error) {
	return s.Settings.ReminderSettings(userID)
}

func (s *SQLStorage) SetReminderSettings(userID int64, settings model.ReminderSettings) error {
	return s.Settings.SetReminderSettings(userID, settings)
}

func (s *SQLStorage) SavePushSubscription(sub model.PushSubscription) (*model.PushSubscription, error) {
	return s.Push.Save(sub)
}

func (s *SQLStorage) PushSubscriptionsForUser(userID int64) ([]model.PushSubscription, error) {
	return s.Push.ListByUser(userID)
}

func (s *SQLStorage) PushSubscriptionsForFamilyMember(memberID int64) ([]model.PushSubscription, error) {
	return s.Push.ListByFamilyMember(memberID)
}

func (s *SQLStorage) DeletePushSubscription(id int64) error {
	return s.Push.Delete(id)
}

func (s *SQLStorage) DeletePushSubscriptionByEndpoint(endpoint string) error {
	return s.Push.DeleteByEndpoint(endpoint)
}
