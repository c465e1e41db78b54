package store

import (
	"context"
	"errors"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

// ErrDuplicateTerminal is returned when a second terminal log is appended
// for the same occurrence. The engine treats it as an invariant backstop,
// not a normal error path.
var ErrDuplicateTerminal = errors.New("terminal log already exists for occurrence")

// Storage is the persistence collaborator consumed by the engine and the
// HTTP layer. Two interchangeable implementations exist: SQLStorage
// (durable, SQLite) and MemoryStorage (ephemeral, guest sessions and tests).
// The implementation is chosen once at startup, never branched on inline.
type Storage interface {
	// Schedules. DeleteSchedule removes the row only: occurrences are
	// derived, not stored, so future days stop producing them by
	// construction, and the escalation engine drops the current day's
	// tracked ones (DropSchedule). Past adherence history is never touched.
	CreateSchedule(s model.MedicationSchedule) (*model.MedicationSchedule, error)
	ScheduleByID(id int64) (*model.MedicationSchedule, error)
	LoadSchedulesForUser(userID int64) ([]model.MedicationSchedule, error)
	UpdateSchedule(s model.MedicationSchedule) (*model.MedicationSchedule, error)
	DeleteSchedule(id int64) error
	ScheduleUserIDs() ([]int64, error)

	// Adherence logs: append-only, one terminal log per occurrence.
	AppendAdherenceLog(ctx context.Context, log model.AdherenceLog) error
	HasTerminalLog(medicationID int64, scheduledAt time.Time) (bool, error)
	AdherenceLogsForUser(userID int64, from, to time.Time) ([]model.AdherenceLog, error)

	// Snooze history feeding the advisor.
	RecordSnoozeChoice(c model.SnoozeChoice) error
	LoadPastSnoozeIntervals(medicationID int64) ([]int, error)

	// Family members. At most one designated escalation contact per user.
	CreateFamilyMember(m model.FamilyMember) (*model.FamilyMember, error)
	FamilyMemberByID(id int64) (*model.FamilyMember, error)
	FamilyMembersForUser(userID int64) ([]model.FamilyMember, error)
	DesignateFamilyMember(userID, memberID int64) error
	DesignatedFamilyMember(userID int64) (*model.FamilyMember, error)
	DeleteFamilyMember(id int64) error
	SetFamilyMemberPIN(id int64, hashedPIN string) error
	FamilyMemberPINHash(id int64) (string, error)

	// Reminder settings, defaults applied when unset.
	ReminderSettings(userID int64) (model.ReminderSettings, error)
	SetReminderSettings(userID int64, s model.ReminderSettings) error

	// Push subscriptions.
	SavePushSubscription(sub model.PushSubscription) (*model.PushSubscription, error)
	PushSubscriptionsForUser(userID int64) ([]model.PushSubscription, error)
	PushSubscriptionsForFamilyMember(memberID int64) ([]model.PushSubscription, error)
	DeletePushSubscription(id int64) error
	DeletePushSubscriptionByEndpoint(endpoint string) error
}
