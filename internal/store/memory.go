package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

// MemoryStorage is the ephemeral Storage implementation, used for guest
// sessions and tests. All state is lost on process exit.
type MemoryStorage struct {
	mu        sync.RWMutex
	nextID    int64
	schedules map[int64]model.MedicationSchedule
	logs      []model.AdherenceLog
	snoozes   []model.SnoozeChoice
	family    map[int64]model.FamilyMember
	pins      map[int64]string
	settings  map[int64]model.ReminderSettings
	push      map[int64]model.PushSubscription
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		schedules: make(map[int64]model.MedicationSchedule),
		family:    make(map[int64]model.FamilyMember),
		pins:      make(map[int64]string),
		settings:  make(map[int64]model.ReminderSettings),
		push:      make(map[int64]model.PushSubscription),
	}
}

func (m *MemoryStorage) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStorage) CreateSchedule(s model.MedicationSchedule) (*model.MedicationSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.ID = m.id()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	m.schedules[s.ID] = s
	return &s, nil
}

func (m *MemoryStorage) ScheduleByID(id int64) (*model.MedicationSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStorage) LoadSchedulesForUser(userID int64) ([]model.MedicationSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.MedicationSchedule
	for _, s := range m.schedules {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) UpdateSchedule(s model.MedicationSchedule) (*model.MedicationSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.schedules[s.ID]
	if !ok {
		return nil, nil
	}
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	m.schedules[s.ID] = s
	return &s, nil
}

func (m *MemoryStorage) DeleteSchedule(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.schedules, id)
	return nil
}

func (m *MemoryStorage) ScheduleUserIDs() ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]bool)
	var ids []int64
	for _, s := range m.schedules {
		if !seen[s.UserID] {
			seen[s.UserID] = true
			ids = append(ids, s.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStorage) AppendAdherenceLog(_ context.Context, log model.AdherenceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !model.ValidStatus(log.Status) {
		return fmt.Errorf("invalid adherence status: %q", log.Status)
	}
	for _, l := range m.logs {
		if l.MedicationID == log.MedicationID && l.ScheduledAt.Equal(log.ScheduledAt) {
			return ErrDuplicateTerminal
		}
	}
	log.CreatedAt = time.Now().UTC()
	m.logs = append(m.logs, log)
	return nil
}

func (m *MemoryStorage) HasTerminalLog(medicationID int64, scheduledAt time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, l := range m.logs {
		if l.MedicationID == medicationID && l.ScheduledAt.Equal(scheduledAt) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStorage) AdherenceLogsForUser(userID int64, from, to time.Time) ([]model.AdherenceLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.AdherenceLog
	for _, l := range m.logs {
		if l.UserID == userID && !l.ScheduledAt.Before(from) && l.ScheduledAt.Before(to) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *MemoryStorage) RecordSnoozeChoice(c model.SnoozeChoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = m.id()
	m.snoozes = append(m.snoozes, c)
	return nil
}

func (m *MemoryStorage) LoadPastSnoozeIntervals(medicationID int64) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []int
	for _, c := range m.snoozes {
		if c.MedicationID == medicationID {
			out = append(out, c.Minutes)
		}
	}
	return out, nil
}

func (m *MemoryStorage) CreateFamilyMember(fm model.FamilyMember) (*model.FamilyMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fm.ID = m.id()
	fm.CreatedAt = time.Now().UTC()
	fm.UpdatedAt = fm.CreatedAt
	m.family[fm.ID] = fm
	return &fm, nil
}

func (m *MemoryStorage) FamilyMemberByID(id int64) (*model.FamilyMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fm, ok := m.family[id]
	if !ok {
		return nil, nil
	}
	return &fm, nil
}

func (m *MemoryStorage) FamilyMembersForUser(userID int64) ([]model.FamilyMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.FamilyMember
	for _, fm := range m.family {
		if fm.UserID == userID {
			out = append(out, fm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) DesignateFamilyMember(userID, memberID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.family[memberID]
	if !ok || target.UserID != userID {
		return fmt.Errorf("family member %d not found for user %d", memberID, userID)
	}
	for id, fm := range m.family {
		if fm.UserID == userID {
			fm.Designated = id == memberID
			m.family[id] = fm
		}
	}
	return nil
}

func (m *MemoryStorage) DesignatedFamilyMember(userID int64) (*model.FamilyMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, fm := range m.family {
		if fm.UserID == userID && fm.Designated {
			return &fm, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) DeleteFamilyMember(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.family, id)
	delete(m.pins, id)
	for subID, sub := range m.push {
		if sub.FamilyMemberID != nil && *sub.FamilyMemberID == id {
			delete(m.push, subID)
		}
	}
	return nil
}

func (m *MemoryStorage) SetFamilyMemberPIN(id int64, hashedPIN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fm, ok := m.family[id]
	if !ok {
		return fmt.Errorf("family member not found")
	}
	m.pins[id] = hashedPIN
	fm.HasPIN = hashedPIN != ""
	m.family[id] = fm
	return nil
}

func (m *MemoryStorage) FamilyMemberPINHash(id int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.family[id]; !ok {
		return "", fmt.Errorf("family member not found")
	}
	return m.pins[id], nil
}

func (m *MemoryStorage) ReminderSettings(userID int64) (model.ReminderSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return model.DefaultReminderSettings(), nil
}

func (m *MemoryStorage) SetReminderSettings(userID int64, s model.ReminderSettings) error {
	if s.InitialDuration < 1 || s.SecondAlertDelay < 1 || s.FamilyAlertDelay < 1 {
		return fmt.Errorf("reminder settings must be positive minutes")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = s
	return nil
}

func (m *MemoryStorage) SavePushSubscription(sub model.PushSubscription) (*model.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.push {
		if existing.Endpoint == sub.Endpoint {
			sub.ID = id
			sub.CreatedAt = existing.CreatedAt
			m.push[id] = sub
			return &sub, nil
		}
	}
	sub.ID = m.id()
	sub.CreatedAt = time.Now().UTC()
	m.push[sub.ID] = sub
	return &sub, nil
}

func (m *MemoryStorage) PushSubscriptionsForUser(userID int64) ([]model.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PushSubscription
	for _, sub := range m.push {
		if sub.UserID == userID && sub.FamilyMemberID == nil {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) PushSubscriptionsForFamilyMember(memberID int64) ([]model.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PushSubscription
	for _, sub := range m.push {
		if sub.FamilyMemberID != nil && *sub.FamilyMemberID == memberID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) DeletePushSubscription(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.push, id)
	return nil
}

func (m *MemoryStorage) DeletePushSubscriptionByEndpoint(endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range m.push {
		if sub.Endpoint == endpoint {
			delete(m.push, id)
		}
	}
	return nil
}
