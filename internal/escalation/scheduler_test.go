package escalation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dosewell/dosewell/internal/dose"
	"github.com/dosewell/dosewell/internal/model"
	"github.com/dosewell/dosewell/internal/snooze"
	"github.com/dosewell/dosewell/internal/store"
)

// fakeClock drives the escalation timeline deterministically. Timers fire
// from the advance helper, never from real time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers map[int]*fakeTimer
	nextID int
}

type fakeTimer struct {
	clock *fakeClock
	id    int
	at    time.Time
	f     func()
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start, timers: make(map[int]*fakeTimer)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &fakeTimer{clock: c, id: c.nextID, at: c.now.Add(d), f: f}
	c.timers[t.id] = t
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, pending := t.clock.timers[t.id]; pending {
		delete(t.clock.timers, t.id)
		return true
	}
	return false
}

// pop removes and returns the earliest timer due at or before limit,
// advancing the clock to its due time.
func (c *fakeClock) pop(limit time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *fakeTimer
	for _, t := range c.timers {
		if t.at.After(limit) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.id < next.id) {
			next = t
		}
	}
	if next == nil {
		return nil
	}
	delete(c.timers, next.id)
	if next.at.After(c.now) {
		c.now = next.at
	}
	return next
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// advance moves the clock forward, firing due timers in order and letting
// the scheduler's loop process each fire before the next.
func advance(s *Scheduler, c *fakeClock, d time.Duration) {
	target := c.Now().Add(d)
	for {
		t := c.pop(target)
		if t == nil {
			break
		}
		t.f()
		s.do(func() {})
	}
	c.set(target)
}

type recordingNotifier struct {
	mu        sync.Mutex
	reminders []string
	alerts    []string
}

func (n *recordingNotifier) SendReminder(occ dose.Occurrence, stage string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, occ.Key.String()+"|"+stage)
	return nil
}

func (n *recordingNotifier) SendFamilyAlert(occ dose.Occurrence) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, occ.Key.String())
	return nil
}

func (n *recordingNotifier) reminderCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reminders)
}

func (n *recordingNotifier) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

var testDay = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testSchedule(t *testing.T, st store.Storage, name string, times ...string) *model.MedicationSchedule {
	t.Helper()
	sched, err := st.CreateSchedule(model.MedicationSchedule{
		UserID:         1,
		Name:           name,
		Dosage:         "500mg",
		Kind:           "tablet",
		RecurrenceRule: "FREQ=DAILY",
		Times:          times,
		StartDate:      testDay,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return sched
}

func newTestScheduler(t *testing.T, st store.Storage, clock *fakeClock) (*Scheduler, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	advisor := snooze.NewAdvisor(nil, logger)
	s := NewScheduler(1, st, notifier, advisor, clock, logger, nil)
	t.Cleanup(s.Shutdown)
	return s, notifier
}

func singleLog(t *testing.T, st store.Storage) model.AdherenceLog {
	t.Helper()
	logs, err := st.AdherenceLogsForUser(1, testDay.AddDate(0, 0, -2), testDay.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected exactly 1 log, got %d", len(logs))
	}
	return logs[0]
}

// The default 1/3/10 settings produce the canonical timeline: initial alert
// at the scheduled time, repeats after 1, 4, and 7 minutes, and a forced
// missed with a family alert exactly at the 10 minute deadline.
func TestEscalationTimeline(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	advance(s, clock, 9*time.Hour)
	waitFor(t, "initial reminder", func() bool { return notifier.reminderCount() == 1 })

	advance(s, clock, 9*time.Minute+59*time.Second)
	waitFor(t, "repeat reminders", func() bool { return notifier.reminderCount() == 4 })
	if n := notifier.alertCount(); n != 0 {
		t.Fatalf("family alert before deadline: %d", n)
	}

	advance(s, clock, time.Second)
	waitFor(t, "family alert", func() bool { return notifier.alertCount() == 1 })
	waitFor(t, "missed log", func() bool {
		has, _ := st.HasTerminalLog(sched.ID, testDay.Add(9*time.Hour))
		return has
	})

	entry := singleLog(t, st)
	if entry.Status != model.StatusMissed {
		t.Errorf("status = %q, want missed", entry.Status)
	}
	if want := testDay.Add(9*time.Hour + 10*time.Minute); !entry.ActualAt.Equal(want) {
		t.Errorf("forced missed at %v, want exactly %v", entry.ActualAt, want)
	}

	// Nothing further fires after resolution.
	advance(s, clock, time.Hour)
	if n := notifier.reminderCount(); n != 4 {
		t.Errorf("reminders after resolution: got %d, want 4", n)
	}
	if n := notifier.alertCount(); n != 1 {
		t.Errorf("family alerts: got %d, want exactly 1", n)
	}
}

func TestTakenStopsEscalation(t *testing.T) {
	st := store.NewMemoryStorage()
	testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	advance(s, clock, 9*time.Hour+2*time.Minute)
	waitFor(t, "two reminders", func() bool { return notifier.reminderCount() == 2 })

	key := dose.Key{ScheduleID: 1, Date: "2026-03-01", Time: "09:00"}
	if err := s.RecordResponse(t.Context(), key, "taken", 0); err != nil {
		t.Fatalf("record response: %v", err)
	}

	waitFor(t, "taken log", func() bool {
		logs, _ := st.AdherenceLogsForUser(1, testDay, testDay.AddDate(0, 0, 1))
		return len(logs) == 1
	})
	entry := singleLog(t, st)
	if entry.Status != model.StatusTaken {
		t.Errorf("status = %q, want taken", entry.Status)
	}
	if want := testDay.Add(9*time.Hour + 2*time.Minute); !entry.ActualAt.Equal(want) {
		t.Errorf("actual at %v, want %v", entry.ActualAt, want)
	}

	advance(s, clock, time.Hour)
	if n := notifier.reminderCount(); n != 2 {
		t.Errorf("reminders after taken: got %d, want 2", n)
	}
	if n := notifier.alertCount(); n != 0 {
		t.Errorf("family alerts after taken: got %d, want 0", n)
	}
}

// A snooze near the deadline gets its timer capped: snoozing at +2 minutes
// for the advisor's 10 still force-resolves at the 10 minute mark.
func TestSnoozeCappedToDeadline(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	advance(s, clock, 9*time.Hour+2*time.Minute)

	key := dose.Key{ScheduleID: sched.ID, Date: "2026-03-01", Time: "09:00"}
	if err := s.RecordResponse(t.Context(), key, "snooze", 0); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if state, ok := s.TrackedState(key); !ok || state != dose.StateSnoozed {
		t.Fatalf("state = %v ok=%v, want snoozed", state, ok)
	}

	waitFor(t, "snooze choice recorded", func() bool {
		intervals, _ := st.LoadPastSnoozeIntervals(sched.ID)
		return len(intervals) == 1 && intervals[0] == 10
	})

	advance(s, clock, 8*time.Minute)
	waitFor(t, "forced missed at deadline", func() bool { return notifier.alertCount() == 1 })

	entry := singleLog(t, st)
	if entry.Status != model.StatusMissed {
		t.Errorf("status = %q, want missed", entry.Status)
	}
	if want := testDay.Add(9*time.Hour + 10*time.Minute); !entry.ActualAt.Equal(want) {
		t.Errorf("forced missed at %v, want %v", entry.ActualAt, want)
	}
}

func TestCancelSnoozeResumesAlerting(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	advance(s, clock, 9*time.Hour)
	waitFor(t, "initial reminder", func() bool { return notifier.reminderCount() == 1 })

	key := dose.Key{ScheduleID: sched.ID, Date: "2026-03-01", Time: "09:00"}
	if err := s.RecordResponse(t.Context(), key, "snooze", 5); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if err := s.RecordResponse(t.Context(), key, "cancel_snooze", 0); err != nil {
		t.Fatalf("cancel snooze: %v", err)
	}

	if state, ok := s.TrackedState(key); !ok || state != dose.StateAlerting {
		t.Fatalf("state = %v ok=%v, want alerting", state, ok)
	}
	waitFor(t, "resumed reminder", func() bool { return notifier.reminderCount() == 2 })
}

func TestResponseAfterResolveWritesNoSecondLog(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)
	s, _ := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	advance(s, clock, 9*time.Hour+10*time.Minute)
	waitFor(t, "missed log", func() bool {
		has, _ := st.HasTerminalLog(sched.ID, testDay.Add(9*time.Hour))
		return has
	})

	key := dose.Key{ScheduleID: sched.ID, Date: "2026-03-01", Time: "09:00"}
	// A late "taken" from a second device arrives after the forced miss.
	if err := s.RecordResponse(t.Context(), key, "taken", 0); err != nil {
		t.Fatalf("late response: %v", err)
	}
	if err := s.RecordResponse(t.Context(), key, "taken", 0); err != nil {
		t.Fatalf("repeated response: %v", err)
	}

	entry := singleLog(t, st)
	if entry.Status != model.StatusMissed {
		t.Errorf("status = %q, want the original missed", entry.Status)
	}
}

func TestRecordResponseErrors(t *testing.T) {
	st := store.NewMemoryStorage()
	testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)
	s, _ := newTestScheduler(t, st, clock)

	key := dose.Key{ScheduleID: 1, Date: "2026-03-01", Time: "09:00"}
	if err := s.RecordResponse(t.Context(), key, "devoured", 0); err == nil {
		t.Error("expected error for unknown response kind")
	}
	err := s.RecordResponse(t.Context(), dose.Key{ScheduleID: 99, Date: "2026-03-01", Time: "09:00"}, "taken", 0)
	if !errors.Is(err, ErrUnknownOccurrence) {
		t.Errorf("error = %v, want ErrUnknownOccurrence", err)
	}
}

func TestRolloverIdempotent(t *testing.T) {
	st := store.NewMemoryStorage()
	testSchedule(t, st, "Paracetamol", "09:00", "21:00")
	clock := newFakeClock(testDay)
	s, notifier := newTestScheduler(t, st, clock)

	for i := 0; i < 3; i++ {
		if err := s.OnDayRollover(t.Context(), testDay); err != nil {
			t.Fatalf("rollover %d: %v", i, err)
		}
	}

	var tracked, pending int
	s.do(func() {
		tracked = len(s.machines)
		pending = len(s.timers)
	})
	if tracked != 2 {
		t.Errorf("tracked occurrences = %d, want 2", tracked)
	}
	if pending != 2 {
		t.Errorf("pending timers = %d, want 2 (one per occurrence)", pending)
	}

	advance(s, clock, 9*time.Hour)
	waitFor(t, "initial reminder", func() bool { return notifier.reminderCount() == 1 })
}

func TestOneTimerPerOccurrence(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)
	s, _ := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	advance(s, clock, 9*time.Hour+2*time.Minute)

	key := dose.Key{ScheduleID: sched.ID, Date: "2026-03-01", Time: "09:00"}
	if err := s.RecordResponse(t.Context(), key, "snooze", 5); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if err := s.RecordResponse(t.Context(), key, "cancel_snooze", 0); err != nil {
		t.Fatalf("cancel snooze: %v", err)
	}

	var pending int
	s.do(func() { pending = len(s.timers) })
	if pending != 1 {
		t.Errorf("pending timers = %d, want 1", pending)
	}
}

func TestRolloverSkipsPassedOccurrences(t *testing.T) {
	st := store.NewMemoryStorage()
	testSchedule(t, st, "Paracetamol", "09:00", "21:00")
	clock := newFakeClock(testDay.Add(12 * time.Hour))
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	var tracked int
	s.do(func() { tracked = len(s.machines) })
	if tracked != 1 {
		t.Errorf("tracked occurrences = %d, want only the 21:00 dose", tracked)
	}

	advance(s, clock, 9*time.Hour)
	waitFor(t, "evening reminder", func() bool { return notifier.reminderCount() == 1 })
}

// Deleting a schedule mid-day must silence its pending doses: a medication
// removed before its dose time sends no reminders, alerts nobody, and writes
// no missed log.
func TestDropScheduleSilencesPendingDoses(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	advance(s, clock, 8*time.Hour)

	if err := st.DeleteSchedule(sched.ID); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	if err := s.DropSchedule(sched.ID); err != nil {
		t.Fatalf("drop schedule: %v", err)
	}

	advance(s, clock, 4*time.Hour)
	if n := notifier.reminderCount(); n != 0 {
		t.Errorf("reminders after delete = %d, want 0", n)
	}
	if n := notifier.alertCount(); n != 0 {
		t.Errorf("family alerts after delete = %d, want 0", n)
	}
	logs, err := st.AdherenceLogsForUser(1, testDay, testDay.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("terminal logs after delete = %d, want 0", len(logs))
	}

	var tracked, pending int
	s.do(func() {
		tracked = len(s.machines)
		pending = len(s.timers)
	})
	if tracked != 0 || pending != 0 {
		t.Errorf("tracked = %d, timers = %d after delete, want 0/0", tracked, pending)
	}
}

// Editing a schedule's times replaces today's not-yet-started occurrences,
// while a dose already alerting keeps the timeline it started with.
func TestResyncScheduleReplacesUnstartedDoses(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00", "21:00")
	clock := newFakeClock(testDay)
	s, _ := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	advance(s, clock, 9*time.Hour+2*time.Minute)

	sched.Times = []string{"09:00", "18:00"}
	if _, err := st.UpdateSchedule(*sched); err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	if err := s.ResyncSchedule(t.Context(), sched.ID); err != nil {
		t.Fatalf("resync schedule: %v", err)
	}

	morning := dose.Key{ScheduleID: sched.ID, Date: "2026-03-01", Time: "09:00"}
	if state, ok := s.TrackedState(morning); !ok || state != dose.StateAlerting {
		t.Errorf("morning state = %v ok=%v, the started dose must be untouched", state, ok)
	}
	if _, ok := s.TrackedState(dose.Key{ScheduleID: sched.ID, Date: "2026-03-01", Time: "21:00"}); ok {
		t.Error("21:00 still tracked after the edit removed it")
	}
	if state, ok := s.TrackedState(dose.Key{ScheduleID: sched.ID, Date: "2026-03-01", Time: "18:00"}); !ok || state != dose.StateScheduled {
		t.Errorf("18:00 state = %v ok=%v, want scheduled", state, ok)
	}
}

func TestRecoverForcesMissedPastDeadline(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")
	now := testDay.Add(9*time.Hour + 25*time.Minute)
	clock := newFakeClock(now)
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.Recover(t.Context(), now); err != nil {
		t.Fatalf("recover: %v", err)
	}

	waitFor(t, "missed log", func() bool {
		has, _ := st.HasTerminalLog(sched.ID, testDay.Add(9*time.Hour))
		return has
	})
	waitFor(t, "family alert", func() bool { return notifier.alertCount() == 1 })

	entry := singleLog(t, st)
	if entry.Status != model.StatusMissed {
		t.Errorf("status = %q, want missed", entry.Status)
	}
	if notifier.reminderCount() != 0 {
		t.Errorf("reminders = %d, want none for a long-elapsed dose", notifier.reminderCount())
	}
}

func TestRecoverSkipsLoggedOccurrence(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")

	scheduledAt := testDay.Add(9 * time.Hour)
	err := st.AppendAdherenceLog(t.Context(), model.AdherenceLog{
		ID: "pre", MedicationID: sched.ID, UserID: 1,
		ScheduledAt: scheduledAt, ActualAt: scheduledAt.Add(time.Minute),
		Status: model.StatusTaken,
	})
	if err != nil {
		t.Fatalf("seed log: %v", err)
	}

	now := testDay.Add(9*time.Hour + 25*time.Minute)
	clock := newFakeClock(now)
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.Recover(t.Context(), now); err != nil {
		t.Fatalf("recover: %v", err)
	}
	advance(s, clock, time.Hour)

	entry := singleLog(t, st)
	if entry.Status != model.StatusTaken {
		t.Errorf("status = %q, the seeded log must stand", entry.Status)
	}
	if notifier.alertCount() != 0 {
		t.Errorf("family alerts = %d, want 0", notifier.alertCount())
	}
}

func TestRecoverReentersAlertWindow(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00")
	now := testDay.Add(9*time.Hour + 5*time.Minute)
	clock := newFakeClock(now)
	s, notifier := newTestScheduler(t, st, clock)

	if err := s.Recover(t.Context(), now); err != nil {
		t.Fatalf("recover: %v", err)
	}
	waitFor(t, "re-alert", func() bool { return notifier.reminderCount() == 1 })

	// The deadline is anchored to the scheduled time, not to recovery.
	advance(s, clock, 5*time.Minute)
	waitFor(t, "forced missed", func() bool { return notifier.alertCount() == 1 })

	entry := singleLog(t, st)
	if want := testDay.Add(9*time.Hour + 10*time.Minute); !entry.ActualAt.Equal(want) {
		t.Errorf("forced missed at %v, want %v", entry.ActualAt, want)
	}
	if sched.ID != entry.MedicationID {
		t.Errorf("log medication = %d, want %d", entry.MedicationID, sched.ID)
	}
}

func TestRecommendSnoozeAvoidsNextDose(t *testing.T) {
	st := store.NewMemoryStorage()
	sched := testSchedule(t, st, "Paracetamol", "09:00", "10:00")
	clock := newFakeClock(testDay)
	s, _ := newTestScheduler(t, st, clock)

	if err := s.OnDayRollover(t.Context(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	advance(s, clock, 9*time.Hour)

	key := dose.Key{ScheduleID: sched.ID, Date: "2026-03-01", Time: "09:00"}
	rec, err := s.RecommendSnooze(t.Context(), key)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	// The 10:00 dose is 60 minutes out, so half the gap beats the
	// baseline only if the baseline were larger; here baseline 10 stands.
	if rec.Minutes != 10 {
		t.Errorf("minutes = %d, want baseline 10", rec.Minutes)
	}

	if _, err := s.RecommendSnooze(t.Context(), dose.Key{ScheduleID: 99, Date: "2026-03-01", Time: "09:00"}); !errors.Is(err, ErrUnknownOccurrence) {
		t.Errorf("error = %v, want ErrUnknownOccurrence", err)
	}
}

func TestEngineRoutesPerUser(t *testing.T) {
	st := store.NewMemoryStorage()
	testSchedule(t, st, "Paracetamol", "09:00")
	if _, err := st.CreateSchedule(model.MedicationSchedule{
		UserID: 2, Name: "Metformin", Dosage: "850mg", Kind: "tablet",
		RecurrenceRule: "FREQ=DAILY", Times: []string{"08:00"},
		StartDate: testDay,
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	clock := newFakeClock(testDay)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(st, &recordingNotifier{}, snooze.NewAdvisor(nil, logger), clock, logger, nil)
	t.Cleanup(e.Shutdown)

	if err := e.RolloverAll(t.Context(), testDay); err != nil {
		t.Fatalf("rollover all: %v", err)
	}

	if s1, s2 := e.ForUser(1), e.ForUser(2); s1 == s2 {
		t.Fatal("expected distinct schedulers per user")
	}

	var tracked int
	e.ForUser(2).do(func() { tracked = len(e.ForUser(2).machines) })
	if tracked != 1 {
		t.Errorf("user 2 tracked = %d, want 1", tracked)
	}
}

func TestShutdownStopsTimers(t *testing.T) {
	st := store.NewMemoryStorage()
	testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)

	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(1, st, notifier, snooze.NewAdvisor(nil, logger), clock, logger, nil)

	if err := s.OnDayRollover(context.Background(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	s.Shutdown()
	s.Shutdown() // second call is a no-op

	clock.mu.Lock()
	pending := len(clock.timers)
	clock.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending timers after shutdown = %d, want 0", pending)
	}
}

// Calls that lose the race with Shutdown must say so instead of silently
// reporting success.
func TestCallsAfterShutdownReturnError(t *testing.T) {
	st := store.NewMemoryStorage()
	testSchedule(t, st, "Paracetamol", "09:00")
	clock := newFakeClock(testDay)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(1, st, &recordingNotifier{}, snooze.NewAdvisor(nil, logger), clock, logger, nil)
	if err := s.OnDayRollover(context.Background(), testDay); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	s.Shutdown()

	key := dose.Key{ScheduleID: 1, Date: "2026-03-01", Time: "09:00"}
	if err := s.RecordResponse(context.Background(), key, "taken", 0); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("RecordResponse error = %v, want ErrShuttingDown", err)
	}
	if err := s.OnDayRollover(context.Background(), testDay); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("OnDayRollover error = %v, want ErrShuttingDown", err)
	}
	if _, ok := s.TrackedState(key); ok {
		t.Error("TrackedState reported a machine after shutdown")
	}
}

func TestForUserAfterEngineShutdown(t *testing.T) {
	st := store.NewMemoryStorage()
	clock := newFakeClock(testDay)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(st, &recordingNotifier{}, snooze.NewAdvisor(nil, logger), clock, logger, nil)
	e.Shutdown()

	s := e.ForUser(7)
	key := dose.Key{ScheduleID: 1, Date: "2026-03-01", Time: "09:00"}
	if err := s.RecordResponse(context.Background(), key, "taken", 0); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("RecordResponse error = %v, want ErrShuttingDown", err)
	}

	e.mu.Lock()
	retained := len(e.schedulers)
	e.mu.Unlock()
	if retained != 0 {
		t.Errorf("schedulers retained after shutdown = %d, want 0", retained)
	}
}
