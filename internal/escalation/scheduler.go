package escalation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dosewell/dosewell/internal/dose"
	"github.com/dosewell/dosewell/internal/model"
	"github.com/dosewell/dosewell/internal/recurrence"
	"github.com/dosewell/dosewell/internal/snooze"
	"github.com/dosewell/dosewell/internal/store"
)

// ErrUnknownOccurrence is returned for responses against occurrences the
// scheduler is not tracking (never resolved for the day, or already swept).
var ErrUnknownOccurrence = errors.New("occurrence not tracked")

// ErrShuttingDown is returned for calls that lose the race with Shutdown.
// Nothing has been applied when it is returned.
var ErrShuttingDown = errors.New("scheduler shutting down")

// Notifier delivers reminders and escalation alerts. Implementations may
// block on network I/O; the scheduler calls them off its event loop.
type Notifier interface {
	SendReminder(occ dose.Occurrence, stage string) error
	SendFamilyAlert(occ dose.Occurrence) error
}

// TransitionFunc observes state changes, e.g. to broadcast them to connected
// clients. Called on the scheduler's event loop; keep it fast.
type TransitionFunc func(occ dose.Occurrence, state dose.State, outcome string)

const (
	logWriteTimeout  = 30 * time.Second
	logRetryBase     = 200 * time.Millisecond
	logRetryAttempts = 5
)

// Scheduler runs the escalation timeline for one user's doses. All mutable
// state (machines, timers) is owned by a single event-loop goroutine;
// exported methods post work onto the loop and wait for it. This serializes
// every transition for a given occurrence, which is what makes the
// one-terminal-log guarantee hold without locks around the machines.
type Scheduler struct {
	userID       int64
	storage      store.Storage
	notifier     Notifier
	advisor      *snooze.Advisor
	clock        Clock
	logger       *slog.Logger
	onTransition TransitionFunc

	events chan func()
	quit   chan struct{}
	done   chan struct{}

	// Loop-owned. Never touched off the event loop.
	machines map[dose.Key]*dose.Machine
	timers   map[dose.Key]*armedTimer
	gen      uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// armedTimer is the single pending timer for an occurrence. The generation
// lets the loop ignore fires from timers that were replaced but whose
// callback was already in flight.
type armedTimer struct {
	timer Timer
	gen   uint64
}

// NewScheduler creates and starts a per-user scheduler. onTransition may be
// nil. Call Shutdown to stop it.
func NewScheduler(userID int64, storage store.Storage, notifier Notifier, advisor *snooze.Advisor, clock Clock, logger *slog.Logger, onTransition TransitionFunc) *Scheduler {
	s := &Scheduler{
		userID:       userID,
		storage:      storage,
		notifier:     notifier,
		advisor:      advisor,
		clock:        clock,
		logger:       logger.With("component", "escalation", "user_id", userID),
		onTransition: onTransition,
		events:       make(chan func()),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		machines:     make(map[dose.Key]*dose.Machine),
		timers:       make(map[dose.Key]*armedTimer),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case f := <-s.events:
			f()
		}
	}
}

// post queues f on the event loop. Dropped silently after Shutdown, which
// covers timers that fire during teardown.
func (s *Scheduler) post(f func()) {
	select {
	case s.events <- f:
	case <-s.quit:
	}
}

// do runs f on the event loop and waits for it. Returns ErrShuttingDown when
// the loop quit before f could run.
func (s *Scheduler) do(f func()) error {
	ran := make(chan struct{})
	s.post(func() {
		f()
		close(ran)
	})
	select {
	case <-ran:
		return nil
	case <-s.quit:
		// The loop may have picked f up just as quit closed.
		select {
		case <-ran:
			return nil
		default:
			return ErrShuttingDown
		}
	}
}

// Shutdown stops all pending timers, terminates the event loop, and waits
// for in-flight log writes and notifications to finish. Methods called after
// Shutdown return ErrShuttingDown.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.do(func() {
			for key, at := range s.timers {
				at.timer.Stop()
				delete(s.timers, key)
			}
		})
		close(s.quit)
	})
	<-s.done
	s.wg.Wait()
}

// OnDayRollover resolves the user's schedules for the given calendar date and
// begins tracking the resulting occurrences. Already-tracked occurrences are
// untouched, so calling it twice for the same date is harmless. Resolved
// machines from earlier days are swept; unresolved ones are kept, since a
// late-evening dose legitimately escalates across midnight.
func (s *Scheduler) OnDayRollover(ctx context.Context, date time.Time) error {
	var err error
	if derr := s.do(func() { err = s.rollover(ctx, date) }); derr != nil {
		return derr
	}
	return err
}

func (s *Scheduler) rollover(_ context.Context, date time.Time) error {
	for key, m := range s.machines {
		if m.State() == dose.StateResolved {
			s.disarm(key)
			delete(s.machines, key)
		}
	}

	settings, err := s.storage.ReminderSettings(s.userID)
	if err != nil {
		return err
	}
	schedules, err := s.storage.LoadSchedulesForUser(s.userID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, sched := range schedules {
		times, err := recurrence.ResolveOn(sched, date)
		if err != nil {
			s.logger.Error("resolve schedule", "schedule_id", sched.ID, "error", err)
			continue
		}
		for _, tod := range times {
			key := dose.Key{ScheduleID: sched.ID, Date: date.Format("2006-01-02"), Time: tod}
			if _, tracked := s.machines[key]; tracked {
				continue
			}
			scheduledAt, err := recurrence.At(date, tod)
			if err != nil {
				s.logger.Error("bad time of day", "schedule_id", sched.ID, "time", tod, "error", err)
				continue
			}
			if scheduledAt.Before(now) {
				s.logger.Debug("skipping already-passed occurrence", "occurrence", key.String())
				continue
			}
			occ := occurrenceFor(sched, key, scheduledAt)
			s.machines[key] = dose.NewMachine(occ, settings)
			s.arm(key, scheduledAt.Sub(now))
		}
	}
	return nil
}

// DropSchedule stops tracking all of a schedule's occurrences: pending
// timers are cancelled and the machines removed without a terminal log.
// Called when the schedule itself is deleted; adherence history already
// written stays untouched.
func (s *Scheduler) DropSchedule(scheduleID int64) error {
	return s.do(func() {
		for key := range s.machines {
			if key.ScheduleID != scheduleID {
				continue
			}
			s.disarm(key)
			delete(s.machines, key)
		}
	})
}

// ResyncSchedule re-derives the current day's occurrences after a schedule
// edit. Only not-yet-started occurrences are replaced; a dose that is
// already alerting or snoozed keeps the timeline it started with.
func (s *Scheduler) ResyncSchedule(ctx context.Context, scheduleID int64) error {
	var err error
	if derr := s.do(func() {
		for key, m := range s.machines {
			if key.ScheduleID == scheduleID && m.State() == dose.StateScheduled {
				s.disarm(key)
				delete(s.machines, key)
			}
		}
		err = s.rollover(ctx, s.clock.Now())
	}); derr != nil {
		return derr
	}
	return err
}

// RecordResponse routes a user action into the occurrence's machine. For
// snooze, minutes <= 0 means "use the advisor's recommendation". Responses
// against resolved occurrences are accepted and do nothing; responses
// against unknown occurrences return ErrUnknownOccurrence.
func (s *Scheduler) RecordResponse(ctx context.Context, key dose.Key, kind string, minutes int) error {
	r, err := dose.ParseResponse(kind)
	if err != nil {
		return err
	}
	if derr := s.do(func() { err = s.respond(ctx, key, r, minutes) }); derr != nil {
		return derr
	}
	return err
}

func (s *Scheduler) respond(ctx context.Context, key dose.Key, r dose.Response, minutes int) error {
	m, ok := s.machines[key]
	if !ok {
		s.logger.Warn("response for unknown occurrence", "occurrence", key.String(), "response", r)
		return ErrUnknownOccurrence
	}

	if r == dose.ResponseSnooze && minutes <= 0 {
		minutes = s.recommend(ctx, m.Occurrence()).Minutes
	}

	effects := m.Respond(r, minutes, s.clock.Now())
	if r == dose.ResponseSnooze && len(effects) > 0 {
		s.recordSnoozeChoice(m.Occurrence(), minutes)
	}
	s.apply(m, effects)
	return nil
}

// RecommendSnooze returns the advisor's recommendation for a tracked
// occurrence without applying it.
func (s *Scheduler) RecommendSnooze(ctx context.Context, key dose.Key) (snooze.Recommendation, error) {
	var (
		rec snooze.Recommendation
		err error
	)
	if derr := s.do(func() {
		m, ok := s.machines[key]
		if !ok {
			err = ErrUnknownOccurrence
			return
		}
		rec = s.recommend(ctx, m.Occurrence())
	}); derr != nil {
		return rec, derr
	}
	return rec, err
}

func (s *Scheduler) recommend(ctx context.Context, occ dose.Occurrence) snooze.Recommendation {
	intervals, err := s.storage.LoadPastSnoozeIntervals(occ.MedicationID)
	if err != nil {
		s.logger.Warn("load snooze history", "error", err)
	}
	now := s.clock.Now()
	return s.advisor.Recommend(ctx, occ.Kind, intervals, snooze.Context{
		Now:        now,
		NextDoseAt: s.nextDoseAfter(now, occ.Key),
	})
}

// nextDoseAfter finds the earliest not-yet-started occurrence after now,
// which the advisor uses to keep a snooze from colliding with the next dose.
func (s *Scheduler) nextDoseAfter(now time.Time, exclude dose.Key) *time.Time {
	var next *time.Time
	for key, m := range s.machines {
		if key == exclude || m.State() != dose.StateScheduled {
			continue
		}
		at := m.Occurrence().ScheduledAt
		if at.Before(now) {
			continue
		}
		if next == nil || at.Before(*next) {
			t := at
			next = &t
		}
	}
	return next
}

// Recover rebuilds tracking after a restart: occurrences from yesterday and
// today whose escalation deadline passed while the process was down are
// force-resolved to missed (with the family alert), in-window occurrences
// re-enter the alert cycle, and future ones are armed normally. Occurrences
// that already have a terminal log are left alone.
func (s *Scheduler) Recover(ctx context.Context, now time.Time) error {
	var err error
	if derr := s.do(func() { err = s.recover(ctx, now) }); derr != nil {
		return derr
	}
	return err
}

func (s *Scheduler) recover(_ context.Context, now time.Time) error {
	settings, err := s.storage.ReminderSettings(s.userID)
	if err != nil {
		return err
	}
	schedules, err := s.storage.LoadSchedulesForUser(s.userID)
	if err != nil {
		return err
	}

	for _, date := range []time.Time{now.AddDate(0, 0, -1), now} {
		for _, sched := range schedules {
			times, err := recurrence.ResolveOn(sched, date)
			if err != nil {
				s.logger.Error("resolve schedule", "schedule_id", sched.ID, "error", err)
				continue
			}
			for _, tod := range times {
				key := dose.Key{ScheduleID: sched.ID, Date: date.Format("2006-01-02"), Time: tod}
				if _, tracked := s.machines[key]; tracked {
					continue
				}
				scheduledAt, err := recurrence.At(date, tod)
				if err != nil {
					continue
				}
				s.recoverOccurrence(occurrenceFor(sched, key, scheduledAt), settings, now)
			}
		}
	}
	return nil
}

func (s *Scheduler) recoverOccurrence(occ dose.Occurrence, settings model.ReminderSettings, now time.Time) {
	key := occ.Key

	if occ.ScheduledAt.After(now) {
		s.machines[key] = dose.NewMachine(occ, settings)
		s.arm(key, occ.ScheduledAt.Sub(now))
		return
	}

	logged, err := s.storage.HasTerminalLog(occ.MedicationID, occ.ScheduledAt)
	if err != nil {
		s.logger.Error("check terminal log", "occurrence", key.String(), "error", err)
		return
	}
	if logged {
		return
	}

	m := dose.NewMachine(occ, settings)
	s.machines[key] = m

	deadline := occ.ScheduledAt.Add(settings.FamilyDeadline())
	if !now.Before(deadline) {
		// The whole window elapsed while we were down. Start effects are
		// dropped: an initial reminder hours late helps nobody.
		m.Start(occ.ScheduledAt)
		s.logger.Warn("forcing missed for occurrence past deadline", "occurrence", key.String())
		s.apply(m, m.Timeout(now))
		return
	}

	s.apply(m, m.Start(now))
}

// TrackedState reports the machine state for an occurrence.
func (s *Scheduler) TrackedState(key dose.Key) (dose.State, bool) {
	var (
		state dose.State
		ok    bool
	)
	if err := s.do(func() {
		var m *dose.Machine
		m, ok = s.machines[key]
		if ok {
			state = m.State()
		}
	}); err != nil {
		return 0, false
	}
	return state, ok
}

func (s *Scheduler) onTimerFired(key dose.Key, gen uint64) {
	at, ok := s.timers[key]
	if !ok || at.gen != gen {
		return
	}
	delete(s.timers, key)

	m, ok := s.machines[key]
	if !ok {
		return
	}

	now := s.clock.Now()
	if m.State() == dose.StateScheduled {
		s.apply(m, m.Start(now))
		return
	}
	s.apply(m, m.Timeout(now))
}

// apply executes the machine's requested effects. Storage writes and
// notifications run off the loop; timer bookkeeping stays on it.
func (s *Scheduler) apply(m *dose.Machine, effects []dose.Effect) {
	if len(effects) == 0 {
		return
	}
	occ := m.Occurrence()

	for _, e := range effects {
		switch e := e.(type) {
		case dose.Remind:
			s.sendReminder(occ, e.Stage)
		case dose.ArmTimer:
			s.arm(occ.Key, e.After)
		case dose.WriteLog:
			s.writeTerminal(occ, e)
		case dose.FamilyAlert:
			s.sendFamilyAlert(occ)
		}
	}

	if m.State() == dose.StateResolved {
		s.disarm(occ.Key)
	}
	if s.onTransition != nil {
		s.onTransition(occ, m.State(), m.Outcome())
	}
}

// arm replaces the occurrence's pending timer. At most one timer exists per
// occurrence at any moment.
func (s *Scheduler) arm(key dose.Key, after time.Duration) {
	s.disarm(key)
	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(after, func() {
		s.post(func() { s.onTimerFired(key, gen) })
	})
	s.timers[key] = &armedTimer{timer: t, gen: gen}
}

func (s *Scheduler) disarm(key dose.Key) {
	if at, ok := s.timers[key]; ok {
		at.timer.Stop()
		delete(s.timers, key)
	}
}

// writeTerminal appends the occurrence's single terminal log, retrying
// transient storage failures with exponential backoff. A duplicate means
// some earlier write already landed; that is logged and dropped, never
// retried, so the append-only invariant holds even through redelivery.
func (s *Scheduler) writeTerminal(occ dose.Occurrence, e dose.WriteLog) {
	entry := model.AdherenceLog{
		ID:           uuid.NewString(),
		MedicationID: occ.MedicationID,
		UserID:       occ.UserID,
		ScheduledAt:  occ.ScheduledAt,
		ActualAt:     e.At,
		Status:       e.Status,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
		defer cancel()

		backoff := retry.WithMaxRetries(logRetryAttempts, retry.NewExponential(logRetryBase))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := s.storage.AppendAdherenceLog(ctx, entry); err != nil {
				if errors.Is(err, store.ErrDuplicateTerminal) {
					return err
				}
				return retry.RetryableError(err)
			}
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, store.ErrDuplicateTerminal):
			s.logger.Warn("terminal log already written", "occurrence", occ.Key.String(), "status", e.Status)
		default:
			s.logger.Error("append adherence log", "occurrence", occ.Key.String(), "status", e.Status, "error", err)
		}
	}()
}

func (s *Scheduler) sendReminder(occ dose.Occurrence, stage string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.notifier.SendReminder(occ, stage); err != nil {
			s.logger.Error("send reminder", "occurrence", occ.Key.String(), "stage", stage, "error", err)
		}
	}()
}

func (s *Scheduler) sendFamilyAlert(occ dose.Occurrence) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.notifier.SendFamilyAlert(occ); err != nil {
			s.logger.Error("send family alert", "occurrence", occ.Key.String(), "error", err)
		}
	}()
}

func (s *Scheduler) recordSnoozeChoice(occ dose.Occurrence, minutes int) {
	choice := model.SnoozeChoice{
		MedicationID: occ.MedicationID,
		UserID:       occ.UserID,
		Minutes:      minutes,
		ChosenAt:     s.clock.Now(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.storage.RecordSnoozeChoice(choice); err != nil {
			s.logger.Warn("record snooze choice", "error", err)
		}
	}()
}

func occurrenceFor(sched model.MedicationSchedule, key dose.Key, scheduledAt time.Time) dose.Occurrence {
	return dose.Occurrence{
		Key:            key,
		UserID:         sched.UserID,
		MedicationID:   sched.ID,
		MedicationName: sched.Name,
		Dosage:         sched.Dosage,
		Kind:           sched.Kind,
		ScheduledAt:    scheduledAt,
	}
}
