package escalation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dosewell/dosewell/internal/snooze"
	"github.com/dosewell/dosewell/internal/store"
)

// Engine owns one Scheduler per user and fans engine-wide events (day
// rollover, startup recovery, shutdown) out to them. Schedulers are created
// lazily and live until Shutdown.
type Engine struct {
	storage      store.Storage
	notifier     Notifier
	advisor      *snooze.Advisor
	clock        Clock
	logger       *slog.Logger
	onTransition TransitionFunc

	mu         sync.Mutex
	schedulers map[int64]*Scheduler
	stopped    bool
}

func NewEngine(storage store.Storage, notifier Notifier, advisor *snooze.Advisor, clock Clock, logger *slog.Logger, onTransition TransitionFunc) *Engine {
	return &Engine{
		storage:      storage,
		notifier:     notifier,
		advisor:      advisor,
		clock:        clock,
		logger:       logger,
		onTransition: onTransition,
		schedulers:   make(map[int64]*Scheduler),
	}
}

// ForUser returns the user's scheduler, creating it on first use. A request
// racing Shutdown gets a scheduler that is already stopped, so its methods
// return ErrShuttingDown instead of leaking a loop the engine will never
// stop.
func (e *Engine) ForUser(userID int64) *Scheduler {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.schedulers[userID]; ok {
		return s
	}
	s := NewScheduler(userID, e.storage, e.notifier, e.advisor, e.clock, e.logger, e.onTransition)
	if e.stopped {
		s.Shutdown()
		return s
	}
	e.schedulers[userID] = s
	return s
}

// DropSchedule removes a deleted schedule's tracked occurrences so a
// medication deleted before its dose time never alerts or logs.
func (e *Engine) DropSchedule(userID, scheduleID int64) error {
	return e.ForUser(userID).DropSchedule(scheduleID)
}

// ResyncSchedule re-derives the current day's unstarted occurrences after a
// schedule edit.
func (e *Engine) ResyncSchedule(ctx context.Context, userID, scheduleID int64) error {
	return e.ForUser(userID).ResyncSchedule(ctx, scheduleID)
}

// RolloverAll resolves the given date for every user that has schedules,
// plus any user already holding a scheduler. Errors are collected, not
// short-circuited: one user's bad schedule must not stall the rest.
func (e *Engine) RolloverAll(ctx context.Context, date time.Time) error {
	var errs []error
	for _, s := range e.allSchedulers() {
		if err := s.OnDayRollover(ctx, date); err != nil {
			e.logger.Error("day rollover", "user_id", s.userID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecoverAll runs startup recovery for every user with schedules.
func (e *Engine) RecoverAll(ctx context.Context, now time.Time) error {
	var errs []error
	for _, s := range e.allSchedulers() {
		if err := s.Recover(ctx, now); err != nil {
			e.logger.Error("recovery", "user_id", s.userID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) allSchedulers() []*Scheduler {
	userIDs, err := e.storage.ScheduleUserIDs()
	if err != nil {
		e.logger.Error("list users with schedules", "error", err)
	}
	for _, id := range userIDs {
		e.ForUser(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Scheduler, 0, len(e.schedulers))
	for _, s := range e.schedulers {
		out = append(out, s)
	}
	return out
}

// Shutdown stops every scheduler and waits for their in-flight work.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	schedulers := make([]*Scheduler, 0, len(e.schedulers))
	for _, s := range e.schedulers {
		schedulers = append(schedulers, s)
	}
	e.mu.Unlock()

	for _, s := range schedulers {
		s.Shutdown()
	}
}
