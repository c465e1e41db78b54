package dose

import (
	"fmt"
	"time"

	"github.com/dosewell/dosewell/internal/model"
)

// State is the lifecycle position of one tracked occurrence.
type State int

const (
	StateScheduled State = iota
	StateAlerting
	StateSnoozed
	StateResolved
)

var stateNames = map[State]string{
	StateScheduled: "scheduled",
	StateAlerting:  "alerting",
	StateSnoozed:   "snoozed",
	StateResolved:  "resolved",
}

func (s State) String() string { return stateNames[s] }

// Response is a user action routed into the machine.
type Response int

const (
	ResponseTaken Response = iota
	ResponseSkip
	ResponseMissed
	ResponseStockOut
	ResponseMute
	ResponseSnooze
	ResponseCancelSnooze
)

var responseFromName = map[string]Response{
	"taken":         ResponseTaken,
	"skip":          ResponseSkip,
	"missed":        ResponseMissed,
	"stock_out":     ResponseStockOut,
	"mute":          ResponseMute,
	"snooze":        ResponseSnooze,
	"cancel_snooze": ResponseCancelSnooze,
}

// ParseResponse maps a wire-level response kind to a Response.
func ParseResponse(kind string) (Response, error) {
	r, ok := responseFromName[kind]
	if !ok {
		return 0, fmt.Errorf("unknown response kind: %q", kind)
	}
	return r, nil
}

// Trigger distinguishes how a terminal transition came about. The persisted
// status vocabulary does not widen for this; it only informs side effects
// (the family alert fires on timeout-missed, never on user-dismissed-missed).
type Trigger int

const (
	TriggerUser Trigger = iota
	TriggerTimeout
)

// Reminder stages.
const (
	StageInitial = "initial"
	StageRepeat  = "repeat"
)

// Effect is a side effect the machine requests. The machine itself never
// touches storage, notification delivery, or timers; its owner executes
// effects and serializes them per occurrence.
type Effect interface{ isEffect() }

// Remind requests a reminder notification at the given stage.
type Remind struct{ Stage string }

// ArmTimer requests the single pending timer for this occurrence be
// (re)armed to fire after the given duration. Arming always replaces any
// previously armed timer.
type ArmTimer struct{ After time.Duration }

// WriteLog requests the terminal adherence log. Exactly one WriteLog is
// emitted per occurrence.
type WriteLog struct {
	Status  string
	Trigger Trigger
	At      time.Time
}

// FamilyAlert requests the designated family member be notified. Emitted
// only alongside a timeout-forced missed WriteLog.
type FamilyAlert struct{}

func (Remind) isEffect()      {}
func (ArmTimer) isEffect()    {}
func (WriteLog) isEffect()    {}
func (FamilyAlert) isEffect() {}

// Machine governs the lifecycle of a single dose occurrence. It is a plain
// value-semantics state machine: callers feed it Start/Respond/Timeout and
// execute the returned effects. All methods are no-ops once resolved, which
// gives the one-terminal-log idempotency invariant its teeth.
//
// Machine is not safe for concurrent use; the escalation scheduler serializes
// all access through its per-user event loop.
type Machine struct {
	occ         Occurrence
	settings    model.ReminderSettings
	state       State
	snoozeCount int
	outcome     string
}

func NewMachine(occ Occurrence, settings model.ReminderSettings) *Machine {
	return &Machine{occ: occ, settings: settings, state: StateScheduled}
}

func (m *Machine) Occurrence() Occurrence { return m.occ }
func (m *Machine) State() State           { return m.state }
func (m *Machine) SnoozeCount() int       { return m.snoozeCount }

// Outcome returns the terminal status once resolved, "" before that.
func (m *Machine) Outcome() string { return m.outcome }

// Start fires when the scheduled time arrives: Scheduled -> Alerting with an
// initial reminder and the first response-window timer.
func (m *Machine) Start(now time.Time) []Effect {
	if m.state != StateScheduled {
		return nil
	}
	m.state = StateAlerting
	return []Effect{
		Remind{Stage: StageInitial},
		ArmTimer{After: m.capToDeadline(m.settings.Initial(), now)},
	}
}

// Respond applies a user action. snoozeMinutes is consulted only for
// ResponseSnooze (the advisor-recommended interval). Responses against a
// resolved occurrence return nil: repeated delivery produces no new log.
func (m *Machine) Respond(r Response, snoozeMinutes int, now time.Time) []Effect {
	if m.state == StateResolved || m.state == StateScheduled {
		return nil
	}

	switch r {
	case ResponseTaken:
		return m.resolve(model.StatusTaken, TriggerUser, now)
	case ResponseSkip:
		return m.resolve(model.StatusSkipped, TriggerUser, now)
	case ResponseMissed:
		return m.resolve(model.StatusMissed, TriggerUser, now)
	case ResponseStockOut:
		return m.resolve(model.StatusStockOut, TriggerUser, now)
	case ResponseMute:
		return m.resolve(model.StatusMuted, TriggerUser, now)

	case ResponseSnooze:
		if m.state != StateAlerting {
			return nil
		}
		m.state = StateSnoozed
		m.snoozeCount++
		return []Effect{
			ArmTimer{After: m.capToDeadline(time.Duration(snoozeMinutes)*time.Minute, now)},
		}

	case ResponseCancelSnooze:
		if m.state != StateSnoozed {
			return nil
		}
		m.state = StateAlerting
		return []Effect{
			Remind{Stage: StageRepeat},
			ArmTimer{After: m.capToDeadline(m.settings.Repeat(), now)},
		}
	}
	return nil
}

// Timeout fires when the occurrence's pending timer expires while Alerting
// or Snoozed. Once total elapsed time reaches the family-alert deadline the
// occurrence is force-resolved to missed, exactly once.
func (m *Machine) Timeout(now time.Time) []Effect {
	switch m.state {
	case StateAlerting, StateSnoozed:
	default:
		return nil
	}

	if now.Sub(m.occ.ScheduledAt) >= m.settings.FamilyDeadline() {
		effects := m.resolve(model.StatusMissed, TriggerTimeout, now)
		return append(effects, FamilyAlert{})
	}

	// Snooze expiry re-enters the alert cycle; an unanswered alert repeats.
	m.state = StateAlerting
	return []Effect{
		Remind{Stage: StageRepeat},
		ArmTimer{After: m.capToDeadline(m.settings.Repeat(), now)},
	}
}

func (m *Machine) resolve(status string, trigger Trigger, now time.Time) []Effect {
	m.state = StateResolved
	m.outcome = status
	return []Effect{WriteLog{Status: status, Trigger: trigger, At: now}}
}

// capToDeadline clamps a timer so it never overshoots the family-alert
// deadline; the forced-missed transition must land exactly on it.
func (m *Machine) capToDeadline(d time.Duration, now time.Time) time.Duration {
	deadline := m.occ.ScheduledAt.Add(m.settings.FamilyDeadline())
	if remaining := deadline.Sub(now); remaining < d {
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return d
}
