package snooze

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Interval bounds in minutes. Recommend never returns a value outside
// [MinInterval, MaxInterval], no matter what history or the text-generation
// collaborator produce.
const (
	MinInterval = 5
	MaxInterval = 60

	baselineInterval = 10

	// A next dose or appointment inside this window counts as imminent and
	// pulls the recommendation down.
	imminentWindow = 90 * time.Minute
)

// Medication kinds where a long snooze defeats the dosing regimen.
var shortLeashKinds = map[string]int{
	"antibiotic": 15,
	"insulin":    15,
}

// Context is the schedule situation at recommendation time.
type Context struct {
	Now           time.Time
	NextDoseAt    *time.Time
	AppointmentAt *time.Time
}

type Recommendation struct {
	Minutes   int    `json:"minutes"`
	Rationale string `json:"rationale"`
}

// Generator phrases the rationale. Failures are never fatal; the advisor
// falls back to a fixed template.
type Generator interface {
	Generate(ctx context.Context, facts map[string]string) (string, error)
}

type Advisor struct {
	gen    Generator
	logger *slog.Logger
}

// NewAdvisor creates an advisor. gen may be nil, in which case rationales
// always use the fallback template.
func NewAdvisor(gen Generator, logger *slog.Logger) *Advisor {
	return &Advisor{gen: gen, logger: logger}
}

// Recommend proposes a snooze interval for a medication. With no history it
// returns the fixed baseline; otherwise it biases toward the median of past
// choices, shortens for short-leash medication kinds, and shortens further
// when the schedule context says the next dose or an appointment is imminent.
func (a *Advisor) Recommend(ctx context.Context, kind string, pastIntervals []int, sctx Context) Recommendation {
	minutes := baselineInterval
	reason := "no snooze history; using the standard interval"

	if len(pastIntervals) > 0 {
		minutes = median(pastIntervals)
		reason = fmt.Sprintf("based on your usual snooze of about %d minutes", minutes)
	}

	if cap, ok := shortLeashKinds[kind]; ok && minutes > cap {
		minutes = cap
		reason = fmt.Sprintf("kept short because %s doses are time-sensitive", kind)
	}

	if gap, imminent := nextEventGap(sctx); imminent {
		capped := int(gap.Minutes()) / 2
		if capped < minutes {
			minutes = capped
			reason = "shortened because your next dose or appointment is coming up"
		}
	}

	minutes = clamp(minutes)

	return Recommendation{
		Minutes:   minutes,
		Rationale: a.phrase(ctx, kind, minutes, reason),
	}
}

func (a *Advisor) phrase(ctx context.Context, kind string, minutes int, reason string) string {
	fallback := fmt.Sprintf("Snoozing for %d minutes (%s).", minutes, reason)
	if a.gen == nil {
		return fallback
	}

	text, err := a.gen.Generate(ctx, map[string]string{
		"medication_kind": kind,
		"minutes":         fmt.Sprintf("%d", minutes),
		"reason":          reason,
	})
	if err != nil || text == "" {
		a.logger.Debug("rationale generation failed, using template", "error", err)
		return fallback
	}
	return text
}

func nextEventGap(sctx Context) (time.Duration, bool) {
	var next *time.Time
	for _, t := range []*time.Time{sctx.NextDoseAt, sctx.AppointmentAt} {
		if t == nil || t.Before(sctx.Now) {
			continue
		}
		if next == nil || t.Before(*next) {
			next = t
		}
	}
	if next == nil {
		return 0, false
	}
	gap := next.Sub(sctx.Now)
	return gap, gap <= imminentWindow
}

func median(values []int) int {
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clamp(minutes int) int {
	if minutes < MinInterval {
		return MinInterval
	}
	if minutes > MaxInterval {
		return MaxInterval
	}
	return minutes
}
