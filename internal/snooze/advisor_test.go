package snooze

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestAdvisor(gen Generator) *Advisor {
	return NewAdvisor(gen, slog.Default())
}

func TestRecommendBaselineWithoutHistory(t *testing.T) {
	a := newTestAdvisor(nil)

	rec := a.Recommend(context.Background(), "tablet", nil, Context{Now: time.Now()})
	if rec.Minutes != 10 {
		t.Errorf("baseline = %d, want 10", rec.Minutes)
	}
	if rec.Rationale == "" {
		t.Error("rationale should not be empty")
	}
}

func TestRecommendBiasesTowardMedian(t *testing.T) {
	a := newTestAdvisor(nil)

	rec := a.Recommend(context.Background(), "tablet", []int{20, 5, 20, 25, 20}, Context{Now: time.Now()})
	if rec.Minutes != 20 {
		t.Errorf("minutes = %d, want median 20", rec.Minutes)
	}

	rec = a.Recommend(context.Background(), "tablet", []int{10, 20}, Context{Now: time.Now()})
	if rec.Minutes != 15 {
		t.Errorf("even-length median = %d, want 15", rec.Minutes)
	}
}

func TestRecommendBoundHolds(t *testing.T) {
	a := newTestAdvisor(nil)

	histories := [][]int{
		nil,
		{},
		{1},
		{0, 0, 0},
		{120, 240},
		{-5, -10},
		{5, 60, 5, 60, 5},
		{7, 300, 2},
	}

	for _, past := range histories {
		rec := a.Recommend(context.Background(), "tablet", past, Context{Now: time.Now()})
		if rec.Minutes < MinInterval || rec.Minutes > MaxInterval {
			t.Errorf("Recommend(%v) = %d, outside [%d,%d]", past, rec.Minutes, MinInterval, MaxInterval)
		}
	}
}

func TestRecommendShortensForImminentDose(t *testing.T) {
	a := newTestAdvisor(nil)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	next := now.Add(30 * time.Minute)
	rec := a.Recommend(context.Background(), "tablet", []int{40, 40, 40}, Context{Now: now, NextDoseAt: &next})

	// Half the 30-minute gap.
	if rec.Minutes != 15 {
		t.Errorf("minutes = %d, want 15 (half of 30m gap)", rec.Minutes)
	}

	// A very close dose still respects the lower bound.
	soon := now.Add(6 * time.Minute)
	rec = a.Recommend(context.Background(), "tablet", []int{40}, Context{Now: now, NextDoseAt: &soon})
	if rec.Minutes != MinInterval {
		t.Errorf("minutes = %d, want floor %d", rec.Minutes, MinInterval)
	}
}

func TestRecommendDistantDoseNoEffect(t *testing.T) {
	a := newTestAdvisor(nil)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	next := now.Add(4 * time.Hour)
	rec := a.Recommend(context.Background(), "tablet", []int{30, 30, 30}, Context{Now: now, NextDoseAt: &next})
	if rec.Minutes != 30 {
		t.Errorf("minutes = %d, want 30 (next dose not imminent)", rec.Minutes)
	}
}

func TestRecommendAppointmentCountsToo(t *testing.T) {
	a := newTestAdvisor(nil)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	appt := now.Add(20 * time.Minute)
	rec := a.Recommend(context.Background(), "tablet", []int{40}, Context{Now: now, AppointmentAt: &appt})
	if rec.Minutes != 10 {
		t.Errorf("minutes = %d, want 10 (half of 20m gap)", rec.Minutes)
	}
}

func TestRecommendShortLeashKinds(t *testing.T) {
	a := newTestAdvisor(nil)

	rec := a.Recommend(context.Background(), "antibiotic", []int{45, 45, 45}, Context{Now: time.Now()})
	if rec.Minutes != 15 {
		t.Errorf("antibiotic minutes = %d, want capped 15", rec.Minutes)
	}
}

type stubGenerator struct {
	text string
	err  error
}

func (g stubGenerator) Generate(context.Context, map[string]string) (string, error) {
	return g.text, g.err
}

func TestRecommendGeneratorFailureFallsBack(t *testing.T) {
	a := newTestAdvisor(stubGenerator{err: errors.New("upstream down")})

	rec := a.Recommend(context.Background(), "tablet", []int{30}, Context{Now: time.Now()})
	if rec.Minutes != 30 {
		t.Errorf("minutes = %d, want 30; generator failure must not change the interval", rec.Minutes)
	}
	if !strings.Contains(rec.Rationale, "30 minutes") {
		t.Errorf("fallback rationale = %q, want the template", rec.Rationale)
	}
}

func TestRecommendGeneratorTextUsed(t *testing.T) {
	a := newTestAdvisor(stubGenerator{text: "A short break, then back to it."})

	rec := a.Recommend(context.Background(), "tablet", nil, Context{Now: time.Now()})
	if rec.Rationale != "A short break, then back to it." {
		t.Errorf("rationale = %q, want generated text", rec.Rationale)
	}
	if rec.Minutes != 10 {
		t.Errorf("minutes = %d, generated text must not affect the interval", rec.Minutes)
	}
}
