package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dosewell/dosewell/internal/dose"
	"github.com/dosewell/dosewell/internal/escalation"
	"github.com/dosewell/dosewell/internal/model"
	"github.com/dosewell/dosewell/internal/recurrence"
	"github.com/dosewell/dosewell/internal/store"
)

type DoseHandler struct {
	storage store.Storage
	engine  *escalation.Engine
	logger  *slog.Logger
}

func NewDoseHandler(storage store.Storage, engine *escalation.Engine, logger *slog.Logger) *DoseHandler {
	return &DoseHandler{storage: storage, engine: engine, logger: logger}
}

type responseRequest struct {
	Kind    string `json:"kind"`
	Minutes int    `json:"minutes"`
}

// Respond handles POST /api/doses/{key}/response. The key is the occurrence
// identity "scheduleID:date:time". For a snooze without minutes, the
// advisor's recommendation applies.
func (h *DoseHandler) Respond(w http.ResponseWriter, r *http.Request) {
	key, err := dose.ParseKey(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req responseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	userID := requestUserID(r)
	err = h.engine.ForUser(userID).RecordResponse(r.Context(), key, req.Kind, req.Minutes)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	case errors.Is(err, escalation.ErrUnknownOccurrence):
		writeError(w, http.StatusNotFound, "occurrence not tracked")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// SnoozeRecommendation handles GET /api/doses/{key}/snooze-recommendation.
func (h *DoseHandler) SnoozeRecommendation(w http.ResponseWriter, r *http.Request) {
	key, err := dose.ParseKey(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.engine.ForUser(requestUserID(r)).RecommendSnooze(r.Context(), key)
	if err != nil {
		if errors.Is(err, escalation.ErrUnknownOccurrence) {
			writeError(w, http.StatusNotFound, "occurrence not tracked")
			return
		}
		h.logger.Error("snooze recommendation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to recommend")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type rolloverRequest struct {
	Date string `json:"date"`
}

// Rollover handles POST /api/rollover. Normally the engine rolls over on its
// own at midnight; this endpoint exists for kiosks that sleep through it and
// for operational poking.
func (h *DoseHandler) Rollover(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	var req rolloverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Date != "" {
		// Anchor in the server's zone, like the engine's own midnight
		// rollover does.
		parsed, err := time.ParseInLocation("2006-01-02", req.Date, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	if err := h.engine.RolloverAll(r.Context(), date); err != nil {
		h.logger.Error("rollover", "error", err)
		writeError(w, http.StatusInternalServerError, "rollover failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"date": date.Format("2006-01-02")})
}

type reportEntry struct {
	Occurrence string     `json:"occurrence"`
	Medication string     `json:"medication"`
	Dosage     string     `json:"dosage"`
	Time       string     `json:"time"`
	Status     string     `json:"status"`
	ActualAt   *time.Time `json:"actual_at,omitempty"`
}

type dayReport struct {
	Date    string         `json:"date"`
	Entries []reportEntry  `json:"entries"`
	Totals  map[string]int `json:"totals"`
}

// Report handles GET /api/report?date=YYYY-MM-DD. It joins the day's derived
// occurrences with the adherence log; occurrences without a terminal log yet
// show as "pending".
func (h *DoseHandler) Report(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	userID := requestUserID(r)

	schedules, err := h.storage.LoadSchedulesForUser(userID)
	if err != nil {
		h.logger.Error("list schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	logs, err := h.storage.AdherenceLogsForUser(userID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		h.logger.Error("list adherence logs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	// Join on the calendar date and time of day, each log rendered in its
	// own zone. The scheduler anchors ScheduledAt wherever its clock lives,
	// so matching instants against a fixed zone would miss every entry in a
	// non-UTC deployment.
	type logKey struct {
		medicationID int64
		at           string // "2006-01-02 15:04"
	}
	byOccurrence := make(map[logKey]model.AdherenceLog, len(logs))
	for _, l := range logs {
		byOccurrence[logKey{l.MedicationID, l.ScheduledAt.Format("2006-01-02 15:04")}] = l
	}

	report := dayReport{
		Date:    date.Format("2006-01-02"),
		Entries: []reportEntry{},
		Totals:  map[string]int{},
	}
	for _, sched := range schedules {
		times, err := recurrence.ResolveOn(sched, date)
		if err != nil {
			h.logger.Error("resolve schedule", "schedule_id", sched.ID, "error", err)
			continue
		}
		for _, tod := range times {
			key := dose.Key{ScheduleID: sched.ID, Date: report.Date, Time: tod}
			entry := reportEntry{
				Occurrence: key.String(),
				Medication: sched.Name,
				Dosage:     sched.Dosage,
				Time:       tod,
				Status:     "pending",
			}
			if l, ok := byOccurrence[logKey{sched.ID, report.Date + " " + tod}]; ok {
				entry.Status = l.Status
				at := l.ActualAt
				entry.ActualAt = &at
			}
			report.Entries = append(report.Entries, entry)
			report.Totals[entry.Status]++
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// History handles GET /api/adherence?from=YYYY-MM-DD&to=YYYY-MM-DD. Range
// bounds are anchored in the server's zone, matching the logs the scheduler
// writes.
func (h *DoseHandler) History(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now.AddDate(0, 0, 1)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}

	logs, err := h.storage.AdherenceLogsForUser(requestUserID(r), from, to)
	if err != nil {
		h.logger.Error("list adherence logs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if logs == nil {
		logs = []model.AdherenceLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
