package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dosewell/dosewell/internal/escalation"
	"github.com/dosewell/dosewell/internal/model"
	"github.com/dosewell/dosewell/internal/recurrence"
	"github.com/dosewell/dosewell/internal/store"
)

type ScheduleHandler struct {
	storage store.Storage
	engine  *escalation.Engine
	logger  *slog.Logger
}

func NewScheduleHandler(storage store.Storage, engine *escalation.Engine, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{storage: storage, engine: engine, logger: logger}
}

type scheduleRequest struct {
	Name           string   `json:"name"`
	Dosage         string   `json:"dosage"`
	Kind           string   `json:"kind"`
	RecurrenceRule string   `json:"recurrence_rule"`
	Times          []string `json:"times"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	FoodRelation   string   `json:"food_relation"`
	FoodOffsetMin  int      `json:"food_offset_min"`
}

func (req *scheduleRequest) toModel(userID int64) (model.MedicationSchedule, error) {
	s := model.MedicationSchedule{
		UserID:         userID,
		Name:           strings.TrimSpace(req.Name),
		Dosage:         strings.TrimSpace(req.Dosage),
		Kind:           strings.ToLower(strings.TrimSpace(req.Kind)),
		RecurrenceRule: req.RecurrenceRule,
		Times:          req.Times,
		FoodRelation:   req.FoodRelation,
		FoodOffsetMin:  req.FoodOffsetMin,
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return s, err
	}
	s.StartDate = start

	if req.EndDate != "" {
		end, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return s, err
		}
		s.EndDate = &end
	}
	return s, nil
}

// Create handles POST /api/schedules
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	sched, err := req.toModel(requestUserID(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}
	if sched.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := recurrence.ValidateSchedule(sched); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.storage.CreateSchedule(sched)
	if err != nil {
		h.logger.Error("create schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/schedules
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.storage.LoadSchedulesForUser(requestUserID(r))
	if err != nil {
		h.logger.Error("list schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	if schedules == nil {
		schedules = []model.MedicationSchedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

// Get handles GET /api/schedules/{id}
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	sched, err := h.storage.ScheduleByID(id)
	if err != nil {
		h.logger.Error("get schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get schedule")
		return
	}
	if sched == nil || sched.UserID != requestUserID(r) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// Update handles PUT /api/schedules/{id}
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.storage.ScheduleByID(id)
	if err != nil {
		h.logger.Error("get schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get schedule")
		return
	}
	if existing == nil || existing.UserID != requestUserID(r) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sched, err := req.toModel(existing.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}
	sched.ID = existing.ID
	if sched.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := recurrence.ValidateSchedule(sched); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.storage.UpdateSchedule(sched)
	if err != nil {
		h.logger.Error("update schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}

	// Re-derive today's not-yet-started occurrences so an edited times list
	// takes effect immediately; doses already alerting keep their timeline.
	if err := h.engine.ResyncSchedule(r.Context(), updated.UserID, updated.ID); err != nil {
		h.logger.Error("resync schedule tracking", "schedule_id", updated.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/schedules/{id}. Past adherence history is kept;
// only the schedule (and with it all future derived occurrences) goes away.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.storage.ScheduleByID(id)
	if err != nil {
		h.logger.Error("get schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get schedule")
		return
	}
	if existing == nil || existing.UserID != requestUserID(r) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}

	if err := h.storage.DeleteSchedule(id); err != nil {
		h.logger.Error("delete schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}

	// Stop tracking today's occurrences too, or the deleted medication would
	// keep alerting (and log a missed dose) until the next rollover.
	if err := h.engine.DropSchedule(existing.UserID, id); err != nil {
		h.logger.Error("drop schedule tracking", "schedule_id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
