package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dosewell/dosewell/internal/model"
	"github.com/dosewell/dosewell/internal/store"
)

type SettingsHandler struct {
	storage store.Storage
	logger  *slog.Logger
}

func NewSettingsHandler(storage store.Storage, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{storage: storage, logger: logger}
}

// GetReminders handles GET /api/settings/reminders
func (h *SettingsHandler) GetReminders(w http.ResponseWriter, r *http.Request) {
	settings, err := h.storage.ReminderSettings(requestUserID(r))
	if err != nil {
		h.logger.Error("get reminder settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateReminders handles PUT /api/settings/reminders. Changes apply to
// occurrences tracked from the next day rollover on; doses already alerting
// keep the timeline they started with.
func (h *SettingsHandler) UpdateReminders(w http.ResponseWriter, r *http.Request) {
	var req model.ReminderSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.InitialDuration < 1 || req.SecondAlertDelay < 1 || req.FamilyAlertDelay < 1 {
		writeError(w, http.StatusBadRequest, "all durations must be at least 1 minute")
		return
	}
	if req.FamilyAlertDelay <= req.InitialDuration {
		writeError(w, http.StatusBadRequest, "family alert delay must exceed the initial duration")
		return
	}

	if err := h.storage.SetReminderSettings(requestUserID(r), req); err != nil {
		h.logger.Error("set reminder settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, req)
}
