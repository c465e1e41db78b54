package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dosewell/dosewell/internal/model"
	"github.com/dosewell/dosewell/internal/notify"
	"github.com/dosewell/dosewell/internal/store"
)

type PushHandler struct {
	storage store.Storage
	service *notify.Service
	logger  *slog.Logger
}

func NewPushHandler(storage store.Storage, service *notify.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{storage: storage, service: service, logger: logger}
}

type subscribeRequest struct {
	Endpoint       string `json:"endpoint"`
	P256dh         string `json:"p256dh"`
	Auth           string `json:"auth"`
	DeviceName     string `json:"device_name"`
	FamilyMemberID *int64 `json:"family_member_id"`
}

// Subscribe handles POST /api/push/subscribe. A subscription carrying a
// family_member_id belongs to that member's device and receives escalation
// alerts instead of the user's own reminders.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh, and auth are required")
		return
	}

	userID := requestUserID(r)
	if req.FamilyMemberID != nil {
		member, err := h.storage.FamilyMemberByID(*req.FamilyMemberID)
		if err != nil {
			h.logger.Error("get family member", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save subscription")
			return
		}
		if member == nil || member.UserID != userID {
			writeError(w, http.StatusNotFound, "family member not found")
			return
		}
	}

	sub, err := h.storage.SavePushSubscription(model.PushSubscription{
		UserID:         userID,
		FamilyMemberID: req.FamilyMemberID,
		Endpoint:       req.Endpoint,
		P256dhKey:      req.P256dh,
		AuthKey:        req.Auth,
		DeviceName:     req.DeviceName,
	})
	if err != nil {
		h.logger.Error("save push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.storage.DeletePushSubscription(id); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.storage.PushSubscriptionsForUser(requestUserID(r))
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}
