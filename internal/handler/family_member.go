package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dosewell/dosewell/internal/model"
	"github.com/dosewell/dosewell/internal/store"
)

type FamilyMemberHandler struct {
	storage store.Storage
	logger  *slog.Logger
}

func NewFamilyMemberHandler(storage store.Storage, logger *slog.Logger) *FamilyMemberHandler {
	return &FamilyMemberHandler{storage: storage, logger: logger}
}

// List handles GET /api/family-members
func (h *FamilyMemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.storage.FamilyMembersForUser(requestUserID(r))
	if err != nil {
		h.logger.Error("list family members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list family members")
		return
	}
	if members == nil {
		members = []model.FamilyMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

type familyMemberRequest struct {
	Name     string `json:"name"`
	Relation string `json:"relation"`
}

// Create handles POST /api/family-members
func (h *FamilyMemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req familyMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	member, err := h.storage.CreateFamilyMember(model.FamilyMember{
		UserID:   requestUserID(r),
		Name:     req.Name,
		Relation: strings.TrimSpace(req.Relation),
	})
	if err != nil {
		h.logger.Error("create family member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create family member")
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

// Delete handles DELETE /api/family-members/{id}
func (h *FamilyMemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	member, ok := h.ownedMember(w, r)
	if !ok {
		return
	}
	if err := h.storage.DeleteFamilyMember(member.ID); err != nil {
		h.logger.Error("delete family member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete family member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Designate handles POST /api/family-members/{id}/designate. The designated
// member is the escalation contact; there is at most one per user, so this
// clears any previous designation.
func (h *FamilyMemberHandler) Designate(w http.ResponseWriter, r *http.Request) {
	member, ok := h.ownedMember(w, r)
	if !ok {
		return
	}
	if err := h.storage.DesignateFamilyMember(member.UserID, member.ID); err != nil {
		h.logger.Error("designate family member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to designate")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "designated"})
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// SetPIN handles POST /api/family-members/{id}/pin. The PIN lets the family
// member acknowledge alerts on a shared device.
func (h *FamilyMemberHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	member, ok := h.ownedMember(w, r)
	if !ok {
		return
	}

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.PIN) < 4 || len(req.PIN) > 8 || !isDigits(req.PIN) {
		writeError(w, http.StatusBadRequest, "PIN must be 4-8 digits")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash pin", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set PIN")
		return
	}
	if err := h.storage.SetFamilyMemberPIN(member.ID, string(hash)); err != nil {
		h.logger.Error("set pin", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set PIN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pin set"})
}

// ClearPIN handles DELETE /api/family-members/{id}/pin
func (h *FamilyMemberHandler) ClearPIN(w http.ResponseWriter, r *http.Request) {
	member, ok := h.ownedMember(w, r)
	if !ok {
		return
	}
	if err := h.storage.SetFamilyMemberPIN(member.ID, ""); err != nil {
		h.logger.Error("clear pin", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear PIN")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyPIN handles POST /api/family-members/{id}/pin/verify
func (h *FamilyMemberHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	member, ok := h.ownedMember(w, r)
	if !ok {
		return
	}

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	hash, err := h.storage.FamilyMemberPINHash(member.ID)
	if err != nil {
		h.logger.Error("get pin hash", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify PIN")
		return
	}
	if hash == "" {
		writeError(w, http.StatusConflict, "no PIN set")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.PIN)); err != nil {
		writeError(w, http.StatusUnauthorized, "incorrect PIN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *FamilyMemberHandler) ownedMember(w http.ResponseWriter, r *http.Request) (*model.FamilyMember, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	member, err := h.storage.FamilyMemberByID(id)
	if err != nil {
		h.logger.Error("get family member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get family member")
		return nil, false
	}
	if member == nil || member.UserID != requestUserID(r) {
		writeError(w, http.StatusNotFound, "family member not found")
		return nil, false
	}
	return member, true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
