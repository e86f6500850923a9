package handlers

import (
	"errors"
	"net/http"

	"github.com/sdko-org/lookup-relay/internal/store"
)

type lookupRequest struct {
	UserID  int64  `json:"user_id"`
	Command string `json:"command"`
	Query   string `json:"query"`
}

// HandleLookup runs one lookup and returns its presentation.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == 0 || req.Command == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and command are required")
		return
	}

	presentation := h.service.ProcessLookup(r.Context(), req.UserID, req.Command, req.Query)
	h.writeJSON(w, statusFor(presentation.ReasonCode), presentation)
}

// HandleAddUser registers a chat profile on first contact.
func (h *Handler) HandleAddUser(w http.ResponseWriter, r *http.Request) {
	var profile store.Profile
	if err := decodeJSON(w, r, &profile); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if profile.UserID == 0 {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	user, created, err := h.service.AddUser(r.Context(), profile)
	if err != nil {
		h.log.WithError(err).WithField("user_id", profile.UserID).Error("Failed to add user")
		h.writeError(w, http.StatusInternalServerError, "failed to add user")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, user)
}

func (h *Handler) HandleUserStats(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDVar(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.service.UserStats(r.Context(), userID)
	if errors.Is(err, store.ErrUserNotFound) {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to load user stats")
		h.writeError(w, http.StatusInternalServerError, "failed to load user stats")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
