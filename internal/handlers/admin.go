package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sdko-org/lookup-relay/internal/cache"
	"github.com/sdko-org/lookup-relay/internal/store"
	"github.com/sirupsen/logrus"
)

type creditsRequest struct {
	Amount int `json:"amount"`
}

type apiStatsResponse struct {
	Services []store.APIPerformance `json:"services"`
	Cache    cache.Stats            `json:"cache"`
}

type lookupPayloadResponse struct {
	LookupUUID string `json:"lookup_uuid"`
	UserID     int64  `json:"user_id"`
	Command    string `json:"command"`
	Query      string `json:"query"`
	Status     string `json:"status"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Archived   bool   `json:"archived"`

	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) HandleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.AdminStats(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to build admin stats")
		h.writeError(w, http.StatusInternalServerError, "failed to build admin stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleAPIStats(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.APIStats(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to load api stats")
		h.writeError(w, http.StatusInternalServerError, "failed to load api stats")
		return
	}
	resp := apiStatsResponse{Services: services}
	if h.cache != nil {
		resp.Cache = h.cache.Stats()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleBan(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, true)
}

func (h *Handler) HandleUnban(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, false)
}

func (h *Handler) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	userID, err := userIDVar(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.SetBanned(r.Context(), userID, banned); err != nil {
		h.writeStoreError(w, err, userID, "failed to update ban state")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "is_banned": banned})
}

func (h *Handler) HandleAddCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDVar(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req creditsRequest
	if err := decodeStrictJSON(w, r, &req); err != nil || req.Amount == 0 {
		h.writeError(w, http.StatusBadRequest, "non-zero amount is required")
		return
	}

	balance, err := h.admin.AddCredits(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeStoreError(w, err, userID, "failed to update credits")
		return
	}
	h.log.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  req.Amount,
		"credits": balance,
	}).Info("Adjusted credits")
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "credits": balance})
}

func (h *Handler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDVar(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.DeleteUser(r.Context(), userID); err != nil {
		h.writeStoreError(w, err, userID, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDVar(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	command := strings.ToLower(mux.Vars(r)["command"])
	if err := h.limiter.Reset(r.Context(), userID, command); err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to reset rate limit")
		h.writeError(w, http.StatusInternalServerError, "failed to reset rate limit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandlePurgeCache(w http.ResponseWriter, r *http.Request) {
	removed := 0
	if h.cache != nil {
		removed = h.cache.Purge()
	}
	h.log.WithField("removed", removed).Info("Purged response cache")
	h.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// HandleLookupPayload returns a recorded lookup with its stored payload.
func (h *Handler) HandleLookupPayload(w http.ResponseWriter, r *http.Request) {
	lookupUUID := mux.Vars(r)["uuid"]
	record, payload, err := h.admin.LookupPayload(r.Context(), lookupUUID)
	if errors.Is(err, store.ErrLookupNotFound) {
		h.writeError(w, http.StatusNotFound, "lookup not found")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("lookup_uuid", lookupUUID).Error("Failed to load lookup payload")
		h.writeError(w, http.StatusInternalServerError, "failed to load lookup")
		return
	}

	if !json.Valid(payload) {
		payload = []byte("null")
	}
	h.writeJSON(w, http.StatusOK, lookupPayloadResponse{
		LookupUUID: record.LookupUUID,
		UserID:     record.UserID,
		Command:    record.Command,
		Query:      record.Query,
		Status:     record.Status,
		ErrorKind:  record.ErrorKind,
		Archived:   record.PayloadKey != "",
		Payload:    payload,
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, userID int64, message string) {
	if errors.Is(err, store.ErrUserNotFound) {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	h.log.WithError(err).WithField("user_id", userID).Error(message)
	h.writeError(w, http.StatusInternalServerError, message)
}
