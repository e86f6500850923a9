package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sdko-org/lookup-relay/internal/lookup"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(log *logrus.Entry, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func writeError(log *logrus.Entry, w http.ResponseWriter, status int, message string) {
	writeJSON(log, w, status, errorResponse{Error: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	writeJSON(h.log, w, status, body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeError(h.log, w, status, message)
}

// decodeJSON ignores unknown fields; transports forward whole chat profiles.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst)
}

func decodeStrictJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func userIDVar(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}

// statusFor maps a presentation reason code to an HTTP status.
func statusFor(reason string) int {
	switch reason {
	case lookup.ReasonOK:
		return http.StatusOK
	case lookup.ReasonInvalidQuery:
		return http.StatusBadRequest
	case lookup.ReasonBanned:
		return http.StatusForbidden
	case lookup.ReasonInsufficientCredits:
		return http.StatusPaymentRequired
	case lookup.ReasonRateLimited:
		return http.StatusTooManyRequests
	case lookup.ReasonUnknownService:
		return http.StatusNotFound
	case lookup.ReasonTimeout:
		return http.StatusGatewayTimeout
	case lookup.ReasonNetwork, lookup.ReasonHTTPError, lookup.ReasonDecodeError:
		return http.StatusBadGateway
	case lookup.ReasonCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusServiceUnavailable
	}
}
