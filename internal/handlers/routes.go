package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterRoutes(r *mux.Router, h *Handler, adminToken string) {
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/lookup", h.HandleLookup).Methods(http.MethodPost)
	api.HandleFunc("/users", h.HandleAddUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/stats", h.HandleUserStats).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(AdminAuth(h.log, adminToken))
	admin.HandleFunc("/stats", h.HandleAdminStats).Methods(http.MethodGet)
	admin.HandleFunc("/api-stats", h.HandleAPIStats).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/ban", h.HandleBan).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/unban", h.HandleUnban).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/credits", h.HandleAddCredits).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}", h.HandleDeleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{id}/rate-limits/{command}", h.HandleResetRateLimit).Methods(http.MethodDelete)
	admin.HandleFunc("/lookups/{uuid}", h.HandleLookupPayload).Methods(http.MethodGet)
	admin.HandleFunc("/cache/purge", h.HandlePurgeCache).Methods(http.MethodPost)
}
