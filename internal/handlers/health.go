package handlers

import (
	"net/http"

	"github.com/quizdesk/quizstore/internal/store"
)

// HealthResponse reports liveness and the active storage backend.
type HealthResponse struct {
	Status  string     `json:"status"`
	Storage store.Mode `json:"storage"`
}

// Healthz returns a handler reporting the storage mode chosen at start-up.
func Healthz(mode store.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Storage: mode})
	}
}
