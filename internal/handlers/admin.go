package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quizdesk/quizstore/internal/migration"
	"github.com/quizdesk/quizstore/internal/services"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

// AdminHandler exposes the administrative operations.
type AdminHandler struct {
	adminService *services.AdminService
	quizService  *services.QuizService
	userService  *services.UserService
}

func NewAdminHandler(adminService *services.AdminService, quizService *services.QuizService, userService *services.UserService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		quizService:  quizService,
		userService:  userService,
	}
}

// AdminRouter registers admin routes. Every route runs behind auth and admin.
func AdminRouter(r chi.Router, handler *AdminHandler, auth, admin func(http.Handler) http.Handler) {
	r.Use(auth, admin)
	r.Put("/questions", handler.ReplaceQuestions)
	r.Delete("/scores", handler.ClearScores)
	r.Delete("/users/{username}", handler.DeleteUser)
	r.Get("/settings", handler.GetSettings)
	r.Put("/settings", handler.UpdateSettings)
	r.Post("/migration", handler.TriggerMigration)
	r.Get("/migration", handler.LastMigration)
	r.Get("/integrity", handler.VerifyIntegrity)
	r.Get("/stats", handler.Statistics)
}

// ReplaceQuestions swaps the question bank for the request body.
func (h *AdminHandler) ReplaceQuestions(w http.ResponseWriter, r *http.Request) {
	var questions []types.Question
	if err := decodeJSON(w, r, &questions); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.quizService.ReplaceQuestions(r.Context(), questions); err != nil {
		writeServiceError(w, r, err, "failed to save questions")
		return
	}
	writeJSON(w, http.StatusOK, QuestionListResponse{Items: questions, Total: len(questions)})
}

// ClearScores deletes every score, or only those of ?username=.
func (h *AdminHandler) ClearScores(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.quizService.ClearScores(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeServiceError(w, r, err, "failed to clear scores")
		return
	}
	writeJSON(w, http.StatusOK, ClearScoresResponse{Deleted: deleted})
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if caller, ok := userFromContext(r.Context()); ok && caller.Username == username {
		writeError(w, http.StatusConflict, "cannot delete the signed-in account")
		return
	}
	if err := h.userService.Delete(r.Context(), username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeServiceError(w, r, err, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.adminService.Settings(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings stores a JSON object of key to value.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]json.RawMessage
	if err := decodeJSON(w, r, &values); err != nil || len(values) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	updated, err := h.adminService.UpdateSettings(r.Context(), values)
	if err != nil {
		writeServiceError(w, r, err, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// TriggerMigration runs a migration synchronously and returns its report.
// A failed run still returns the report alongside the error.
func (h *AdminHandler) TriggerMigration(w http.ResponseWriter, r *http.Request) {
	var req MigrationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
	}

	report, err := h.adminService.Migrate(r.Context(), migration.Options{NoBackup: req.NoBackup, Force: req.Force})
	if err != nil {
		if report == nil {
			writeServiceError(w, r, err, "failed to run migration")
			return
		}
		writeJSON(w, statusFor(err), MigrationResponse{Report: report, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, MigrationResponse{Report: report})
}

func (h *AdminHandler) LastMigration(w http.ResponseWriter, r *http.Request) {
	report := h.adminService.LastMigration()
	if report == nil {
		writeError(w, http.StatusNotFound, "no migration has run")
		return
	}
	writeJSON(w, http.StatusOK, MigrationResponse{Report: report})
}

func (h *AdminHandler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.adminService.VerifyIntegrity(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to verify integrity")
		return
	}
	writeJSON(w, http.StatusOK, IntegrityResponse{OK: report.OK(), IntegrityReport: report})
}

func (h *AdminHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to collect statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type MigrationRequest struct {
	NoBackup bool `json:"no_backup"`
	Force    bool `json:"force"`
}

type MigrationResponse struct {
	Report *migration.Report `json:"report"`
	Error  string            `json:"error,omitempty"`
}

type IntegrityResponse struct {
	OK bool `json:"ok"`
	services.IntegrityReport
}

type ClearScoresResponse struct {
	Deleted int64 `json:"deleted"`
}
