package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/quizdesk/quizstore/internal/services"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

// QuizHandler provides HTTP handlers for questions, scores and statistics.
type QuizHandler struct {
	quizService *services.QuizService
}

func NewQuizHandler(quizService *services.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

// QuizRouter registers question and score routes. auth must load the
// caller; admin must reject non-administrators.
func QuizRouter(r chi.Router, handler *QuizHandler, auth, admin func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/questions", handler.ListQuestions)
		r.Get("/questions/{questionID}", handler.GetQuestion)
		r.Post("/scores", handler.SubmitScore)
		r.Get("/users/{username}/scores", handler.UserScores)
		r.Get("/users/{username}/statistics", handler.UserStatistics)
		r.With(admin).Get("/statistics/categories", handler.CategoryStatistics)
	})
}

func (h *QuizHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.quizService.Questions(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, r, err, "failed to list questions")
		return
	}
	if questions == nil {
		questions = []types.Question{}
	}
	writeJSON(w, http.StatusOK, QuestionListResponse{Items: questions, Total: len(questions)})
}

func (h *QuizHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "questionID"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	question, err := h.quizService.Question(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "question not found")
			return
		}
		writeServiceError(w, r, err, "failed to fetch question")
		return
	}
	writeJSON(w, http.StatusOK, question)
}

// SubmitScore records a completed quiz for the caller. Administrators may
// record attempts on behalf of another user.
func (h *QuizHandler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	caller, _ := userFromContext(r.Context())

	var req store.QuizResult
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		req.Username = caller.Username
	}
	if req.Username != caller.Username && !caller.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	score, err := h.quizService.RecordScore(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "failed to record score")
		return
	}
	writeJSON(w, http.StatusCreated, score)
}

func (h *QuizHandler) UserScores(w http.ResponseWriter, r *http.Request) {
	username, ok := h.ownerOrAdmin(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scores, err := h.quizService.UserScores(r.Context(), username, limit)
	if err != nil {
		writeServiceError(w, r, err, "failed to list scores")
		return
	}
	if scores == nil {
		scores = []types.Score{}
	}
	writeJSON(w, http.StatusOK, ScoreListResponse{Items: scores, Total: len(scores)})
}

func (h *QuizHandler) UserStatistics(w http.ResponseWriter, r *http.Request) {
	username, ok := h.ownerOrAdmin(w, r)
	if !ok {
		return
	}
	stats, err := h.quizService.UserStatistics(r.Context(), username)
	if err != nil {
		writeServiceError(w, r, err, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *QuizHandler) CategoryStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.quizService.CategoryStatistics(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ownerOrAdmin returns the {username} parameter when the caller is that
// user or an administrator, writing 403 otherwise.
func (h *QuizHandler) ownerOrAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := chi.URLParam(r, "username")
	caller, ok := userFromContext(r.Context())
	if !ok || (caller.Username != username && !caller.IsAdmin()) {
		writeError(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	return username, true
}

// QuestionListResponse is the question list payload.
type QuestionListResponse struct {
	Items []types.Question `json:"items"`
	Total int              `json:"total"`
}

// ScoreListResponse is the score list payload.
type ScoreListResponse struct {
	Items []types.Score `json:"items"`
	Total int           `json:"total"`
}
