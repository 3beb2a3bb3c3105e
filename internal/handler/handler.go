package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/softrate/quizgrader/internal/catalog"
	"github.com/softrate/quizgrader/internal/grading"
	appI18n "github.com/softrate/quizgrader/internal/i18n"
	"github.com/softrate/quizgrader/internal/live"
	"github.com/softrate/quizgrader/internal/model"
	"github.com/softrate/quizgrader/internal/proctor"
	"github.com/softrate/quizgrader/internal/results"
	"github.com/softrate/quizgrader/internal/store"
)

// Config holds handler settings taken from the command line.
type Config struct {
	// AdminToken protects the /admin routes. Empty disables them.
	AdminToken string
	// AllowedOrigins limits websocket upgrades; empty or "*" allows any origin.
	AllowedOrigins []string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	grader   *grading.Grader
	results  *results.Service
	live     *live.Registry
	importer *catalog.Importer
	validate *validator.Validate
	upgrader websocket.Upgrader

	adminHash []byte
}

// New creates a new Handler.
func New(s *store.Store, g *grading.Grader, reg *live.Registry, cfg Config) (*Handler, error) {
	h := &Handler{
		store:    s,
		grader:   g,
		results:  results.NewService(s),
		live:     reg,
		importer: catalog.NewImporter(s),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)}
	if cfg.AdminToken != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminToken), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		h.adminHash = hash
	}
	return h, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireStudent)
		r.Get("/quizzes", h.handleListQuizzes)
		r.Route("/quizzes/{quizID}", func(r chi.Router) {
			r.Get("/questions", h.handleQuestions)
			r.Get("/progress", h.handleProgress)
			r.Post("/warning", h.handleWarning)
			r.Post("/submit", h.handleSubmit)
			r.Get("/results", h.handleResults)
			r.Get("/live", h.handleLive)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/submissions", h.handleListSubmissions)
		r.Get("/submissions/{submissionID}", h.handleGetSubmission)
		r.Get("/activities", h.handleListActivities)
		r.Post("/quizzes", h.handleUploadQuiz)
		r.Post("/reports", h.handleIngestReport)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "liveAttempts": h.live.Len()})
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.store.ListQuizzes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]model.Quiz, 0, len(quizzes))
	for _, q := range quizzes {
		out = append(out, q.StudentView())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.store.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz.StudentView())
}

type progressResponse struct {
	model.ProctoringRecord
	TerminateAt int  `json:"terminateAt"`
	Submitted   bool `json:"submitted"`
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	quizID := chi.URLParam(r, "quizID")
	studentID := model.StudentFromContext(ctx)

	rec, err := h.store.GetOrCreateProgress(ctx, quizID, studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	submitted, err := h.store.HasSubmission(ctx, quizID, studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{ProctoringRecord: rec, TerminateAt: proctor.TerminateAt, Submitted: submitted})
}

func (h *Handler) handleWarning(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	quizID := chi.URLParam(r, "quizID")
	studentID := model.StudentFromContext(ctx)

	n, err := h.store.IncrementWarning(ctx, quizID, studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("proctoring warning recorded", "quiz_id", quizID, "student_id", studentID, "warnings", n)
	resp := map[string]any{"success": true, "warnings": n, "terminate": n >= proctor.TerminateAt}
	if n >= proctor.TerminateAt {
		resp["message"] = appI18n.T(ctx, "ProctorTerminated")
	} else {
		resp["message"] = appI18n.T(ctx, "ProctorWarning")
	}
	writeJSON(w, http.StatusOK, resp)
}

type answerInput struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer"`
	TimeSpent  int    `json:"timeSpent" validate:"gte=0"`
}

type submitRequest struct {
	Answers         []answerInput  `json:"answers" validate:"unique=QuestionID,dive"`
	QuestionTimings map[string]int `json:"questionTimings" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	quizID := chi.URLParam(r, "quizID")
	studentID := model.StudentFromContext(ctx)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, appI18n.T(ctx, "ErrInvalidRequest"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		slog.Warn("invalid submit payload", "quiz_id", quizID, "student_id", studentID, "error", err)
		writeFailure(w, http.StatusBadRequest, appI18n.T(ctx, "ErrInvalidRequest"))
		return
	}

	answers := make([]model.Answer, len(req.Answers))
	for i, a := range req.Answers {
		answers[i] = model.Answer{QuestionID: a.QuestionID, Answer: a.Answer, TimeSpent: a.TimeSpent}
	}

	sub, err := h.grader.Submit(ctx, quizID, studentID, answers, req.QuestionTimings)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// A live attempt for the same pair is finished now.
	h.live.Remove(quizID, studentID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "submission": sub})
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.results.Results(ctx, chi.URLParam(r, "quizID"), model.StudentFromContext(ctx))
	if errors.Is(err, model.ErrNotFound) {
		writeFailure(w, http.StatusNotFound, appI18n.T(ctx, "ErrSubmissionNotFound"))
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

// writeError maps domain errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeFailure(w, http.StatusNotFound, appI18n.T(ctx, "ErrQuizNotFound"))
	case errors.Is(err, model.ErrAlreadySubmitted):
		writeFailure(w, http.StatusConflict, appI18n.T(ctx, "ErrAlreadySubmitted"))
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeFailure(w, http.StatusInternalServerError, appI18n.T(ctx, "ErrInternal"))
	}
}
