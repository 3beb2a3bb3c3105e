package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/softrate/quizgrader/internal/catalog"
	appI18n "github.com/softrate/quizgrader/internal/i18n"
	"github.com/softrate/quizgrader/internal/model"
	"github.com/softrate/quizgrader/internal/store"
)

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subs, err := h.store.ListSubmissions(r.Context(), store.SubmissionFilter{
		QuizID:     q.Get("quiz"),
		StudentID:  q.Get("student"),
		Provenance: model.Provenance(q.Get("provenance")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.GetSubmissionByID(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleListActivities(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	acts, err := h.store.ListActivities(r.Context(), r.URL.Query().Get("user"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if acts == nil {
		acts = []model.Activity{}
	}
	writeJSON(w, http.StatusOK, acts)
}

// handleUploadQuiz accepts a quiz JSON file as multipart field "quiz_file".
// force=true replaces a quiz whose file changed since it was imported.
func (h *Handler) handleUploadQuiz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeFailure(w, http.StatusBadRequest, "file too large")
		return
	}
	file, header, err := r.FormFile("quiz_file")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	force, _ := strconv.ParseBool(r.FormValue("force"))
	res, err := h.importer.ImportFile(ctx, header.Filename, data, force)
	if err != nil {
		slog.Warn("quiz upload rejected", "filename", header.Filename, "error", err)
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	switch res.Outcome {
	case catalog.Unchanged:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "outcome": res.Outcome, "message": appI18n.T(ctx, "UploadDuplicate")})
	case catalog.Changed:
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "outcome": res.Outcome, "message": appI18n.T(ctx, "UploadChanged")})
	default:
		slog.Info("uploaded quiz via admin", "filename", header.Filename, "quiz_id", res.QuizID)
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "outcome": res.Outcome, "quizId": res.QuizID, "message": appI18n.T(ctx, "UploadImported")})
	}
}

// handleIngestReport stores a detailed report produced after the fact by
// the analysis pipeline.
func (h *Handler) handleIngestReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var rep model.DetailedReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeFailure(w, http.StatusBadRequest, appI18n.T(ctx, "ErrInvalidRequest"))
		return
	}
	if err := h.validate.Var(rep.StudentID, "required"); err != nil {
		writeFailure(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if err := h.store.SaveReport(ctx, rep); err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("detailed report ingested", "report_id", rep.ID, "student_id", rep.StudentID, "quiz_id", rep.QuizID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "reportId": rep.ID})
}
