package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/softrate/quizgrader/internal/model"
)

// Store is the read side the results service needs.
type Store interface {
	GetQuiz(ctx context.Context, id string) (model.Quiz, error)
	GetSubmission(ctx context.Context, quizID, studentID string) (model.Submission, error)
	GetReport(ctx context.Context, id string) (model.DetailedReport, error)
	LatestReport(ctx context.Context, studentID, quizID string, since time.Time) (model.DetailedReport, error)
}

// Service looks up stored submissions and composes their results.
type Service struct {
	store Store
}

// NewService creates a results service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Results returns the composed view for a (quiz, student) pair. It returns
// model.ErrNotFound when no submission exists; it never synthesizes one.
func (s *Service) Results(ctx context.Context, quizID, studentID string) (model.ResultView, error) {
	sub, err := s.store.GetSubmission(ctx, quizID, studentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ResultView{}, fmt.Errorf("submission for quiz %s: %w", quizID, model.ErrNotFound)
		}
		return model.ResultView{}, fmt.Errorf("load submission: %w", err)
	}
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return model.ResultView{}, fmt.Errorf("load quiz %s: %w", quizID, err)
	}
	return Compose(ctx, sub, quiz, s.report(ctx, sub)), nil
}

// report finds the detailed report for the attempt: the one the submission
// references, else the student's latest report generated since submitting.
// Lookup failures degrade to no report.
func (s *Service) report(ctx context.Context, sub model.Submission) *model.DetailedReport {
	if sub.ReportID != "" {
		r, err := s.store.GetReport(ctx, sub.ReportID)
		if err == nil {
			return &r
		}
		if !errors.Is(err, model.ErrNotFound) {
			slog.Warn("failed to load detailed report", "report_id", sub.ReportID, "error", err)
			return nil
		}
	}
	r, err := s.store.LatestReport(ctx, sub.StudentID, sub.QuizID, sub.SubmittedAt)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			slog.Warn("failed to look up latest report", "student_id", sub.StudentID, "error", err)
		}
		return nil
	}
	return &r
}
