package store

import (
	"context"
	"time"

	"github.com/softrate/quizgrader/internal/model"
)

// IncrementWarning adds one strike for the pair, creating the record on
// first use, and returns the new count.
func (s *Store) IncrementWarning(ctx context.Context, quizID, studentID string) (int, error) {
	var warnings int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO proctoring (quiz_id, student_id, warnings, last_warning_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(quiz_id, student_id) DO UPDATE SET
		 warnings = warnings + 1, last_warning_at = excluded.last_warning_at
		 RETURNING warnings`,
		quizID, studentID, time.Now().UnixNano(),
	).Scan(&warnings)
	return warnings, err
}

// GetOrCreateProgress returns the proctoring record for the pair, creating an
// empty one if none exists.
func (s *Store) GetOrCreateProgress(ctx context.Context, quizID, studentID string) (model.ProctoringRecord, error) {
	rec := model.ProctoringRecord{QuizID: quizID, StudentID: studentID}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO proctoring (quiz_id, student_id) VALUES (?, ?)`, quizID, studentID)
	if err != nil {
		return rec, err
	}
	var last int64
	err = s.db.QueryRowContext(ctx,
		`SELECT warnings, last_warning_at FROM proctoring WHERE quiz_id = ? AND student_id = ?`,
		quizID, studentID,
	).Scan(&rec.Warnings, &last)
	rec.LastWarningAt = fromUnix(last)
	return rec, err
}
