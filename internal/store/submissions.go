package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/softrate/quizgrader/internal/model"
)

const submissionColumns = `id, quiz_id, student_id, answers, score, total_points, percentage, passed,
	correct_answers, incorrect_answers, question_timings, provenance, report_id, submitted_at`

// SubmissionFilter narrows ListSubmissions. Empty fields match everything.
type SubmissionFilter struct {
	QuizID     string
	StudentID  string
	Provenance model.Provenance
}

// HasSubmission reports whether the (quiz, student) pair already submitted.
func (s *Store) HasSubmission(ctx context.Context, quizID, studentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE quiz_id = ? AND student_id = ?`, quizID, studentID,
	).Scan(&n)
	return n > 0, err
}

// FinalizeSubmission writes the submission and its completion event in one
// transaction. A second submission for the same pair fails with
// model.ErrAlreadySubmitted and leaves nothing behind.
func (s *Store) FinalizeSubmission(ctx context.Context, sub *model.Submission, event model.Activity) error {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	timings := sub.QuestionTimings
	if timings == nil {
		timings = map[string]int{}
	}
	timingJSON, err := json.Marshal(timings)
	if err != nil {
		return fmt.Errorf("encode timings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.QuizID, sub.StudentID, string(answers), sub.Score, sub.TotalPoints, sub.Percentage,
		sub.Passed, sub.CorrectAnswers, sub.IncorrectAnswers, string(timingJSON), string(sub.Provenance),
		sub.ReportID, toUnix(sub.SubmittedAt),
	)
	if isUniqueViolation(err) {
		return model.ErrAlreadySubmitted
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if err := insertActivity(ctx, tx, event); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetSubmission returns the submission for a (quiz, student) pair.
func (s *Store) GetSubmission(ctx context.Context, quizID, studentID string) (model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE quiz_id = ? AND student_id = ?`, quizID, studentID)
	return scanSubmission(row)
}

// GetSubmissionByID returns a submission by its id.
func (s *Store) GetSubmissionByID(ctx context.Context, id string) (model.Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	return scanSubmission(row)
}

// ListSubmissions returns matching submissions, newest first.
func (s *Store) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1 = 1`
	var args []any
	if f.QuizID != "" {
		query += ` AND quiz_id = ?`
		args = append(args, f.QuizID)
	}
	if f.StudentID != "" {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.Provenance != "" {
		query += ` AND provenance = ?`
		args = append(args, string(f.Provenance))
	}
	query += ` ORDER BY submitted_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (model.Submission, error) {
	var sub model.Submission
	var answers, timings string
	var submitted int64
	err := row.Scan(&sub.ID, &sub.QuizID, &sub.StudentID, &answers, &sub.Score, &sub.TotalPoints,
		&sub.Percentage, &sub.Passed, &sub.CorrectAnswers, &sub.IncorrectAnswers, &timings,
		&sub.Provenance, &sub.ReportID, &submitted)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, model.ErrNotFound
	}
	if err != nil {
		return sub, err
	}
	if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
		return sub, fmt.Errorf("decode answers of %s: %w", sub.ID, err)
	}
	if err := json.Unmarshal([]byte(timings), &sub.QuestionTimings); err != nil {
		return sub, fmt.Errorf("decode timings of %s: %w", sub.ID, err)
	}
	sub.SubmittedAt = fromUnix(submitted)
	return sub, nil
}
