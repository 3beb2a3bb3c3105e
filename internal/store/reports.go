package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/softrate/quizgrader/internal/model"
)

// SaveReport stores a detailed report, replacing one with the same id.
// Missing ids and timestamps are filled in.
func (s *Store) SaveReport(ctx context.Context, r model.DetailedReport) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, student_id, quiz_id, generated_at, body) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET student_id = excluded.student_id, quiz_id = excluded.quiz_id,
		 generated_at = excluded.generated_at, body = excluded.body`,
		r.ID, r.StudentID, r.QuizID, r.GeneratedAt.UnixNano(), string(body),
	)
	return err
}

// GetReport returns a report by id.
func (s *Store) GetReport(ctx context.Context, id string) (model.DetailedReport, error) {
	return s.scanReport(s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE id = ?`, id))
}

// LatestReport returns the student's most recent report for quizID generated
// at or after since. Reports without a quiz id never match.
func (s *Store) LatestReport(ctx context.Context, studentID, quizID string, since time.Time) (model.DetailedReport, error) {
	if quizID == "" {
		return model.DetailedReport{}, model.ErrNotFound
	}
	return s.scanReport(s.db.QueryRowContext(ctx,
		`SELECT body FROM reports WHERE student_id = ? AND quiz_id = ? AND generated_at >= ?
		 ORDER BY generated_at DESC LIMIT 1`,
		studentID, quizID, toUnix(since),
	))
}

func (s *Store) scanReport(row *sql.Row) (model.DetailedReport, error) {
	var r model.DetailedReport
	var body string
	err := row.Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return r, model.ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return r, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}
