package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/softrate/quizgrader/internal/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertActivity(ctx context.Context, db execer, a model.Activity) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO activities (id, user_id, quiz_id, type, title, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.QuizID, string(a.Type), a.Title, a.Details, toUnix(a.Timestamp),
	)
	return err
}

// ListActivities returns a user's activity log, newest first. An empty
// userID lists everyone; limit <= 0 means no limit.
func (s *Store) ListActivities(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	query := `SELECT id, user_id, quiz_id, type, title, details, timestamp FROM activities`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY timestamp DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		var a model.Activity
		var ts int64
		if err := rows.Scan(&a.ID, &a.UserID, &a.QuizID, &a.Type, &a.Title, &a.Details, &ts); err != nil {
			return nil, err
		}
		a.Timestamp = fromUnix(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}
