package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/softrate/quizgrader/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; this also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Timestamps are stored as Unix nanoseconds so range queries compare numerically.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		quiz_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		id TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		kind TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (quiz_id, position),
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		answers TEXT NOT NULL,
		score REAL NOT NULL,
		total_points INTEGER NOT NULL,
		percentage REAL NOT NULL,
		passed INTEGER NOT NULL,
		correct_answers INTEGER NOT NULL,
		incorrect_answers INTEGER NOT NULL,
		question_timings TEXT NOT NULL DEFAULT '{}',
		provenance TEXT NOT NULL,
		report_id TEXT NOT NULL DEFAULT '',
		submitted_at INTEGER NOT NULL,
		UNIQUE (quiz_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS proctoring (
		quiz_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		warnings INTEGER NOT NULL DEFAULT 0,
		last_warning_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (quiz_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		quiz_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS activities_user ON activities (user_id, timestamp);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		quiz_id TEXT NOT NULL DEFAULT '',
		generated_at INTEGER NOT NULL,
		body TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS reports_student ON reports (student_id, quiz_id, generated_at);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Databases created before reports were keyed by quiz lack the column.
	_, err := s.db.Exec(`ALTER TABLE reports ADD COLUMN quiz_id TEXT NOT NULL DEFAULT ''`)
	if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
		return fmt.Errorf("add reports.quiz_id: %w", err)
	}
	return nil
}

// PutQuiz creates or replaces a quiz and its questions.
func (s *Store) PutQuiz(ctx context.Context, q model.Quiz) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO quizzes (id, title, description, duration_minutes, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, description = excluded.description,
		 duration_minutes = excluded.duration_minutes`,
		q.ID, q.Title, q.Description, q.DurationMinutes, q.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert quiz %s: %w", q.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE quiz_id = ?`, q.ID); err != nil {
		return fmt.Errorf("clear questions of %s: %w", q.ID, err)
	}
	for i, qq := range q.Questions {
		opts, err := json.Marshal(qq.Options)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (quiz_id, position, id, text, kind, options, correct_answer, points, topic)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, i, qq.ID, qq.Text, string(qq.Kind), string(opts), qq.CorrectAnswer, qq.Points, qq.Topic,
		)
		if err != nil {
			return fmt.Errorf("insert question %d of %s: %w", i, q.ID, err)
		}
	}
	return tx.Commit()
}

// GetQuiz returns a quiz with its questions in authored order.
func (s *Store) GetQuiz(ctx context.Context, id string) (model.Quiz, error) {
	var q model.Quiz
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, duration_minutes, created_at FROM quizzes WHERE id = ?`, id,
	).Scan(&q.ID, &q.Title, &q.Description, &q.DurationMinutes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return q, model.ErrNotFound
	}
	if err != nil {
		return q, err
	}
	q.CreatedAt = fromUnix(created)

	q.Questions, err = s.questions(ctx, id)
	return q, err
}

func (s *Store) questions(ctx context.Context, quizID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, kind, options, correct_answer, points, topic
		 FROM questions WHERE quiz_id = ? ORDER BY position`, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var opts string
		if err := rows.Scan(&q.ID, &q.Text, &q.Kind, &opts, &q.CorrectAnswer, &q.Points, &q.Topic); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListQuizzes returns all quizzes, newest first, with their questions.
func (s *Store) ListQuizzes(ctx context.Context) ([]model.Quiz, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, duration_minutes, created_at FROM quizzes ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	var quizzes []model.Quiz
	for rows.Next() {
		var q model.Quiz
		var created int64
		if err := rows.Scan(&q.ID, &q.Title, &q.Description, &q.DurationMinutes, &created); err != nil {
			rows.Close()
			return nil, err
		}
		q.CreatedAt = fromUnix(created)
		quizzes = append(quizzes, q)
	}
	// The single connection must be free before loading questions.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range quizzes {
		if quizzes[i].Questions, err = s.questions(ctx, quizzes[i].ID); err != nil {
			return nil, err
		}
	}
	return quizzes, nil
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
