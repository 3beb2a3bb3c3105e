// Package catalog parses quiz definitions and loads them into the store,
// skipping files whose content was already imported.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/softrate/quizgrader/internal/model"
)

// Outcome describes what ImportFile did with a file.
type Outcome string

const (
	Imported  Outcome = "imported"
	Unchanged Outcome = "unchanged"
	// Changed means the file differs from the last import. Quizzes are not
	// overwritten silently; the caller must force a reload.
	Changed   Outcome = "changed"
)

// Store is the persistence the importer needs.
type Store interface {
	PutQuiz(ctx context.Context, q model.Quiz) error
	GetImportedFileHash(ctx context.Context, name string) (string, error)
	SetImportedFileHash(ctx context.Context, name, hash string) error
}

// Importer loads quiz JSON into the store.
type Importer struct {
	store    Store
	validate *validator.Validate
}

// NewImporter creates an importer.
func NewImporter(s Store) *Importer {
	return &Importer{store: s, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Result reports the outcome for one file.
type Result struct {
	Outcome Outcome
	QuizID  string
	Hash    string
}

// ImportFile stores the quiz in data unless a file of the same name with the
// same content was imported before. force reloads a changed file.
func (im *Importer) ImportFile(ctx context.Context, name string, data []byte, force bool) (Result, error) {
	hash := sha256sum(data)
	res := Result{Hash: hash}

	stored, err := im.store.GetImportedFileHash(ctx, name)
	if err != nil {
		return res, fmt.Errorf("check import status of %s: %w", name, err)
	}
	if stored == hash {
		res.Outcome = Unchanged
		return res, nil
	}
	if stored != "" && !force {
		slog.Warn("quiz file changed since last import, skipping", "path", name)
		res.Outcome = Changed
		return res, nil
	}

	quiz, err := im.Parse(data)
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", name, err)
	}
	if err := im.store.PutQuiz(ctx, quiz); err != nil {
		return res, fmt.Errorf("store quiz %s: %w", quiz.ID, err)
	}
	if err := im.store.SetImportedFileHash(ctx, name, hash); err != nil {
		slog.Error("failed to record import", "path", name, "error", err)
	}
	res.Outcome = Imported
	res.QuizID = quiz.ID
	slog.Info("imported quiz", "path", name, "quiz_id", quiz.ID, "questions", len(quiz.Questions))
	return res, nil
}

// Parse decodes and validates one quiz definition. A missing quiz id is
// generated; question kind aliases are normalized.
func (im *Importer) Parse(data []byte) (model.Quiz, error) {
	var in model.QuizImport
	if err := json.Unmarshal(data, &in); err != nil {
		return model.Quiz{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := im.validate.Struct(in); err != nil {
		return model.Quiz{}, formatValidation(err)
	}

	quiz := model.Quiz{
		ID:              strings.TrimSpace(in.ID),
		Title:           in.Title,
		Description:     in.Description,
		DurationMinutes: in.DurationMinutes,
		Questions:       make([]model.Question, 0, len(in.Questions)),
	}
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	for i, qi := range in.Questions {
		kind, err := model.ParseKind(qi.Type)
		if err != nil {
			return model.Quiz{}, fmt.Errorf("question %d: %w", i+1, err)
		}
		q := model.Question{
			ID:            qi.ID,
			Text:          qi.Text,
			Kind:          kind,
			Options:       qi.Options,
			CorrectAnswer: qi.CorrectAnswer,
			Points:        qi.Points,
			Topic:         qi.Topic,
		}
		if err := q.Validate(); err != nil {
			return model.Quiz{}, fmt.Errorf("question %d: %w", i+1, err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	return quiz, nil
}

func formatValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid quiz: %s", strings.Join(msgs, "; "))
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
