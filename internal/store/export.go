package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/softrate/quizgrader/internal/model"
)

// ExportSubmissions builds the audit export of every submission with its
// quiz title and provenance totals.
func (s *Store) ExportSubmissions(ctx context.Context) (model.SubmissionExport, error) {
	subs, err := s.ListSubmissions(ctx, SubmissionFilter{})
	if err != nil {
		return model.SubmissionExport{}, fmt.Errorf("list submissions: %w", err)
	}

	titles := make(map[string]string)
	out := model.SubmissionExport{
		ExportedAt:  time.Now().UTC(),
		Submissions: make([]model.SubmissionRecord, 0, len(subs)),
	}
	for _, sub := range subs {
		title, ok := titles[sub.QuizID]
		if !ok {
			q, err := s.GetQuiz(ctx, sub.QuizID)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return out, fmt.Errorf("get quiz %s: %w", sub.QuizID, err)
			}
			title = q.Title
			titles[sub.QuizID] = title
		}
		switch sub.Provenance {
		case model.ProvenanceRemote:
			out.Remote++
		case model.ProvenanceLocal:
			out.Local++
		}
		out.Submissions = append(out.Submissions, model.SubmissionRecord{QuizTitle: title, Submission: sub})
	}
	out.Count = len(out.Submissions)
	return out, nil
}
