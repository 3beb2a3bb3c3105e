// Package llm scores quiz attempts with an OpenAI-compatible chat model.
// Choice and short-answer questions are graded with the matcher; free-text
// answers are sent to the model in one batch.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/softrate/quizgrader/internal/grading"
	"github.com/softrate/quizgrader/internal/llm/prompts"
	"github.com/softrate/quizgrader/internal/model"
)

// Grade is the model's assessment of one answer.
type Grade struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
}

// gradeResponse is the JSON object the model must return.
type gradeResponse struct {
	Grades     []Grade  `json:"grades"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	now     func() time.Time
}

// New creates a new LLM scoring client. An empty variant means standard.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if variant == "" {
		variant = prompts.PromptStandard
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
		now:     time.Now,
	}
}

// Score grades every answer on a 0..1 scale and reports the total on the
// scoring engine's 10-points-per-question scale, with a detailed report.
func (c *Client) Score(ctx context.Context, req grading.RemoteRequest) (*grading.RemoteResult, error) {
	n := len(req.Quiz.Questions)
	if n == 0 {
		return nil, fmt.Errorf("%w: quiz %s has no questions", grading.ErrMalformedResult, req.QuizID)
	}

	// Scores are per question; an answer repeating a question is ignored.
	scores := make([]float64, n)
	given := make([]*model.Answer, n)
	var items []prompts.Item
	for _, pa := range grading.PairAnswers(req.Quiz, req.Answers) {
		if pa.Index < 0 {
			continue
		}
		a := pa.Answer
		given[pa.Index] = &a
		q := req.Quiz.Questions[pa.Index]
		if q.Kind != model.KindFreeText {
			if grading.IsCorrect(q, a.Answer) {
				scores[pa.Index] = 1
			}
			continue
		}
		items = append(items, prompts.Item{
			ID:        itemID(pa.Index),
			Topic:     q.Topic,
			Text:      q.Text,
			Reference: q.CorrectAnswer,
			Answer:    a.Answer,
		})
	}

	var resp gradeResponse
	if len(items) > 0 {
		r, err := c.grade(ctx, req.QuizTitle, items)
		if err != nil {
			return nil, err
		}
		resp = *r
		for _, g := range resp.Grades {
			i, ok := parseItemID(g.QuestionID)
			if !ok || i >= len(scores) {
				continue
			}
			scores[i] = g.Score
		}
	}

	return c.result(req, scores, given, resp), nil
}

func (c *Client) grade(ctx context.Context, title string, items []prompts.Item) (*gradeResponse, error) {
	prompt, err := prompts.BuildGradePrompt(c.variant, title, items)
	if err != nil {
		return nil, fmt.Errorf("build grading prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: LLM returned no choices", grading.ErrMalformedResult)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM grading response", "raw", raw)

	var out gradeResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: parse grading response: %v", grading.ErrMalformedResult, err)
	}
	if err := checkGrades(out.Grades, items); err != nil {
		return nil, err
	}
	return &out, nil
}

// checkGrades requires exactly one in-range grade per item.
func checkGrades(grades []Grade, items []prompts.Item) error {
	seen := make(map[string]bool, len(grades))
	for _, g := range grades {
		if g.Score < 0 || g.Score > 1 {
			return fmt.Errorf("%w: grade %s out of range: %v", grading.ErrMalformedResult, g.QuestionID, g.Score)
		}
		seen[g.QuestionID] = true
	}
	for _, it := range items {
		if !seen[it.ID] {
			return fmt.Errorf("%w: no grade for %s", grading.ErrMalformedResult, it.ID)
		}
	}
	return nil
}

// result builds the analysis in question order so per-question times line
// up with the quiz regardless of the order answers were submitted in.
func (c *Client) result(req grading.RemoteRequest, scores []float64, given []*model.Answer, resp gradeResponse) *grading.RemoteResult {
	n := len(req.Quiz.Questions)
	var sum float64
	attempted := 0
	analysis := make([]model.QuestionAnalysis, n)
	for i, q := range req.Quiz.Questions {
		sum += scores[i]
		s := scores[i]
		var t float64
		if a := given[i]; a != nil {
			if strings.TrimSpace(a.Answer) != "" {
				attempted++
			}
			t = float64(a.TimeSpent)
		}
		analysis[i] = model.QuestionAnalysis{QuestionID: grading.QuestionKey(q, i), Score: &s, TimeTaken: &t}
	}
	avg := sum / float64(n)

	report := &model.DetailedReport{
		ID:          uuid.NewString(),
		StudentID:   req.StudentID,
		QuizID:      req.QuizID,
		GeneratedAt: c.now(),
		QuizSummary: &model.QuizSummary{
			TotalQuestions:     n,
			QuestionsAttempted: attempted,
			AverageScore:       &avg,
		},
		DetailedAnalysis: analysis,
	}
	if len(resp.Strengths) > 0 || len(resp.Weaknesses) > 0 {
		report.TopicAnalysis = &model.TopicAnalysis{Strengths: resp.Strengths, Weaknesses: resp.Weaknesses}
	}

	score := sum * grading.RemotePointsPerQuestion
	return &grading.RemoteResult{
		Score:      score,
		Percentage: model.Percentage(score, n*grading.RemotePointsPerQuestion),
		ReportID:   report.ID,
		Report:     report,
	}
}

func itemID(i int) string { return "a" + strconv.Itoa(i) }

func parseItemID(id string) (int, bool) {
	if !strings.HasPrefix(id, "a") {
		return 0, false
	}
	i, err := strconv.Atoi(id[1:])
	return i, err == nil && i >= 0
}
