// Package authority talks to the external scoring engine over HTTP.
package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/softrate/quizgrader/internal/grading"
	"github.com/softrate/quizgrader/internal/model"
)

const submitPath = "/submit_quiz_bulk"

// envelope is the scoring engine's response. Pointers distinguish a missing
// field from a zero score.
type envelope struct {
	Success    bool            `json:"success"`
	Score      *float64        `json:"score"`
	Percentage *float64        `json:"percentage"`
	Message    string          `json:"message,omitempty"`
	Report     json.RawMessage `json:"report,omitempty"`
}

// Client is a grading.Authority backed by the scoring engine.
type Client struct {
	http *resty.Client
}

// New creates a client for the scoring engine at baseURL. The timeout is a
// transport-level ceiling; callers bound each call with their own context too.
func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// Score posts the attempt and parses the success envelope.
func (c *Client) Score(ctx context.Context, req grading.RemoteRequest) (*grading.RemoteResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(submitPath)
	if err != nil {
		return nil, fmt.Errorf("scoring engine request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("scoring engine status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	res, err := parseEnvelope(resp.Body())
	if err != nil {
		return nil, err
	}
	if res.Report != nil {
		stampReport(res.Report, req)
	}
	return res, nil
}

// stampReport ties the report to the attempt it was produced for. The engine
// does not echo the quiz id back.
func stampReport(rep *model.DetailedReport, req grading.RemoteRequest) {
	rep.QuizID = req.QuizID
	if rep.StudentID == "" {
		rep.StudentID = req.StudentID
	}
}

func parseEnvelope(body []byte) (*grading.RemoteResult, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", grading.ErrMalformedResult, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: success=false %s", grading.ErrMalformedResult, env.Message)
	}
	if env.Score == nil || env.Percentage == nil {
		return nil, fmt.Errorf("%w: missing score or percentage", grading.ErrMalformedResult)
	}

	res := &grading.RemoteResult{Score: *env.Score, Percentage: *env.Percentage}
	if rep := decodeReport(env.Report); rep != nil {
		res.Report = rep
		res.ReportID = rep.ID
	}
	return res, nil
}

// decodeReport is lenient: a report the engine got wrong does not
// invalidate an otherwise good score.
func decodeReport(raw json.RawMessage) *model.DetailedReport {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var rep model.DetailedReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		slog.Warn("ignoring undecodable report from scoring engine", "error", err)
		return nil
	}
	if rep.ID == "" {
		var alt struct {
			ID string `json:"_id"`
		}
		if json.Unmarshal(raw, &alt) == nil {
			rep.ID = alt.ID
		}
	}
	return &rep
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
