package model

import "time"

// SubmissionExport is the top-level JSON structure for the audit export.
type SubmissionExport struct {
	ExportedAt  time.Time          `json:"exported_at"`
	Count       int                `json:"count"`
	Remote      int                `json:"remote"`
	Local       int                `json:"local"`
	Submissions []SubmissionRecord `json:"submissions"`
}

// SubmissionRecord holds one submission plus the quiz title for export.
type SubmissionRecord struct {
	QuizTitle string `json:"quiz_title"`
	Submission
}
