package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionType records whether a submission was student- or policy-initiated.
type SubmissionType string

const (
	SubmissionManual SubmissionType = "Manual"
	SubmissionAuto   SubmissionType = "Auto"
)

// Answer is one question's selection in a submission. SelectedOption is nil
// for questions the student never answered.
type Answer struct {
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedOption *string   `json:"selected_option"`
}

// Submission is the final exam result payload posted to the backend.
type Submission struct {
	StudentID       int            `json:"student_id"`
	ExamID          uuid.UUID      `json:"exam_id"`
	Answers         []Answer       `json:"answers"`
	WarningCount    int            `json:"warning_count"`
	WarningReasons  string         `json:"warning_reasons"`
	SubmissionType  SubmissionType `json:"submission_type"`
	IsAutoSubmitted bool           `json:"is_auto_submitted"`
	ExamStartTime   time.Time      `json:"exam_start_time"`
	ExamEndTime     time.Time      `json:"exam_end_time"`
	DeviceInfo      string         `json:"device_info"`
	BrowserInfo     string         `json:"browser_info"`
}
