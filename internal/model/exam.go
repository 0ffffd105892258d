package model

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ExamPayload is the student-facing exam the backend serves: questions
// without correct answers, plus the totals the session needs.
type ExamPayload struct {
	ExamID     uuid.UUID            `json:"exam_id" validate:"required"`
	Title      string               `json:"title"`
	Duration   int                  `json:"duration_minutes" validate:"required,min=1,max=480"`
	TotalMarks float64              `json:"total_marks" validate:"min=0"`
	Questions  []QuestionForStudent `json:"questions" validate:"required,min=1,dive"`
}

// QuestionForStudent is a question without the correct answer.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id" validate:"required"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options"`
	OrderNum     int             `json:"order_num"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate sanity-checks an exam payload fetched from the backend before a
// session is built on top of it.
func (p *ExamPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("exam payload: %w", err)
	}
	return nil
}

// DurationSeconds returns the exam duration as countdown seconds.
func (p *ExamPayload) DurationSeconds() int {
	return p.Duration * 60
}

// MarksPerQuestion splits total marks evenly across questions.
func (p *ExamPayload) MarksPerQuestion() float64 {
	if len(p.Questions) == 0 {
		return 0
	}
	return p.TotalMarks / float64(len(p.Questions))
}
