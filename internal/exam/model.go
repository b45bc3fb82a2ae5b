// Package exam assembles exams, either drawn from a matrix or curated by
// hand, and keeps their question lists and totals consistent.
package exam

import (
	"errors"
	"strings"
	"time"

	"cbtexam/internal/app/validate"
	"cbtexam/internal/grading"
	"cbtexam/internal/points"
)

const (
	StatusDraft    = "Draft"
	StatusActive   = "Active"
	StatusClosed   = "Closed"
	StatusArchived = "Archived"
)

var (
	ErrExamNotFound         = errors.New("exam not found")
	ErrExamQuestionNotFound = errors.New("exam question not found")
	ErrDuplicateQuestion    = errors.New("question already in exam")
	ErrMatrixNotOwned       = errors.New("matrix belongs to another teacher")
)

func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusActive, StatusClosed, StatusArchived:
		return true
	default:
		return false
	}
}

type Exam struct {
	ID                 int64             `json:"id"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	CreatedBy          int64             `json:"createdBy"`
	DurationMinutes    int               `json:"durationMinutes"`
	PassThreshold      points.NullAmount `json:"passThreshold"`
	RandomizeQuestions bool              `json:"randomizeQuestions"`
	RandomizeAnswers   bool              `json:"randomizeAnswers"`
	MaxAttempts        *int              `json:"maxAttempts"`
	StartTime          *time.Time        `json:"startTime"`
	EndTime            *time.Time        `json:"endTime"`
	PasswordHash       string            `json:"-"`
	HasPassword        bool              `json:"hasPassword"`
	Status             string            `json:"status"`
	MatrixID           *int64            `json:"matrixId"`
	TotalQuestions     int               `json:"totalQuestions"`
	TotalPoints        points.Amount     `json:"totalPoints"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
	Questions          []Question        `json:"questions,omitempty"`
}

// Question is an exam's reference to a bank question. A null Points value
// weighs as grading.DefaultPoints.
type Question struct {
	ID         int64             `json:"id"`
	ExamID     int64             `json:"examId"`
	QuestionID int64             `json:"questionId"`
	OrderIndex int               `json:"orderIndex"`
	Points     points.NullAmount `json:"points"`
}

// Weight is the points a correct answer earns.
func (q Question) Weight() points.Amount {
	return q.Points.Or(grading.DefaultPoints)
}

func (e *Exam) validate() error {
	errs := validate.FieldErrors{}
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		errs.Add("title", "is required")
	}
	if e.CreatedBy <= 0 {
		errs.Add("createdBy", "is required")
	}
	if e.DurationMinutes <= 0 {
		errs.Add("durationMinutes", "must be greater than 0")
	}
	if e.PassThreshold.Valid && (e.PassThreshold.Amount < 0 || e.PassThreshold.Amount > points.FromInt(100)) {
		errs.Add("passThreshold", "must be between 0 and 100")
	}
	if e.MaxAttempts != nil && *e.MaxAttempts < 1 {
		errs.Add("maxAttempts", "must be at least 1")
	}
	if e.StartTime != nil && e.EndTime != nil && e.EndTime.Before(*e.StartTime) {
		errs.Add("endTime", "must not be before startTime")
	}
	if !ValidStatus(e.Status) {
		errs.Add("status", "must be one of: Draft Active Closed Archived")
	}
	return errs.Err()
}
