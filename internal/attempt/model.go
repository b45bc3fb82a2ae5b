// Package attempt runs a student's pass through an exam: access checks,
// starting, answer saving, and submission with grading.
package attempt

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cbtexam/internal/grading"
	"cbtexam/internal/points"
)

const (
	StatusInProgress = "InProgress"
	StatusSubmitted  = "Submitted"
)

// Access rejection reasons, reported in evaluation order.
const (
	ReasonExamNotFound    = "EXAM_NOT_FOUND"
	ReasonExamNotActive   = "EXAM_NOT_ACTIVE"
	ReasonExamNotStarted  = "EXAM_NOT_STARTED"
	ReasonExamEnded       = "EXAM_ENDED"
	ReasonInvalidPassword = "INVALID_PASSWORD"
	ReasonNoAttemptsLeft  = "NO_ATTEMPTS_LEFT"
	ReasonConcurrentStart = "CONCURRENT_START"
)

var (
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrQuestionNotInExam       = errors.New("question not in exam")
	ErrConcurrentStart         = errors.New("another attempt was started concurrently")
)

// AccessDeniedError carries every reason an attempt could not start.
type AccessDeniedError struct {
	Reasons []string
}

func (e *AccessDeniedError) Error() string {
	return "attempt denied: " + strings.Join(e.Reasons, ", ")
}

type Access struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

type Attempt struct {
	ID              int64             `json:"id"`
	ExamID          int64             `json:"examId"`
	StudentID       int64             `json:"studentId"`
	AttemptNumber   int               `json:"attemptNumber"`
	StartedAt       time.Time         `json:"startedAt"`
	ExpiresAt       time.Time         `json:"expiresAt"`
	SubmittedAt     *time.Time        `json:"submittedAt"`
	Status          string            `json:"status"`
	TotalScore      points.NullAmount `json:"totalScore"`
	MaxScore        points.NullAmount `json:"maxScore"`
	ScorePercentage points.NullAmount `json:"scorePercentage"`
	Passed          *bool             `json:"passed"`
	Answers         []Answer          `json:"answers,omitempty"`
	Scores          []Score           `json:"scores,omitempty"`
}

type Answer struct {
	ID                int64           `json:"id"`
	AttemptID         int64           `json:"attemptId"`
	QuestionID        int64           `json:"questionId"`
	SelectedAnswerIDs []int64         `json:"selectedAnswerIds"`
	TextAnswer        *string         `json:"textAnswer"`
	AnswerData        json.RawMessage `json:"answerData,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Score is the persisted grading outcome of one answered question.
type Score struct {
	QuestionID     int64         `json:"questionId"`
	PointsPossible points.Amount `json:"pointsPossible"`
	PointsEarned   points.Amount `json:"pointsEarned"`
	Correct        bool          `json:"correct"`
}

type PresentedQuestion struct {
	QuestionID     int64         `json:"questionId"`
	Index          int           `json:"index"`
	PointsPossible points.Amount `json:"pointsPossible"`
}

type StartResponse struct {
	AttemptID        int64               `json:"attemptId"`
	AttemptNumber    int                 `json:"attemptNumber"`
	ExamID           int64               `json:"examId"`
	DurationMinutes  int                 `json:"durationMinutes"`
	StartedAt        time.Time           `json:"startedAt"`
	ExpiresAt        time.Time           `json:"expiresAt"`
	RandomizeAnswers bool                `json:"randomizeAnswers"`
	Questions        []PresentedQuestion `json:"questions"`
}

type SaveAnswerInput struct {
	AttemptID         int64
	QuestionID        int64
	SelectedAnswerIDs []int64
	TextAnswer        *string
	AnswerData        json.RawMessage
}

type SubmitResponse struct {
	AttemptID       int64                 `json:"attemptId"`
	ExamID          int64                 `json:"examId"`
	Status          string                `json:"status"`
	SubmittedAt     time.Time             `json:"submittedAt"`
	TotalScore      points.Amount         `json:"totalScore"`
	MaxScore        points.Amount         `json:"maxScore"`
	ScorePercentage points.Amount         `json:"scorePercentage"`
	Passed          bool                  `json:"passed"`
	Details         []grading.ScoreResult `json:"details"`
}

// Owner identifies who an attempt belongs to.
type Owner struct {
	ExamID    int64
	StudentID int64
}

// Filter narrows ListAttempts. Zero values match everything.
type Filter struct {
	StudentID int64
	Status    string
}
