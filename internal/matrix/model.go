// Package matrix manages exam matrices: teacher-owned recipes describing how
// many questions to draw from which pools and how to weight them.
package matrix

import (
	"errors"
	"strings"
	"time"

	"cbtexam/internal/app/validate"
	"cbtexam/internal/points"
)

var (
	ErrMatrixNotFound = errors.New("exam matrix not found")
	ErrItemNotFound   = errors.New("exam matrix item not found")
)

type Matrix struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	TeacherID      int64             `json:"teacherId"`
	TotalQuestions *int              `json:"totalQuestions"`
	TotalPoints    points.NullAmount `json:"totalPoints"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Items          []Item            `json:"items,omitempty"`
}

type Item struct {
	ID                int64             `json:"id"`
	MatrixID          int64             `json:"matrixId"`
	BankID            int64             `json:"bankId"`
	Domain            *string           `json:"domain"`
	DifficultyLevel   *int64            `json:"difficultyLevel"`
	QuestionCount     int               `json:"questionCount"`
	PointsPerQuestion points.NullAmount `json:"pointsPerQuestion"`
}

func (m *Matrix) validate() error {
	errs := validate.FieldErrors{}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		errs.Add("name", "is required")
	}
	if m.TeacherID <= 0 {
		errs.Add("teacherId", "is required")
	}
	if m.TotalPoints.Valid && m.TotalPoints.Amount < 0 {
		errs.Add("totalPoints", "must be at least 0")
	}
	return errs.Err()
}

func (it *Item) validate() error {
	errs := validate.FieldErrors{}
	if it.BankID <= 0 {
		errs.Add("bankId", "is required")
	}
	if it.QuestionCount <= 0 {
		errs.Add("questionCount", "must be greater than 0")
	}
	if it.PointsPerQuestion.Valid && it.PointsPerQuestion.Amount < 0 {
		errs.Add("pointsPerQuestion", "must be at least 0")
	}
	if it.Domain != nil {
		d := strings.TrimSpace(*it.Domain)
		if d == "" {
			it.Domain = nil
		} else {
			it.Domain = &d
		}
	}
	return errs.Err()
}
