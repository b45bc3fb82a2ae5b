// Package report summarizes and exports an exam's attempt results.
package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"cbtexam/internal/attempt"
	"cbtexam/internal/exam"
	"cbtexam/internal/points"

	"github.com/xuri/excelize/v2"
)

type ExamGetter interface {
	GetExam(ctx context.Context, id int64) (*exam.Exam, error)
}

type AttemptLister interface {
	ListAttempts(ctx context.Context, examID int64, f attempt.Filter) ([]attempt.Attempt, error)
}

type Service struct {
	exams    ExamGetter
	attempts AttemptLister
}

// ExamSummary aggregates submitted attempts. Score fields are percentages.
type ExamSummary struct {
	ExamID       int64         `json:"examId"`
	Title        string        `json:"title"`
	Participants int           `json:"participants"`
	Attempts     int           `json:"attempts"`
	Submitted    int           `json:"submitted"`
	Passed       int           `json:"passed"`
	AverageScore points.Amount `json:"averageScore"`
	HighestScore points.Amount `json:"highestScore"`
	LowestScore  points.Amount `json:"lowestScore"`
}

func NewService(exams ExamGetter, attempts AttemptLister) *Service {
	return &Service{exams: exams, attempts: attempts}
}

func (s *Service) SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	items, err := s.attempts.ListAttempts(ctx, examID, attempt.Filter{})
	if err != nil {
		return nil, err
	}
	sum := summarize(items)
	sum.ExamID = e.ID
	sum.Title = e.Title
	return &sum, nil
}

func summarize(items []attempt.Attempt) ExamSummary {
	var (
		out      ExamSummary
		total    points.Amount
		students = make(map[int64]struct{})
	)
	out.Attempts = len(items)
	for _, a := range items {
		students[a.StudentID] = struct{}{}
		if a.Status != attempt.StatusSubmitted {
			continue
		}
		pct := a.ScorePercentage.Amount
		if out.Submitted == 0 || pct > out.HighestScore {
			out.HighestScore = pct
		}
		if out.Submitted == 0 || pct < out.LowestScore {
			out.LowestScore = pct
		}
		out.Submitted++
		total += pct
		if a.Passed != nil && *a.Passed {
			out.Passed++
		}
	}
	out.Participants = len(students)
	if out.Submitted > 0 {
		out.AverageScore = total.DivRound(out.Submitted)
	}
	return out
}

var attemptHeaders = []string{
	"attempt_id", "student_id", "attempt_number", "status", "started_at",
	"submitted_at", "total_score", "max_score", "score_percentage", "passed",
}

// ExportAttemptsExcel renders every attempt of the exam as an xlsx workbook
// with an "Attempts" sheet and a "Summary" sheet.
func (s *Service) ExportAttemptsExcel(ctx context.Context, examID int64) ([]byte, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	items, err := s.attempts.ListAttempts(ctx, examID, attempt.Filter{})
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := "Attempts"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range attemptHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, a := range items {
		row := i + 2
		values := []any{
			a.ID,
			a.StudentID,
			a.AttemptNumber,
			a.Status,
			a.StartedAt.Format(time.DateTime),
			formatTime(a.SubmittedAt),
			amountCell(a.TotalScore),
			amountCell(a.MaxScore),
			amountCell(a.ScorePercentage),
			passedCell(a.Passed),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "J", 18)

	sum := summarize(items)
	if _, err := f.NewSheet("Summary"); err != nil {
		return nil, fmt.Errorf("add summary sheet: %w", err)
	}
	summaryRows := [][]any{
		{"exam_id", e.ID},
		{"title", e.Title},
		{"participants", sum.Participants},
		{"attempts", sum.Attempts},
		{"submitted", sum.Submitted},
		{"passed", sum.Passed},
		{"average_score", sum.AverageScore.Float64()},
		{"highest_score", sum.HighestScore.Float64()},
		{"lowest_score", sum.LowestScore.Float64()},
	}
	for i, r := range summaryRows {
		_ = f.SetSheetRow("Summary", fmt.Sprintf("A%d", i+1), &r)
	}
	_ = f.SetColWidth("Summary", "A", "B", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateTime)
}

func amountCell(n points.NullAmount) any {
	if !n.Valid {
		return ""
	}
	return n.Amount.Float64()
}

func passedCell(p *bool) string {
	switch {
	case p == nil:
		return ""
	case *p:
		return "yes"
	default:
		return "no"
	}
}
