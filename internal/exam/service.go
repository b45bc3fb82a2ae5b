package exam

import (
	"context"
	"fmt"
	"time"

	"cbtexam/internal/app/validate"
	"cbtexam/internal/auth"
	"cbtexam/internal/db"
	"cbtexam/internal/points"
	"cbtexam/internal/question"

	"go.uber.org/zap"
)

type QuestionChecker interface {
	Exists(ctx context.Context, questionID int64) (bool, error)
}

type Service struct {
	store          *Store
	pool           QuestionChecker
	defaultMinutes int
	logger         *zap.Logger
}

func NewService(store *Store, pool QuestionChecker, defaultMinutes int, logger *zap.Logger) *Service {
	if defaultMinutes <= 0 {
		defaultMinutes = defaultExamMinutes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, pool: pool, defaultMinutes: defaultMinutes, logger: logger}
}

// ExamInput carries the editable exam fields. A nil Password keeps the
// current one; an empty string clears it.
type ExamInput struct {
	Title              string
	Description        string
	DurationMinutes    int
	PassThreshold      points.NullAmount
	RandomizeQuestions bool
	RandomizeAnswers   bool
	MaxAttempts        *int
	StartTime          *time.Time
	EndTime            *time.Time
	Password           *string
}

func (in ExamInput) apply(e *Exam, defaultMinutes int) error {
	e.Title = in.Title
	e.Description = in.Description
	e.DurationMinutes = in.DurationMinutes
	if e.DurationMinutes == 0 {
		e.DurationMinutes = defaultMinutes
	}
	e.PassThreshold = in.PassThreshold
	e.RandomizeQuestions = in.RandomizeQuestions
	e.RandomizeAnswers = in.RandomizeAnswers
	e.MaxAttempts = in.MaxAttempts
	e.StartTime = in.StartTime
	e.EndTime = in.EndTime
	if err := e.validate(); err != nil {
		return err
	}
	if in.Password == nil {
		return nil
	}
	if *in.Password == "" {
		e.PasswordHash = ""
		return nil
	}
	hash, err := auth.HashPassword(*in.Password)
	if err != nil {
		return fmt.Errorf("hash exam password: %w", err)
	}
	e.PasswordHash = hash
	return nil
}

// CreateExam creates an empty Draft exam.
func (s *Service) CreateExam(ctx context.Context, createdBy int64, in ExamInput) (*Exam, error) {
	e := Exam{CreatedBy: createdBy, Status: StatusDraft}
	if err := in.apply(&e, s.defaultMinutes); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, &e); err != nil {
		return nil, err
	}
	s.logger.Info("exam created", zap.Int64("exam_id", e.ID), zap.Int64("created_by", createdBy))
	return &e, nil
}

func (s *Service) GetExam(ctx context.Context, id int64) (*Exam, error) {
	e, err := s.store.GetWithQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Service) ListExams(ctx context.Context, f Filter, page db.Page) ([]Exam, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, validate.FieldErrors{"status": "must be one of: Draft Active Closed Archived"}
	}
	return s.store.ListFiltered(ctx, f, page)
}

func (s *Service) UpdateExam(ctx context.Context, id int64, in ExamInput) (*Exam, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(&e, s.defaultMinutes); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, &e); err != nil {
		return nil, err
	}
	return s.GetExam(ctx, id)
}

func (s *Service) UpdateStatus(ctx context.Context, id int64, status string) (*Exam, error) {
	if !ValidStatus(status) {
		return nil, validate.FieldErrors{"status": "must be one of: Draft Active Closed Archived"}
	}
	if err := s.store.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.logger.Info("exam status changed", zap.Int64("exam_id", id), zap.String("status", status))
	return s.GetExam(ctx, id)
}

// AddQuestion attaches a bank question. A zero orderIndex appends.
func (s *Service) AddQuestion(ctx context.Context, examID, questionID int64, pts points.NullAmount, orderIndex int) (*Question, error) {
	errs := validate.FieldErrors{}
	if questionID <= 0 {
		errs.Add("questionId", "is required")
	}
	if pts.Valid && pts.Amount < 0 {
		errs.Add("points", "must be at least 0")
	}
	if orderIndex < 0 {
		errs.Add("orderIndex", "must be at least 1")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, examID); err != nil {
		return nil, err
	}
	ok, err := s.pool.Exists(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("question %d: %w", questionID, question.ErrQuestionNotFound)
	}

	eq := Question{ExamID: examID, QuestionID: questionID, OrderIndex: orderIndex, Points: pts}
	if err := s.store.AddQuestion(ctx, &eq); err != nil {
		return nil, err
	}
	return &eq, nil
}

// UpdateQuestion replaces the question's points; a null value falls back to
// the default weight. A zero orderIndex keeps the current position.
func (s *Service) UpdateQuestion(ctx context.Context, examID, id int64, pts points.NullAmount, orderIndex int) (*Question, error) {
	errs := validate.FieldErrors{}
	if pts.Valid && pts.Amount < 0 {
		errs.Add("points", "must be at least 0")
	}
	if orderIndex < 0 {
		errs.Add("orderIndex", "must be at least 1")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	eq := Question{ID: id, ExamID: examID, OrderIndex: orderIndex, Points: pts}
	if err := s.store.UpdateQuestion(ctx, &eq); err != nil {
		return nil, err
	}
	return &eq, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, examID, id int64) error {
	return s.store.DeleteQuestion(ctx, examID, id)
}

func (s *Service) ListQuestions(ctx context.Context, examID int64) ([]Question, error) {
	if _, err := s.store.Get(ctx, examID); err != nil {
		return nil, err
	}
	return ListQuestions(ctx, s.store.db, examID)
}
