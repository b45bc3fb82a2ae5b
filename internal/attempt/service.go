package attempt

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"cbtexam/internal/app/observability"
	"cbtexam/internal/app/validate"
	"cbtexam/internal/auth"
	"cbtexam/internal/db"
	"cbtexam/internal/exam"
	"cbtexam/internal/grading"
	"cbtexam/internal/points"
	"cbtexam/internal/question"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type Config struct {
	Rand    *rand.Rand
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Service drives attempts from start to grading. Presentation shuffles
// share one random source guarded by a mutex.
type Service struct {
	store   *Store
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewService(store *Store, cfg Config) *Service {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:   store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		rng:     cfg.Rand,
	}
}

// CheckAccess reports whether the student may start a new attempt and, if
// not, every reason why.
func (s *Service) CheckAccess(ctx context.Context, examID, studentID int64, password string) (Access, error) {
	_, _, reasons, err := s.evaluate(ctx, s.store.db, examID, studentID, password)
	if err != nil {
		return Access{}, err
	}
	return Access{OK: len(reasons) == 0, Errors: reasons}, nil
}

// evaluate loads the exam and collects access failures in a fixed order. An
// unknown exam stops evaluation.
func (s *Service) evaluate(ctx context.Context, q db.Queryer, examID, studentID int64, password string) (exam.Exam, int, []string, error) {
	reasons := make([]string, 0)
	e, err := exam.Load(ctx, q, examID)
	if errors.Is(err, exam.ErrExamNotFound) {
		return exam.Exam{}, 0, append(reasons, ReasonExamNotFound), nil
	}
	if err != nil {
		return exam.Exam{}, 0, nil, err
	}

	if e.Status != exam.StatusActive {
		reasons = append(reasons, ReasonExamNotActive)
	}
	now := s.now()
	if e.StartTime != nil && now.Before(*e.StartTime) {
		reasons = append(reasons, ReasonExamNotStarted)
	}
	if e.EndTime != nil && now.After(*e.EndTime) {
		reasons = append(reasons, ReasonExamEnded)
	}
	if e.PasswordHash != "" && !auth.VerifyPassword(e.PasswordHash, password) {
		reasons = append(reasons, ReasonInvalidPassword)
	}
	prior, err := countAttempts(ctx, q, examID, studentID)
	if err != nil {
		return exam.Exam{}, 0, nil, err
	}
	if e.MaxAttempts != nil && prior >= *e.MaxAttempts {
		reasons = append(reasons, ReasonNoAttemptsLeft)
	}
	return e, prior, reasons, nil
}

// StartAttempt opens the student's next attempt. Access failures come back
// as *AccessDeniedError and leave nothing behind.
func (s *Service) StartAttempt(ctx context.Context, examID, studentID int64, password string) (*StartResponse, error) {
	var (
		e         exam.Exam
		a         Attempt
		questions []exam.Question
	)
	err := s.store.db.WithTx(ctx, func(tx *db.Tx) error {
		loaded, prior, reasons, err := s.evaluate(ctx, tx, examID, studentID, password)
		if err != nil {
			return err
		}
		if len(reasons) > 0 {
			return &AccessDeniedError{Reasons: reasons}
		}
		e = loaded
		a = Attempt{
			ExamID:        examID,
			StudentID:     studentID,
			AttemptNumber: prior + 1,
			StartedAt:     s.now().UTC(),
			Status:        StatusInProgress,
		}
		if err := insertAttempt(ctx, tx, &a); err != nil {
			return err
		}
		questions, err = exam.ListQuestions(ctx, tx, examID)
		return err
	})
	if err != nil {
		var denied *AccessDeniedError
		switch {
		case errors.As(err, &denied):
			s.metrics.AttemptRejected(denied.Reasons)
		case errors.Is(err, ErrConcurrentStart):
			s.metrics.AttemptRejected([]string{ReasonConcurrentStart})
		}
		return nil, err
	}

	if e.RandomizeQuestions {
		s.shuffle(questions)
	}
	presented := make([]PresentedQuestion, 0, len(questions))
	for i, q := range questions {
		presented = append(presented, PresentedQuestion{
			QuestionID:     q.QuestionID,
			Index:          i + 1,
			PointsPossible: q.Weight(),
		})
	}

	s.metrics.AttemptStarted()
	s.logger.Info("attempt started",
		zap.Int64("attempt_id", a.ID),
		zap.Int64("exam_id", examID),
		zap.Int64("student_id", studentID),
		zap.Int("attempt_number", a.AttemptNumber),
	)
	return &StartResponse{
		AttemptID:        a.ID,
		AttemptNumber:    a.AttemptNumber,
		ExamID:           examID,
		DurationMinutes:  e.DurationMinutes,
		StartedAt:        a.StartedAt,
		ExpiresAt:        a.StartedAt.Add(time.Duration(e.DurationMinutes) * time.Minute),
		RandomizeAnswers: e.RandomizeAnswers,
		Questions:        presented,
	}, nil
}

func (s *Service) shuffle(questions []exam.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
}

// SaveAnswer records or overwrites the answer to one exam question.
func (s *Service) SaveAnswer(ctx context.Context, in SaveAnswerInput) (*Answer, error) {
	ans := Answer{
		AttemptID:         in.AttemptID,
		QuestionID:        in.QuestionID,
		SelectedAnswerIDs: in.SelectedAnswerIDs,
		TextAnswer:        in.TextAnswer,
		AnswerData:        in.AnswerData,
	}
	err := s.store.db.WithTx(ctx, func(tx *db.Tx) error {
		la, err := lockAttempt(ctx, tx, in.AttemptID)
		if err != nil {
			return err
		}
		if la.Status != StatusInProgress {
			return ErrAttemptAlreadySubmitted
		}
		ok, err := examHasQuestion(ctx, tx, la.ExamID, in.QuestionID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrQuestionNotInExam
		}
		return upsertAnswer(ctx, tx, &ans, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return &ans, nil
}

// Submit grades the attempt and closes it. Scores and totals are written in
// the same transaction that holds the attempt row.
func (s *Service) Submit(ctx context.Context, attemptID int64) (*SubmitResponse, error) {
	ctx, span := otel.Tracer("cbtexam/attempt").Start(ctx, "attempt.Submit")
	defer span.End()
	span.SetAttributes(attribute.Int64("attempt.id", attemptID))

	res, err := s.submit(ctx, attemptID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("attempt.score_percentage", res.ScorePercentage.String()),
		attribute.Bool("attempt.passed", res.Passed),
	)

	s.metrics.AttemptGraded(res.Passed, res.ScorePercentage.Float64())
	s.logger.Info("attempt submitted",
		zap.Int64("attempt_id", attemptID),
		zap.Int64("exam_id", res.ExamID),
		zap.String("total_score", res.TotalScore.String()),
		zap.String("max_score", res.MaxScore.String()),
		zap.Bool("passed", res.Passed),
	)
	return res, nil
}

func (s *Service) submit(ctx context.Context, attemptID int64) (*SubmitResponse, error) {
	var res SubmitResponse
	err := s.store.db.WithTx(ctx, func(tx *db.Tx) error {
		la, err := lockAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if la.Status == StatusSubmitted {
			return ErrAttemptAlreadySubmitted
		}
		e, err := exam.Load(ctx, tx, la.ExamID)
		if err != nil {
			return err
		}
		eqs, err := exam.ListQuestions(ctx, tx, la.ExamID)
		if err != nil {
			return err
		}
		weights := make(map[int64]points.NullAmount, len(eqs))
		for _, eq := range eqs {
			weights[eq.QuestionID] = eq.Points
		}

		answers, err := loadAnswers(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(answers))
		for _, ans := range answers {
			ids = append(ids, ans.QuestionID)
		}
		keys, err := question.NewPool(tx).Keys(ctx, ids)
		if err != nil {
			return err
		}

		summary := grading.Grade(scoreInputs(answers, keys, weights), e.PassThreshold)
		if err := replaceScores(ctx, tx, attemptID, summary.Details); err != nil {
			return err
		}

		submittedAt := s.now().UTC()
		passed := summary.Passed
		a := Attempt{
			ID:              attemptID,
			Status:          StatusSubmitted,
			SubmittedAt:     &submittedAt,
			TotalScore:      points.Some(summary.TotalScore),
			MaxScore:        points.Some(summary.MaxScore),
			ScorePercentage: points.Some(summary.ScorePercentage),
			Passed:          &passed,
		}
		if err := updateAttempt(ctx, tx, &a); err != nil {
			return err
		}

		res = SubmitResponse{
			AttemptID:       attemptID,
			ExamID:          la.ExamID,
			Status:          StatusSubmitted,
			SubmittedAt:     submittedAt,
			TotalScore:      summary.TotalScore,
			MaxScore:        summary.MaxScore,
			ScorePercentage: summary.ScorePercentage,
			Passed:          summary.Passed,
			Details:         summary.Details,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// scoreInputs pairs each saved answer with its key and exam weight. Answers
// to questions missing from the bank grade with an empty key.
func scoreInputs(answers []Answer, keys map[int64]question.Key, weights map[int64]points.NullAmount) []grading.ScoreInput {
	inputs := make([]grading.ScoreInput, 0, len(answers))
	for _, ans := range answers {
		key := keys[ans.QuestionID]
		in := grading.ScoreInput{
			QuestionID:       ans.QuestionID,
			QuestionType:     key.Type,
			CorrectChoiceIDs: key.CorrectChoiceIDs,
			AcceptedAnswers:  key.AcceptedAnswers,
			SelectedIDs:      ans.SelectedAnswerIDs,
			Points:           weights[ans.QuestionID],
		}
		if ans.TextAnswer != nil {
			in.TextAnswer = *ans.TextAnswer
		}
		inputs = append(inputs, in)
	}
	return inputs
}

func (s *Service) GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	a, err := s.store.GetWithAnswers(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LatestAttempt returns the student's highest-numbered attempt at the exam.
func (s *Service) LatestAttempt(ctx context.Context, examID, studentID int64) (*Attempt, error) {
	a, err := s.store.Latest(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) ListAttempts(ctx context.Context, examID int64, f Filter) ([]Attempt, error) {
	if f.Status != "" && f.Status != StatusInProgress && f.Status != StatusSubmitted {
		return nil, validate.FieldErrors{"status": "must be one of: InProgress Submitted"}
	}
	return s.store.ListByExam(ctx, examID, f)
}

func (s *Service) Owner(ctx context.Context, attemptID int64) (Owner, error) {
	return s.store.Owner(ctx, attemptID)
}
