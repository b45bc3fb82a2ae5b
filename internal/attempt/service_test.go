package attempt

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"time"

	"cbtexam/internal/db"
	"cbtexam/internal/db/dbtest"
	"cbtexam/internal/exam"
	"cbtexam/internal/grading"
	"cbtexam/internal/points"
	"cbtexam/internal/question"
)

var clock = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	d     *db.DB
	svc   *Service
	store *Store
	exams *exam.Service
	bank  int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	d := dbtest.Open(t)
	store := NewStore(d)
	return fixture{
		d:     d,
		store: store,
		svc: NewService(store, Config{
			Rand: rand.New(rand.NewSource(7)),
			Now:  func() time.Time { return clock },
		}),
		exams: exam.NewService(exam.NewStore(d), question.NewPool(d), 60, nil),
		bank:  dbtest.SeedBank(t, d, "Geography", question.BankStatusActive),
	}
}

// activeExam creates an Active exam holding the given questions at one
// point each.
func (fx fixture) activeExam(t *testing.T, in exam.ExamInput, qids ...int64) *exam.Exam {
	t.Helper()
	ctx := context.Background()
	if in.Title == "" {
		in.Title = "Quiz"
	}
	e, err := fx.exams.CreateExam(ctx, 9, in)
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	for _, qid := range qids {
		if _, err := fx.exams.AddQuestion(ctx, e.ID, qid, points.NullAmount{}, 0); err != nil {
			t.Fatalf("AddQuestion: %v", err)
		}
	}
	if e, err = fx.exams.UpdateStatus(ctx, e.ID, exam.StatusActive); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	return e
}

func (fx fixture) mcq(t *testing.T, correct ...bool) (int64, []int64) {
	t.Helper()
	qid := dbtest.SeedQuestion(t, fx.d, dbtest.Question{BankID: fx.bank, Type: grading.TypeMultipleChoice})
	return qid, dbtest.SeedChoices(t, fx.d, qid, correct...)
}

func TestCheckAccessReasons(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	future := clock.Add(time.Hour)
	pw := "secret"
	e, err := fx.exams.CreateExam(ctx, 9, exam.ExamInput{Title: "Later", StartTime: &future, Password: &pw})
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	past := clock.Add(-time.Hour)
	ended := fx.activeExam(t, exam.ExamInput{Title: "Over", EndTime: &past})
	open := fx.activeExam(t, exam.ExamInput{Title: "Open", Password: &pw})

	tests := []struct {
		name     string
		examID   int64
		password string
		want     []string
	}{
		{name: "unknown exam", examID: 999, want: []string{ReasonExamNotFound}},
		{name: "draft in the future", examID: e.ID, password: "nope", want: []string{ReasonExamNotActive, ReasonExamNotStarted, ReasonInvalidPassword}},
		{name: "ended", examID: ended.ID, want: []string{ReasonExamEnded}},
		{name: "wrong password", examID: open.ID, password: "guess", want: []string{ReasonInvalidPassword}},
		{name: "open", examID: open.ID, password: pw, want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			access, err := fx.svc.CheckAccess(ctx, tc.examID, 42, tc.password)
			if err != nil {
				t.Fatalf("CheckAccess: %v", err)
			}
			if !reflect.DeepEqual(access.Errors, tc.want) || access.OK != (len(tc.want) == 0) {
				t.Fatalf("got %+v, want errors %v", access, tc.want)
			}
		})
	}
}

func TestSixthAttemptRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	qid, _ := fx.mcq(t, true, false)
	limit := 5
	e := fx.activeExam(t, exam.ExamInput{MaxAttempts: &limit}, qid)

	for i := 1; i <= 5; i++ {
		res, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if res.AttemptNumber != i {
			t.Fatalf("attempt number = %d, want %d", res.AttemptNumber, i)
		}
	}

	_, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AccessDeniedError, got %v", err)
	}
	if !reflect.DeepEqual(denied.Reasons, []string{ReasonNoAttemptsLeft}) {
		t.Fatalf("reasons = %v", denied.Reasons)
	}
	n, err := countAttempts(ctx, fx.d, e.ID, 42)
	if err != nil || n != 5 {
		t.Fatalf("rejected start must not insert: count=%d err=%v", n, err)
	}

	// Another student is unaffected.
	if _, err := fx.svc.StartAttempt(ctx, e.ID, 43, ""); err != nil {
		t.Fatalf("other student: %v", err)
	}
}

func TestStartAttemptPresentation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	qids := dbtest.SeedQuestions(t, fx.d, 6, dbtest.Question{BankID: fx.bank})

	ordered := fx.activeExam(t, exam.ExamInput{Title: "Ordered", DurationMinutes: 30, RandomizeAnswers: true}, qids...)
	res, err := fx.svc.StartAttempt(ctx, ordered.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if !res.RandomizeAnswers || res.DurationMinutes != 30 || !res.StartedAt.Equal(clock) {
		t.Fatalf("unexpected response: %+v", res)
	}
	if !res.ExpiresAt.Equal(clock.Add(30 * time.Minute)) {
		t.Fatalf("expiresAt = %v", res.ExpiresAt)
	}
	for i, q := range res.Questions {
		if q.QuestionID != qids[i] || q.Index != i+1 || q.PointsPossible != grading.DefaultPoints {
			t.Fatalf("question %d = %+v", i, q)
		}
	}

	shuffled := fx.activeExam(t, exam.ExamInput{Title: "Shuffled", RandomizeQuestions: true}, qids...)
	res, err = fx.svc.StartAttempt(ctx, shuffled.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	got := make([]int64, 0, len(res.Questions))
	for i, q := range res.Questions {
		if q.Index != i+1 {
			t.Fatalf("index %d at position %d", q.Index, i)
		}
		got = append(got, q.QuestionID)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if !reflect.DeepEqual(got, qids) {
		t.Fatalf("shuffle must be a permutation, got %v", got)
	}
}

func TestConcurrentStartLosesOnUniqueNumber(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	e := fx.activeExam(t, exam.ExamInput{})

	first := Attempt{ExamID: e.ID, StudentID: 42, AttemptNumber: 1, StartedAt: clock}
	if err := fx.store.Create(ctx, &first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	second := Attempt{ExamID: e.ID, StudentID: 42, AttemptNumber: 1, StartedAt: clock}
	if err := fx.store.Create(ctx, &second); !errors.Is(err, ErrConcurrentStart) {
		t.Fatalf("expected ErrConcurrentStart, got %v", err)
	}
}

func TestSaveAnswerIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	qid, choices := fx.mcq(t, true, false, false)
	e := fx.activeExam(t, exam.ExamInput{}, qid)
	res, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	in := SaveAnswerInput{AttemptID: res.AttemptID, QuestionID: qid, SelectedAnswerIDs: []int64{choices[1], choices[1]}}
	first, err := fx.svc.SaveAnswer(ctx, in)
	if err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	in.SelectedAnswerIDs = []int64{choices[2], choices[0]}
	second, err := fx.svc.SaveAnswer(ctx, in)
	if err != nil {
		t.Fatalf("SaveAnswer again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeat save should update row %d, got %d", first.ID, second.ID)
	}

	a, err := fx.svc.GetAttempt(ctx, res.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if len(a.Answers) != 1 {
		t.Fatalf("expected one answer row, got %d", len(a.Answers))
	}
	want := []int64{choices[0], choices[2]}
	if !reflect.DeepEqual(a.Answers[0].SelectedAnswerIDs, want) {
		t.Fatalf("selected = %v, want %v", a.Answers[0].SelectedAnswerIDs, want)
	}
}

func TestSaveAnswerRejections(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	qid, _ := fx.mcq(t, true)
	other, _ := fx.mcq(t, true)
	e := fx.activeExam(t, exam.ExamInput{}, qid)
	res, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	if _, err := fx.svc.SaveAnswer(ctx, SaveAnswerInput{AttemptID: 999, QuestionID: qid}); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("unknown attempt: got %v", err)
	}
	if _, err := fx.svc.SaveAnswer(ctx, SaveAnswerInput{AttemptID: res.AttemptID, QuestionID: other}); !errors.Is(err, ErrQuestionNotInExam) {
		t.Fatalf("foreign question: got %v", err)
	}
	if _, err := fx.svc.Submit(ctx, res.AttemptID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := fx.svc.SaveAnswer(ctx, SaveAnswerInput{AttemptID: res.AttemptID, QuestionID: qid}); !errors.Is(err, ErrAttemptAlreadySubmitted) {
		t.Fatalf("submitted attempt: got %v", err)
	}
}

func TestSubmitPassesAtThreshold(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	q1, c1 := fx.mcq(t, true, false)
	q2, c2 := fx.mcq(t, false, true)
	e := fx.activeExam(t, exam.ExamInput{PassThreshold: points.Some(points.FromInt(50))}, q1, q2)

	res, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	for _, in := range []SaveAnswerInput{
		{AttemptID: res.AttemptID, QuestionID: q1, SelectedAnswerIDs: []int64{c1[0]}},
		{AttemptID: res.AttemptID, QuestionID: q2, SelectedAnswerIDs: []int64{c2[0]}},
	} {
		if _, err := fx.svc.SaveAnswer(ctx, in); err != nil {
			t.Fatalf("SaveAnswer: %v", err)
		}
	}

	sub, err := fx.svc.Submit(ctx, res.AttemptID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.TotalScore != points.FromInt(1) || sub.MaxScore != points.FromInt(2) {
		t.Fatalf("score %s/%s", sub.TotalScore, sub.MaxScore)
	}
	if sub.ScorePercentage != points.FromInt(50) || !sub.Passed {
		t.Fatalf("50%% should pass a 50 threshold: %+v", sub)
	}
	if len(sub.Details) != 2 || !sub.Details[0].Correct || sub.Details[1].Correct {
		t.Fatalf("details = %+v", sub.Details)
	}

	a, err := fx.svc.GetAttempt(ctx, res.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if a.Status != StatusSubmitted || a.SubmittedAt == nil || a.Passed == nil || !*a.Passed {
		t.Fatalf("attempt not closed: %+v", a)
	}
	if a.ScorePercentage != points.Some(points.FromInt(50)) {
		t.Fatalf("stored percentage = %+v", a.ScorePercentage)
	}
	if len(a.Scores) != 2 || a.Scores[0].QuestionID != q1 || !a.Scores[0].Correct {
		t.Fatalf("stored scores = %+v", a.Scores)
	}

	if _, err := fx.svc.Submit(ctx, res.AttemptID); !errors.Is(err, ErrAttemptAlreadySubmitted) {
		t.Fatalf("second submit: got %v", err)
	}
}

func TestSubmitFillBlankIgnoresDiacritics(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	qid := dbtest.SeedQuestion(t, fx.d, dbtest.Question{BankID: fx.bank, Type: grading.TypeFillBlank})
	dbtest.SeedBlank(t, fx.d, qid, "Hà Nội", "")
	e := fx.activeExam(t, exam.ExamInput{}, qid)

	res, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	text := "  ha noi "
	if _, err := fx.svc.SaveAnswer(ctx, SaveAnswerInput{AttemptID: res.AttemptID, QuestionID: qid, TextAnswer: &text}); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	sub, err := fx.svc.Submit(ctx, res.AttemptID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.TotalScore != points.FromInt(1) || sub.Passed {
		t.Fatalf("unexpected result: %+v", sub)
	}
}

func TestSubmitFillBlankStoredKeyWithStroke(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	qid := dbtest.SeedQuestion(t, fx.d, dbtest.Question{BankID: fx.bank, Type: grading.TypeFillBlank})
	dbtest.SeedBlank(t, fx.d, qid, "Đà Nẵng", "đa nang")
	e := fx.activeExam(t, exam.ExamInput{}, qid)

	res, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	text := "Đà Nẵng"
	if _, err := fx.svc.SaveAnswer(ctx, SaveAnswerInput{AttemptID: res.AttemptID, QuestionID: qid, TextAnswer: &text}); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	sub, err := fx.svc.Submit(ctx, res.AttemptID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.TotalScore != points.FromInt(1) || len(sub.Details) != 1 || !sub.Details[0].Correct {
		t.Fatalf("canonical answer graded wrong: %+v", sub)
	}
}

func TestSubmitUnknownAttempt(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.Submit(context.Background(), 404); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestLatestAndList(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	e := fx.activeExam(t, exam.ExamInput{})

	if _, err := fx.svc.LatestAttempt(ctx, e.ID, 42); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected no attempt yet, got %v", err)
	}
	first, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if _, err := fx.svc.Submit(ctx, first.AttemptID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := fx.svc.StartAttempt(ctx, e.ID, 42, "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if _, err := fx.svc.StartAttempt(ctx, e.ID, 43, ""); err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	latest, err := fx.svc.LatestAttempt(ctx, e.ID, 42)
	if err != nil {
		t.Fatalf("LatestAttempt: %v", err)
	}
	if latest.ID != second.AttemptID || latest.AttemptNumber != 2 {
		t.Fatalf("latest = %+v", latest)
	}

	all, err := fx.svc.ListAttempts(ctx, e.ID, Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("all attempts: %d, %v", len(all), err)
	}
	mine, err := fx.svc.ListAttempts(ctx, e.ID, Filter{StudentID: 42, Status: StatusSubmitted})
	if err != nil || len(mine) != 1 || mine[0].ID != first.AttemptID {
		t.Fatalf("submitted attempts for 42: %+v, %v", mine, err)
	}
	if _, err := fx.svc.ListAttempts(ctx, e.ID, Filter{Status: "Paused"}); err == nil {
		t.Fatalf("expected invalid status error")
	}
}
