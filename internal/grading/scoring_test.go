package grading

import (
	"testing"

	"cbtexam/internal/points"
)

func TestScoreQuestion_MultipleChoiceExact(t *testing.T) {
	two := points.Some(points.FromInt(2))
	tests := []struct {
		name     string
		correct  []int64
		selected []int64
		pts      points.NullAmount
		reason   string
		answered bool
		earned   points.Amount
		possible points.Amount
	}{
		{name: "exact match any order", correct: []int64{3, 1}, selected: []int64{1, 3}, pts: two, reason: "correct", answered: true, earned: 200, possible: 200},
		{name: "duplicate selection collapses", correct: []int64{4}, selected: []int64{4, 4}, pts: two, reason: "correct", answered: true, earned: 200, possible: 200},
		{name: "missing one", correct: []int64{1, 3}, selected: []int64{1}, pts: two, reason: "wrong", answered: true, earned: 0, possible: 200},
		{name: "extra one", correct: []int64{1, 3}, selected: []int64{1, 2, 3}, pts: two, reason: "wrong", answered: true, earned: 0, possible: 200},
		{name: "empty selection", correct: []int64{1}, selected: nil, pts: two, reason: "unanswered", answered: false, earned: 0, possible: 200},
		{name: "default points", correct: []int64{5}, selected: []int64{5}, reason: "correct", answered: true, earned: 100, possible: 100},
		{name: "no correct option in key", correct: nil, selected: nil, pts: two, reason: "malformed_answer_key", answered: false, earned: 0, possible: 200},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreQuestion(ScoreInput{
				QuestionID:       9,
				QuestionType:     TypeMultipleChoice,
				CorrectChoiceIDs: tc.correct,
				SelectedIDs:      tc.selected,
				Points:           tc.pts,
			})
			assertScoreResult(t, got, tc.reason, tc.answered, tc.earned, tc.possible)
		})
	}
}

func TestScoreQuestion_FillBlank(t *testing.T) {
	tests := []struct {
		name     string
		accepted []string
		text     string
		reason   string
		earned   points.Amount
	}{
		{name: "exact", accepted: []string{"ha noi"}, text: "ha noi", reason: "correct", earned: 100},
		{name: "diacritics and case", accepted: []string{NormalizeText("Hà Nội")}, text: "  HA NOI ", reason: "correct", earned: 100},
		{name: "second accepted answer", accepted: []string{"paris", "pari"}, text: "Pari", reason: "correct", earned: 100},
		{name: "wrong", accepted: []string{"paris"}, text: "london", reason: "wrong", earned: 0},
		{name: "blank text", accepted: []string{"paris"}, text: "   ", reason: "unanswered", earned: 0},
		{name: "no accepted answers", accepted: nil, text: "paris", reason: "malformed_answer_key", earned: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreQuestion(ScoreInput{
				QuestionID:      1,
				QuestionType:    TypeFillBlank,
				AcceptedAnswers: tc.accepted,
				TextAnswer:      tc.text,
			})
			if got.Reason != tc.reason {
				t.Fatalf("expected reason=%s, got=%s", tc.reason, got.Reason)
			}
			if got.PointsEarned != tc.earned {
				t.Fatalf("expected earned=%s, got=%s", tc.earned, got.PointsEarned)
			}
		})
	}
}

func TestScoreQuestion_UnsupportedTypeEarnsNothing(t *testing.T) {
	got := ScoreQuestion(ScoreInput{QuestionID: 1, QuestionType: "Essay", TextAnswer: "x"})
	assertScoreResult(t, got, "unsupported_type", false, 0, 100)
}

func TestGrade(t *testing.T) {
	five := points.Some(points.FromInt(5))
	mcq := ScoreInput{QuestionID: 20, QuestionType: TypeMultipleChoice, CorrectChoiceIDs: []int64{1}, SelectedIDs: []int64{1}, Points: five}
	wrong := ScoreInput{QuestionID: 10, QuestionType: TypeFillBlank, AcceptedAnswers: []string{"a"}, TextAnswer: "b", Points: five}

	tests := []struct {
		name      string
		inputs    []ScoreInput
		threshold points.NullAmount
		total     points.Amount
		max       points.Amount
		pct       points.Amount
		passed    bool
	}{
		{name: "half right meets 50 threshold", inputs: []ScoreInput{mcq, wrong}, threshold: points.Some(points.FromInt(50)), total: 500, max: 1000, pct: 5000, passed: true},
		{name: "half right misses 60 threshold", inputs: []ScoreInput{mcq, wrong}, threshold: points.Some(points.FromInt(60)), total: 500, max: 1000, pct: 5000, passed: false},
		{name: "no threshold never passes", inputs: []ScoreInput{mcq}, total: 500, max: 500, pct: 10000, passed: false},
		{name: "no answers", inputs: nil, threshold: points.Some(0), total: 0, max: 0, pct: 0, passed: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Grade(tc.inputs, tc.threshold)
			if got.TotalScore != tc.total || got.MaxScore != tc.max || got.ScorePercentage != tc.pct || got.Passed != tc.passed {
				t.Fatalf("unexpected summary: total=%s max=%s pct=%s passed=%v", got.TotalScore, got.MaxScore, got.ScorePercentage, got.Passed)
			}
		})
	}
}

func TestGradeIsDeterministic(t *testing.T) {
	inputs := []ScoreInput{
		{QuestionID: 3, QuestionType: TypeMultipleChoice, CorrectChoiceIDs: []int64{7, 8}, SelectedIDs: []int64{8, 7}},
		{QuestionID: 1, QuestionType: TypeFillBlank, AcceptedAnswers: []string{"x"}, TextAnswer: "X"},
		{QuestionID: 2, QuestionType: TypeMultipleChoice, CorrectChoiceIDs: []int64{1}, SelectedIDs: []int64{2}},
	}
	first := Grade(inputs, points.Some(points.FromInt(60)))
	for i := 0; i < 5; i++ {
		again := Grade(inputs, points.Some(points.FromInt(60)))
		if again.TotalScore != first.TotalScore || again.ScorePercentage != first.ScorePercentage || again.Passed != first.Passed {
			t.Fatalf("grading not deterministic")
		}
		for j := range again.Details {
			if again.Details[j].QuestionID != first.Details[j].QuestionID {
				t.Fatalf("detail order changed")
			}
		}
	}
	if first.Details[0].QuestionID != 1 || first.ScorePercentage != 6667 || !first.Passed {
		t.Fatalf("unexpected summary: %+v", first)
	}
}

func assertScoreResult(t *testing.T, got ScoreResult, reason string, answered bool, earned, possible points.Amount) {
	t.Helper()
	if got.Reason != reason {
		t.Fatalf("expected reason=%s, got=%s", reason, got.Reason)
	}
	if got.Answered != answered {
		t.Fatalf("expected answered=%v, got=%v", answered, got.Answered)
	}
	if got.PointsEarned != earned {
		t.Fatalf("expected earned=%s, got=%s", earned, got.PointsEarned)
	}
	if got.PointsPossible != possible {
		t.Fatalf("expected possible=%s, got=%s", possible, got.PointsPossible)
	}
}
