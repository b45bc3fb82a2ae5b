package grading

import (
	"sort"

	"cbtexam/internal/points"
)

const (
	TypeMultipleChoice = "MultipleChoice"
	TypeFillBlank      = "FillBlank"
)

// DefaultPoints applies when an exam question carries no explicit points.
var DefaultPoints = points.FromInt(1)

// ScoreInput is one saved answer together with its canonical key.
type ScoreInput struct {
	QuestionID   int64
	QuestionType string
	// CorrectChoiceIDs lists the options flagged correct (MultipleChoice).
	CorrectChoiceIDs []int64
	// AcceptedAnswers holds normalized accepted texts (FillBlank).
	AcceptedAnswers []string
	SelectedIDs     []int64
	TextAnswer      string
	Points          points.NullAmount
}

type ScoreResult struct {
	QuestionID     int64         `json:"questionId"`
	Answered       bool          `json:"answered"`
	Correct        bool          `json:"correct"`
	PointsPossible points.Amount `json:"pointsPossible"`
	PointsEarned   points.Amount `json:"pointsEarned"`
	Reason         string        `json:"reason"`
	Selected       []int64       `json:"selected,omitempty"`
	CorrectIDs     []int64       `json:"correctIds,omitempty"`
}

func ScoreQuestion(in ScoreInput) ScoreResult {
	possible := in.Points.Or(DefaultPoints)
	if possible < 0 {
		possible = 0
	}

	var res ScoreResult
	switch in.QuestionType {
	case TypeMultipleChoice:
		res = scoreMultipleChoice(in)
	case TypeFillBlank:
		res = scoreFillBlank(in)
	default:
		res = ScoreResult{Reason: "unsupported_type"}
	}

	res.QuestionID = in.QuestionID
	res.PointsPossible = possible
	if res.Correct {
		res.PointsEarned = possible
	}
	return res
}

func scoreMultipleChoice(in ScoreInput) ScoreResult {
	correct := sortedUnique(in.CorrectChoiceIDs)
	if len(correct) == 0 {
		return ScoreResult{Reason: "malformed_answer_key"}
	}
	selected := sortedUnique(in.SelectedIDs)
	if len(selected) == 0 {
		return ScoreResult{Reason: "unanswered", CorrectIDs: correct}
	}
	if equalIDs(selected, correct) {
		return ScoreResult{Answered: true, Correct: true, Reason: "correct", Selected: selected, CorrectIDs: correct}
	}
	return ScoreResult{Answered: true, Reason: "wrong", Selected: selected, CorrectIDs: correct}
}

func scoreFillBlank(in ScoreInput) ScoreResult {
	if len(in.AcceptedAnswers) == 0 {
		return ScoreResult{Reason: "malformed_answer_key"}
	}
	got := NormalizeText(in.TextAnswer)
	if got == "" {
		return ScoreResult{Reason: "unanswered"}
	}
	for _, accepted := range in.AcceptedAnswers {
		if got == accepted {
			return ScoreResult{Answered: true, Correct: true, Reason: "correct"}
		}
	}
	return ScoreResult{Answered: true, Reason: "wrong"}
}

// Summary is the aggregate result of an attempt.
type Summary struct {
	TotalScore      points.Amount `json:"totalScore"`
	MaxScore        points.Amount `json:"maxScore"`
	ScorePercentage points.Amount `json:"scorePercentage"`
	Passed          bool          `json:"passed"`
	Details         []ScoreResult `json:"details"`
}

// Grade scores every saved answer and aggregates them. Questions the student
// never saved do not count toward MaxScore. Passed requires a threshold.
func Grade(inputs []ScoreInput, passThreshold points.NullAmount) Summary {
	details := make([]ScoreResult, 0, len(inputs))
	var earned, possible points.Amount
	for _, in := range inputs {
		res := ScoreQuestion(in)
		earned += res.PointsEarned
		possible += res.PointsPossible
		details = append(details, res)
	}
	sort.SliceStable(details, func(i, j int) bool { return details[i].QuestionID < details[j].QuestionID })

	pct := points.Percent(earned, possible)
	return Summary{
		TotalScore:      earned,
		MaxScore:        possible,
		ScorePercentage: pct,
		Passed:          passThreshold.Valid && pct >= passThreshold.Amount,
		Details:         details,
	}
}

func sortedUnique(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
