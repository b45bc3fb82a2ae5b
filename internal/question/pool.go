// Package question is a read-only view over the question bank: eligibility
// queries for exam assembly and canonical answer keys for grading.
package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cbtexam/internal/db"
	"cbtexam/internal/grading"
)

var ErrQuestionNotFound = errors.New("question not found")

const BankStatusActive = "Active"

// Criteria selects eligible questions. Domain matches the linked difficulty
// row; DifficultyLevel matches the question's difficulty id exactly.
type Criteria struct {
	BankID          int64
	Domain          *string
	DifficultyLevel *int64
}

// Key is the canonical answer set of one question.
type Key struct {
	QuestionID       int64
	Type             string
	CorrectChoiceIDs []int64
	AcceptedAnswers  []string
}

type Pool struct {
	db db.Queryer
}

func NewPool(q db.Queryer) *Pool {
	return &Pool{db: q}
}

func (c Criteria) where() (string, []any) {
	clauses := []string{"q.bank_id = ?", "q.is_active = ?", "b.status = ?"}
	args := []any{c.BankID, true, BankStatusActive}
	if c.Domain != nil {
		clauses = append(clauses, "d.domain = ?")
		args = append(args, *c.Domain)
	}
	if c.DifficultyLevel != nil {
		clauses = append(clauses, "q.difficulty_id = ?")
		args = append(args, *c.DifficultyLevel)
	}
	return strings.Join(clauses, " AND "), args
}

const eligibleFrom = `
FROM questions q
JOIN question_banks b ON b.id = q.bank_id
LEFT JOIN question_difficulties d ON d.id = q.difficulty_id
WHERE `

// CountEligible reports how many questions satisfy c. An inactive bank
// yields zero.
func (p *Pool) CountEligible(ctx context.Context, c Criteria) (int, error) {
	where, args := c.where()
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*)`+eligibleFrom+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count eligible questions: %w", err)
	}
	return n, nil
}

// EligibleIDs lists matching question ids in ascending order.
func (p *Pool) EligibleIDs(ctx context.Context, c Criteria) ([]int64, error) {
	where, args := c.where()
	rows, err := p.db.QueryContext(ctx, `SELECT q.id`+eligibleFrom+where+` ORDER BY q.id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list eligible questions: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan eligible question: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Pool) Exists(ctx context.Context, questionID int64) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM questions WHERE id = ?`, questionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check question: %w", err)
	}
	return true, nil
}

// Keys loads answer keys for the given questions. Unknown ids are absent
// from the result.
func (p *Pool) Keys(ctx context.Context, questionIDs []int64) (map[int64]Key, error) {
	out := make(map[int64]Key, len(questionIDs))
	if len(questionIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(questionIDs))
	for _, id := range questionIDs {
		args = append(args, id)
	}
	in := db.Placeholders(len(args))

	rows, err := p.db.QueryContext(ctx, `SELECT id, type FROM questions WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load question types: %w", err)
	}
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.QuestionID, &k.Type); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan question type: %w", err)
		}
		out[k.QuestionID] = k
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = p.db.QueryContext(ctx, `
SELECT question_id, id
FROM question_mc_answers
WHERE is_correct = ? AND question_id IN (`+in+`)
ORDER BY question_id, id`, append([]any{true}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("load choice keys: %w", err)
	}
	for rows.Next() {
		var qid, aid int64
		if err := rows.Scan(&qid, &aid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan choice key: %w", err)
		}
		if k, ok := out[qid]; ok {
			k.CorrectChoiceIDs = append(k.CorrectChoiceIDs, aid)
			out[qid] = k
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = p.db.QueryContext(ctx, `
SELECT question_id, correct_answer, normalized_correct_answer
FROM question_fill_blank_answers
WHERE question_id IN (`+in+`)
ORDER BY question_id, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load blank keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			qid                 int64
			correct, normalized string
		)
		if err := rows.Scan(&qid, &correct, &normalized); err != nil {
			return nil, fmt.Errorf("scan blank key: %w", err)
		}
		// Stored keys may predate the stroke-letter fold; NormalizeText is
		// idempotent so re-running it is safe.
		if normalized == "" {
			normalized = correct
		}
		normalized = grading.NormalizeText(normalized)
		if k, ok := out[qid]; ok {
			k.AcceptedAnswers = append(k.AcceptedAnswers, normalized)
			out[qid] = k
		}
	}
	return out, rows.Err()
}
