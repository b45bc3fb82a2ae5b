// Package dbtest opens migrated in-memory databases and seeds question bank
// rows for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"cbtexam/internal/db"
)

func Open(t testing.TB) *db.DB {
	t.Helper()
	ctx := context.Background()
	d, err := db.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := db.Migrate(ctx, d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func insertID(t testing.TB, d *db.DB, query string, args ...any) int64 {
	t.Helper()
	var id int64
	if err := d.QueryRowContext(context.Background(), query+" RETURNING id", args...).Scan(&id); err != nil {
		t.Fatalf("seed %q: %v", query, err)
	}
	return id
}

func SeedBank(t testing.TB, d *db.DB, name, status string) int64 {
	t.Helper()
	return insertID(t, d, `INSERT INTO question_banks (name, status) VALUES (?, ?)`, name, status)
}

func SeedDifficulty(t testing.TB, d *db.DB, domain string, level int) int64 {
	t.Helper()
	return insertID(t, d, `INSERT INTO question_difficulties (domain, difficulty_level, description) VALUES (?, ?, ?)`, domain, level, "")
}

// Question describes a bank question to seed. DifficultyID zero means none.
type Question struct {
	BankID       int64
	DifficultyID int64
	Type         string
	Inactive     bool
}

func SeedQuestion(t testing.TB, d *db.DB, q Question) int64 {
	t.Helper()
	var difficulty sql.NullInt64
	if q.DifficultyID > 0 {
		difficulty = sql.NullInt64{Int64: q.DifficultyID, Valid: true}
	}
	typ := q.Type
	if typ == "" {
		typ = "MultipleChoice"
	}
	return insertID(t, d, `INSERT INTO questions (bank_id, title, content, type, difficulty_id, is_active) VALUES (?, ?, ?, ?, ?, ?)`,
		q.BankID, "q", "content", typ, difficulty, !q.Inactive)
}

// SeedQuestions inserts n questions sharing the same attributes.
func SeedQuestions(t testing.TB, d *db.DB, n int, q Question) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, SeedQuestion(t, d, q))
	}
	return ids
}

// SeedChoices adds one answer option per flag and returns their ids in order.
func SeedChoices(t testing.TB, d *db.DB, questionID int64, correct ...bool) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(correct))
	for i, ok := range correct {
		ids = append(ids, insertID(t, d, `INSERT INTO question_mc_answers (question_id, text, is_correct, explanation, order_index) VALUES (?, ?, ?, ?, ?)`,
			questionID, "option", ok, "", i+1))
	}
	return ids
}

// SeedBlank adds an accepted fill-in answer. normalized may be empty.
func SeedBlank(t testing.TB, d *db.DB, questionID int64, correct, normalized string) int64 {
	t.Helper()
	return insertID(t, d, `INSERT INTO question_fill_blank_answers (question_id, correct_answer, normalized_correct_answer, explanation) VALUES (?, ?, ?, ?)`,
		questionID, correct, normalized, "")
}
