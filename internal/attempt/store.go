package attempt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cbtexam/internal/db"
	"cbtexam/internal/grading"
)

// Store persists attempts, their answers and per-question scores. Helpers
// that take a db.Queryer run inside the caller's transaction.
type Store struct {
	db  *db.DB
	now func() time.Time
}

var _ db.Repository[Attempt] = (*Store)(nil)

func NewStore(d *db.DB) *Store {
	return &Store{db: d, now: func() time.Time { return time.Now().UTC() }}
}

const attemptColumns = `a.id, a.exam_id, a.student_id, a.attempt_number, a.started_at, a.submitted_at,
	a.status, a.total_score, a.max_score, a.score_percentage, a.passed, e.duration_minutes`

const attemptFrom = ` FROM exam_attempts a JOIN exams e ON e.id = a.exam_id`

func scanAttempt(scanner interface{ Scan(dest ...any) error }) (Attempt, error) {
	var (
		a         Attempt
		submitted sql.NullTime
		passed    sql.NullBool
		duration  int
	)
	err := scanner.Scan(
		&a.ID,
		&a.ExamID,
		&a.StudentID,
		&a.AttemptNumber,
		&a.StartedAt,
		&submitted,
		&a.Status,
		&a.TotalScore,
		&a.MaxScore,
		&a.ScorePercentage,
		&passed,
		&duration,
	)
	if err != nil {
		return Attempt{}, err
	}
	a.StartedAt = a.StartedAt.UTC()
	if submitted.Valid {
		t := submitted.Time.UTC()
		a.SubmittedAt = &t
	}
	if passed.Valid {
		a.Passed = &passed.Bool
	}
	a.ExpiresAt = a.StartedAt.Add(time.Duration(duration) * time.Minute)
	return a, nil
}

// Create inserts a new InProgress attempt. A clash on the attempt number
// means another start for the same student won the race.
func (s *Store) Create(ctx context.Context, a *Attempt) error {
	return insertAttempt(ctx, s.db, a)
}

func insertAttempt(ctx context.Context, q db.Queryer, a *Attempt) error {
	if a.Status == "" {
		a.Status = StatusInProgress
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO exam_attempts (exam_id, student_id, attempt_number, started_at, status)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, a.ExamID, a.StudentID, a.AttemptNumber, a.StartedAt.UTC(), a.Status).Scan(&a.ID)
	if db.IsUniqueViolation(err) {
		return ErrConcurrentStart
	}
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+attemptFrom+` WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// GetWithAnswers loads the attempt together with its saved answers and, once
// submitted, its per-question scores.
func (s *Store) GetWithAnswers(ctx context.Context, id int64) (Attempt, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	if a.Answers, err = loadAnswers(ctx, s.db, id); err != nil {
		return Attempt{}, err
	}
	if a.Scores, err = loadScores(ctx, s.db, id); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// Update writes the grading outcome and status of a.
func (s *Store) Update(ctx context.Context, a *Attempt) error {
	return updateAttempt(ctx, s.db, a)
}

func updateAttempt(ctx context.Context, q db.Queryer, a *Attempt) error {
	var submitted any
	if a.SubmittedAt != nil {
		submitted = a.SubmittedAt.UTC()
	}
	res, err := q.ExecContext(ctx, `
		UPDATE exam_attempts
		SET status = ?, submitted_at = ?, total_score = ?, max_score = ?, score_percentage = ?, passed = ?
		WHERE id = ?
	`, a.Status, submitted, a.TotalScore, a.MaxScore, a.ScorePercentage, db.Nullable(a.Passed), a.ID)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exam_attempts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, page db.Page) ([]Attempt, error) {
	page = page.Normalize()
	return s.query(ctx, `SELECT `+attemptColumns+attemptFrom+` ORDER BY a.id DESC LIMIT ? OFFSET ?`, page.Limit, page.Offset)
}

// ListByExam returns the exam's attempts, newest first.
func (s *Store) ListByExam(ctx context.Context, examID int64, f Filter) ([]Attempt, error) {
	query := `SELECT ` + attemptColumns + attemptFrom + ` WHERE a.exam_id = ?`
	args := []any{examID}
	if f.StudentID > 0 {
		query += ` AND a.student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.Status != "" {
		query += ` AND a.status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY a.id DESC`
	return s.query(ctx, query, args...)
}

func (s *Store) Latest(ctx context.Context, examID, studentID int64) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+attemptFrom+`
		WHERE a.exam_id = ? AND a.student_id = ?
		ORDER BY a.attempt_number DESC
		LIMIT 1`, examID, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("latest attempt: %w", err)
	}
	return a, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Owner reports which exam and student an attempt belongs to.
func (s *Store) Owner(ctx context.Context, id int64) (Owner, error) {
	var o Owner
	err := s.db.QueryRowContext(ctx, `SELECT exam_id, student_id FROM exam_attempts WHERE id = ?`, id).
		Scan(&o.ExamID, &o.StudentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Owner{}, ErrAttemptNotFound
	}
	if err != nil {
		return Owner{}, fmt.Errorf("attempt owner: %w", err)
	}
	return o, nil
}

type lockedAttempt struct {
	ID        int64
	ExamID    int64
	StudentID int64
	Status    string
	StartedAt time.Time
}

// lockAttempt reads the attempt's state row, holding a row lock on Postgres
// until the transaction ends.
func lockAttempt(ctx context.Context, q db.Queryer, id int64) (lockedAttempt, error) {
	var la lockedAttempt
	err := q.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, status, started_at
		FROM exam_attempts
		WHERE id = ?`+db.ForUpdate(q), id).
		Scan(&la.ID, &la.ExamID, &la.StudentID, &la.Status, &la.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lockedAttempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return lockedAttempt{}, fmt.Errorf("lock attempt: %w", err)
	}
	return la, nil
}

func countAttempts(ctx context.Context, q db.Queryer, examID, studentID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_attempts WHERE exam_id = ? AND student_id = ?`, examID, studentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func examHasQuestion(ctx context.Context, q db.Queryer, examID, questionID int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM exam_questions WHERE exam_id = ? AND question_id = ?`, examID, questionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check exam question: %w", err)
	}
	return true, nil
}

// upsertAnswer writes the answer keyed by (attempt, question); a repeat save
// overwrites the previous values.
func upsertAnswer(ctx context.Context, q db.Queryer, ans *Answer, now time.Time) error {
	var data any
	if len(ans.AnswerData) > 0 {
		data = string(ans.AnswerData)
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO exam_attempt_answers (attempt_id, question_id, selected_answer_ids, text_answer, answer_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			selected_answer_ids = excluded.selected_answer_ids,
			text_answer = excluded.text_answer,
			answer_data = excluded.answer_data,
			updated_at = excluded.updated_at
		RETURNING id
	`, ans.AttemptID, ans.QuestionID, formatSelectedIDs(ans.SelectedAnswerIDs), db.Nullable(ans.TextAnswer), data, now, now).
		Scan(&ans.ID)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	// RETURNING columns carry no declared type on SQLite, so read the
	// timestamp back from the table.
	if err := q.QueryRowContext(ctx, `SELECT created_at FROM exam_attempt_answers WHERE id = ?`, ans.ID).Scan(&ans.CreatedAt); err != nil {
		return fmt.Errorf("reload answer: %w", err)
	}
	ans.CreatedAt = ans.CreatedAt.UTC()
	ans.UpdatedAt = now
	ans.SelectedAnswerIDs = normalizeIDs(ans.SelectedAnswerIDs)
	return nil
}

func loadAnswers(ctx context.Context, q db.Queryer, attemptID int64) ([]Answer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, attempt_id, question_id, selected_answer_ids, text_answer, answer_data, created_at, updated_at
		FROM exam_attempt_answers
		WHERE attempt_id = ?
		ORDER BY question_id ASC
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	out := make([]Answer, 0)
	for rows.Next() {
		var (
			ans      Answer
			selected string
			text     sql.NullString
			data     sql.NullString
		)
		if err := rows.Scan(&ans.ID, &ans.AttemptID, &ans.QuestionID, &selected, &text, &data, &ans.CreatedAt, &ans.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		ans.SelectedAnswerIDs = ParseSelectedIDs(selected)
		if text.Valid {
			ans.TextAnswer = &text.String
		}
		if data.Valid && data.String != "" {
			ans.AnswerData = []byte(data.String)
		}
		ans.CreatedAt = ans.CreatedAt.UTC()
		ans.UpdatedAt = ans.UpdatedAt.UTC()
		out = append(out, ans)
	}
	return out, rows.Err()
}

func loadScores(ctx context.Context, q db.Queryer, attemptID int64) ([]Score, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT question_id, points_possible, points_earned, is_correct
		FROM exam_attempt_scores
		WHERE attempt_id = ?
		ORDER BY question_id ASC
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	defer rows.Close()

	out := make([]Score, 0)
	for rows.Next() {
		var sc Score
		if err := rows.Scan(&sc.QuestionID, &sc.PointsPossible, &sc.PointsEarned, &sc.Correct); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// replaceScores swaps the attempt's stored per-question results for details.
func replaceScores(ctx context.Context, q db.Queryer, attemptID int64, details []grading.ScoreResult) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM exam_attempt_scores WHERE attempt_id = ?`, attemptID); err != nil {
		return fmt.Errorf("clear scores: %w", err)
	}
	for _, d := range details {
		_, err := q.ExecContext(ctx, `
			INSERT INTO exam_attempt_scores (attempt_id, question_id, points_possible, points_earned, is_correct)
			VALUES (?, ?, ?, ?, ?)
		`, attemptID, d.QuestionID, d.PointsPossible, d.PointsEarned, d.Correct)
		if err != nil {
			return fmt.Errorf("insert score for question %d: %w", d.QuestionID, err)
		}
	}
	return nil
}
