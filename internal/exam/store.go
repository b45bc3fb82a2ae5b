package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cbtexam/internal/db"
)

// Store persists exams and their question lists.
type Store struct {
	db  *db.DB
	now func() time.Time
}

var _ db.Repository[Exam] = (*Store)(nil)

func NewStore(d *db.DB) *Store {
	return &Store{db: d, now: func() time.Time { return time.Now().UTC() }}
}

// Filter narrows ListFiltered. Zero values match everything.
type Filter struct {
	CreatedBy int64
	Status    string
}

const examColumns = `id, title, description, created_by, duration_minutes, pass_threshold,
	randomize_questions, randomize_answers, max_attempts, start_time, end_time, password_hash,
	status, matrix_id, total_questions, total_points, created_at, updated_at`

func scanExam(scanner interface{ Scan(dest ...any) error }) (Exam, error) {
	var (
		e           Exam
		maxAttempts sql.NullInt64
		start, end  sql.NullTime
		hash        sql.NullString
		matrixID    sql.NullInt64
	)
	err := scanner.Scan(
		&e.ID,
		&e.Title,
		&e.Description,
		&e.CreatedBy,
		&e.DurationMinutes,
		&e.PassThreshold,
		&e.RandomizeQuestions,
		&e.RandomizeAnswers,
		&maxAttempts,
		&start,
		&end,
		&hash,
		&e.Status,
		&matrixID,
		&e.TotalQuestions,
		&e.TotalPoints,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return Exam{}, err
	}
	if maxAttempts.Valid {
		n := int(maxAttempts.Int64)
		e.MaxAttempts = &n
	}
	if start.Valid {
		t := start.Time.UTC()
		e.StartTime = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		e.EndTime = &t
	}
	e.PasswordHash = hash.String
	e.HasPassword = e.PasswordHash != ""
	if matrixID.Valid {
		e.MatrixID = &matrixID.Int64
	}
	return e, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableHash(h string) any {
	if h == "" {
		return nil
	}
	return h
}

func (s *Store) insertExam(ctx context.Context, q db.Queryer, e *Exam) error {
	now := s.now()
	err := q.QueryRowContext(ctx, `
		INSERT INTO exams (
			title, description, created_by, duration_minutes, pass_threshold,
			randomize_questions, randomize_answers, max_attempts, start_time, end_time,
			password_hash, status, matrix_id, total_questions, total_points, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		e.Title, e.Description, e.CreatedBy, e.DurationMinutes, e.PassThreshold,
		e.RandomizeQuestions, e.RandomizeAnswers, db.Nullable(e.MaxAttempts), nullableTime(e.StartTime), nullableTime(e.EndTime),
		nullableHash(e.PasswordHash), e.Status, db.Nullable(e.MatrixID), e.TotalQuestions, e.TotalPoints, now, now,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}
	e.CreatedAt, e.UpdatedAt = now, now
	e.HasPassword = e.PasswordHash != ""
	return nil
}

func (s *Store) Create(ctx context.Context, e *Exam) error {
	return s.insertExam(ctx, s.db, e)
}

// CreateWithQuestions writes the exam and its question list atomically.
// Question ids and exam ids are filled in on success.
func (s *Store) CreateWithQuestions(ctx context.Context, e *Exam, questions []Question) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := s.insertExam(ctx, tx, e); err != nil {
			return err
		}
		for i := range questions {
			questions[i].ExamID = e.ID
			if err := insertQuestion(ctx, tx, &questions[i]); err != nil {
				return err
			}
		}
		e.Questions = questions
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id int64) (Exam, error) {
	return getExam(ctx, s.db, id, false)
}

func getExam(ctx context.Context, q db.Queryer, id int64, lock bool) (Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams WHERE id = ?`
	if lock {
		query += db.ForUpdate(q)
	}
	e, err := scanExam(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Exam{}, ErrExamNotFound
	}
	if err != nil {
		return Exam{}, fmt.Errorf("query exam: %w", err)
	}
	return e, nil
}

// GetWithQuestions loads the exam and its questions ordered by orderIndex.
func (s *Store) GetWithQuestions(ctx context.Context, id int64) (Exam, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return Exam{}, err
	}
	qs, err := ListQuestions(ctx, s.db, id)
	if err != nil {
		return Exam{}, err
	}
	e.Questions = qs
	return e, nil
}

func (s *Store) Update(ctx context.Context, e *Exam) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams
		SET title = ?, description = ?, duration_minutes = ?, pass_threshold = ?,
			randomize_questions = ?, randomize_answers = ?, max_attempts = ?,
			start_time = ?, end_time = ?, password_hash = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		e.Title, e.Description, e.DurationMinutes, e.PassThreshold,
		e.RandomizeQuestions, e.RandomizeAnswers, db.Nullable(e.MaxAttempts),
		nullableTime(e.StartTime), nullableTime(e.EndTime), nullableHash(e.PasswordHash), e.Status, now,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExamNotFound
	}
	e.UpdatedAt = now
	e.HasPassword = e.PasswordHash != ""
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET status = ?, updated_at = ? WHERE id = ?`, status, s.now(), id)
	if err != nil {
		return fmt.Errorf("update exam status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExamNotFound
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id = ?`, id); err != nil {
			return fmt.Errorf("delete exam questions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete exam: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrExamNotFound
		}
		return nil
	})
}

func (s *Store) List(ctx context.Context, page db.Page) ([]Exam, error) {
	return s.ListFiltered(ctx, Filter{}, page)
}

func (s *Store) ListFiltered(ctx context.Context, f Filter, page db.Page) ([]Exam, error) {
	page = page.Normalize()
	query := `SELECT ` + examColumns + ` FROM exams WHERE 1 = 1`
	args := []any{}
	if f.CreatedBy > 0 {
		query += ` AND created_by = ?`
		args = append(args, f.CreatedBy)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	out := make([]Exam, 0)
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const questionColumns = `id, exam_id, question_id, order_index, points`

func scanQuestion(scanner interface{ Scan(dest ...any) error }) (Question, error) {
	var q Question
	err := scanner.Scan(&q.ID, &q.ExamID, &q.QuestionID, &q.OrderIndex, &q.Points)
	return q, err
}

// ListQuestions returns the exam's questions by orderIndex, then id. It runs
// on any Queryer so attempt code can read inside its own transaction.
func ListQuestions(ctx context.Context, q db.Queryer, examID int64) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+questionColumns+`
		FROM exam_questions
		WHERE exam_id = ?
		ORDER BY order_index ASC, id ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("list exam questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		eq, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam question: %w", err)
		}
		out = append(out, eq)
	}
	return out, rows.Err()
}

// Load reads an exam row through q, which may be an open transaction.
func Load(ctx context.Context, q db.Queryer, id int64) (Exam, error) {
	return getExam(ctx, q, id, false)
}

func (s *Store) GetQuestion(ctx context.Context, examID, id int64) (Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM exam_questions WHERE id = ? AND exam_id = ?`, id, examID)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, ErrExamQuestionNotFound
	}
	if err != nil {
		return Question{}, fmt.Errorf("query exam question: %w", err)
	}
	return q, nil
}

func insertQuestion(ctx context.Context, q db.Queryer, eq *Question) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO exam_questions (exam_id, question_id, order_index, points)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, eq.ExamID, eq.QuestionID, eq.OrderIndex, eq.Points).Scan(&eq.ID)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateQuestion
	}
	if err != nil {
		return fmt.Errorf("insert exam question: %w", err)
	}
	return nil
}

// AddQuestion appends eq to the exam. A zero OrderIndex places it after the
// current maximum.
func (s *Store) AddQuestion(ctx context.Context, eq *Question) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := getExam(ctx, tx, eq.ExamID, true); err != nil {
			return err
		}
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_questions WHERE exam_id = ? AND question_id = ?`, eq.ExamID, eq.QuestionID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check exam question: %w", err)
		}
		if exists > 0 {
			return ErrDuplicateQuestion
		}
		if eq.OrderIndex <= 0 {
			if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(order_index), 0) + 1 FROM exam_questions WHERE exam_id = ?`, eq.ExamID).Scan(&eq.OrderIndex); err != nil {
				return fmt.Errorf("next order index: %w", err)
			}
		}
		if err := insertQuestion(ctx, tx, eq); err != nil {
			return err
		}
		return s.refreshTotals(ctx, tx, eq.ExamID)
	})
}

// UpdateQuestion rewrites points and, when set, orderIndex. Other questions
// keep their positions.
func (s *Store) UpdateQuestion(ctx context.Context, eq *Question) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := getExam(ctx, tx, eq.ExamID, true); err != nil {
			return err
		}
		query := `UPDATE exam_questions SET points = ?`
		args := []any{eq.Points}
		if eq.OrderIndex > 0 {
			query += `, order_index = ?`
			args = append(args, eq.OrderIndex)
		}
		query += ` WHERE id = ? AND exam_id = ?`
		args = append(args, eq.ID, eq.ExamID)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update exam question: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrExamQuestionNotFound
		}
		row := tx.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM exam_questions WHERE id = ?`, eq.ID)
		updated, err := scanQuestion(row)
		if err != nil {
			return fmt.Errorf("reload exam question: %w", err)
		}
		*eq = updated
		return s.refreshTotals(ctx, tx, eq.ExamID)
	})
}

// DeleteQuestion removes one question without renumbering the rest.
func (s *Store) DeleteQuestion(ctx context.Context, examID, id int64) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := getExam(ctx, tx, examID, true); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM exam_questions WHERE id = ? AND exam_id = ?`, id, examID)
		if err != nil {
			return fmt.Errorf("delete exam question: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrExamQuestionNotFound
		}
		return s.refreshTotals(ctx, tx, examID)
	})
}

// refreshTotals recomputes question count and point sum; null points
// count as one.
func (s *Store) refreshTotals(ctx context.Context, tx *db.Tx, examID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE exams
		SET total_questions = (SELECT COUNT(*) FROM exam_questions WHERE exam_id = ?),
			total_points = (SELECT COALESCE(SUM(COALESCE(points, 1)), 0) FROM exam_questions WHERE exam_id = ?),
			updated_at = ?
		WHERE id = ?
	`, examID, examID, s.now(), examID)
	if err != nil {
		return fmt.Errorf("refresh exam totals: %w", err)
	}
	return nil
}
