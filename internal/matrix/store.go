package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cbtexam/internal/db"
)

// Store persists matrices and their items.
type Store struct {
	db  *db.DB
	now func() time.Time
}

var _ db.Repository[Matrix] = (*Store)(nil)

func NewStore(d *db.DB) *Store {
	return &Store{db: d, now: func() time.Time { return time.Now().UTC() }}
}

const matrixColumns = `id, name, description, teacher_id, total_questions, total_points, created_at, updated_at`

func scanMatrix(scanner interface{ Scan(dest ...any) error }) (Matrix, error) {
	var (
		m     Matrix
		total sql.NullInt64
	)
	if err := scanner.Scan(&m.ID, &m.Name, &m.Description, &m.TeacherID, &total, &m.TotalPoints, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Matrix{}, err
	}
	if total.Valid {
		n := int(total.Int64)
		m.TotalQuestions = &n
	}
	return m, nil
}

func (s *Store) Create(ctx context.Context, m *Matrix) error {
	now := s.now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exam_matrices (name, description, teacher_id, total_questions, total_points, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, m.Name, m.Description, m.TeacherID, db.Nullable(m.TotalQuestions), m.TotalPoints, now, now).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert matrix: %w", err)
	}
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (Matrix, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matrixColumns+` FROM exam_matrices WHERE id = ?`, id)
	m, err := scanMatrix(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Matrix{}, ErrMatrixNotFound
	}
	if err != nil {
		return Matrix{}, fmt.Errorf("query matrix: %w", err)
	}
	return m, nil
}

// GetWithItems loads the matrix and its items in item order.
func (s *Store) GetWithItems(ctx context.Context, id int64) (Matrix, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return Matrix{}, err
	}
	items, err := s.ListItems(ctx, id)
	if err != nil {
		return Matrix{}, err
	}
	m.Items = items
	return m, nil
}

func (s *Store) Update(ctx context.Context, m *Matrix) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE exam_matrices
		SET name = ?, description = ?, total_points = ?, updated_at = ?
		WHERE id = ?
	`, m.Name, m.Description, m.TotalPoints, now, m.ID)
	if err != nil {
		return fmt.Errorf("update matrix: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMatrixNotFound
	}
	m.UpdatedAt = now
	return nil
}

func (s *Store) Remove(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM exam_matrix_items WHERE matrix_id = ?`, id); err != nil {
			return fmt.Errorf("delete matrix items: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM exam_matrices WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete matrix: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrMatrixNotFound
		}
		return nil
	})
}

func (s *Store) List(ctx context.Context, page db.Page) ([]Matrix, error) {
	return s.ListByTeacher(ctx, 0, page)
}

// ListByTeacher lists matrices newest first. teacherID zero lists all.
func (s *Store) ListByTeacher(ctx context.Context, teacherID int64, page db.Page) ([]Matrix, error) {
	page = page.Normalize()
	query := `SELECT ` + matrixColumns + ` FROM exam_matrices`
	args := []any{}
	if teacherID > 0 {
		query += ` WHERE teacher_id = ?`
		args = append(args, teacherID)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matrices: %w", err)
	}
	defer rows.Close()

	out := make([]Matrix, 0)
	for rows.Next() {
		m, err := scanMatrix(rows)
		if err != nil {
			return nil, fmt.Errorf("scan matrix: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const itemColumns = `id, matrix_id, bank_id, domain, difficulty_level, question_count, points_per_question`

func scanItem(scanner interface{ Scan(dest ...any) error }) (Item, error) {
	var (
		it     Item
		domain sql.NullString
		level  sql.NullInt64
	)
	if err := scanner.Scan(&it.ID, &it.MatrixID, &it.BankID, &domain, &level, &it.QuestionCount, &it.PointsPerQuestion); err != nil {
		return Item{}, err
	}
	if domain.Valid {
		it.Domain = &domain.String
	}
	if level.Valid {
		it.DifficultyLevel = &level.Int64
	}
	return it, nil
}

func (s *Store) ListItems(ctx context.Context, matrixID int64) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM exam_matrix_items WHERE matrix_id = ? ORDER BY id ASC`, matrixID)
	if err != nil {
		return nil, fmt.Errorf("list matrix items: %w", err)
	}
	defer rows.Close()

	out := make([]Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan matrix item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, matrixID, itemID int64) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM exam_matrix_items WHERE id = ? AND matrix_id = ?`, itemID, matrixID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("query matrix item: %w", err)
	}
	return it, nil
}

func (s *Store) CreateItem(ctx context.Context, it *Item) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := lockMatrix(ctx, tx, it.MatrixID); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO exam_matrix_items (matrix_id, bank_id, domain, difficulty_level, question_count, points_per_question)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id
		`, it.MatrixID, it.BankID, db.Nullable(it.Domain), db.Nullable(it.DifficultyLevel), it.QuestionCount, it.PointsPerQuestion).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert matrix item: %w", err)
		}
		return s.refreshTotals(ctx, tx, it.MatrixID)
	})
}

func (s *Store) UpdateItem(ctx context.Context, it *Item) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := lockMatrix(ctx, tx, it.MatrixID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE exam_matrix_items
			SET bank_id = ?, domain = ?, difficulty_level = ?, question_count = ?, points_per_question = ?
			WHERE id = ? AND matrix_id = ?
		`, it.BankID, db.Nullable(it.Domain), db.Nullable(it.DifficultyLevel), it.QuestionCount, it.PointsPerQuestion, it.ID, it.MatrixID)
		if err != nil {
			return fmt.Errorf("update matrix item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrItemNotFound
		}
		return s.refreshTotals(ctx, tx, it.MatrixID)
	})
}

func (s *Store) DeleteItem(ctx context.Context, matrixID, itemID int64) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := lockMatrix(ctx, tx, matrixID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM exam_matrix_items WHERE id = ? AND matrix_id = ?`, itemID, matrixID)
		if err != nil {
			return fmt.Errorf("delete matrix item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrItemNotFound
		}
		return s.refreshTotals(ctx, tx, matrixID)
	})
}

func lockMatrix(ctx context.Context, tx *db.Tx, matrixID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM exam_matrices WHERE id = ?`+db.ForUpdate(tx), matrixID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMatrixNotFound
	}
	if err != nil {
		return fmt.Errorf("lock matrix: %w", err)
	}
	return nil
}

// refreshTotals keeps total_questions equal to the sum of item quotas.
func (s *Store) refreshTotals(ctx context.Context, tx *db.Tx, matrixID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE exam_matrices
		SET total_questions = (SELECT COALESCE(SUM(question_count), 0) FROM exam_matrix_items WHERE matrix_id = ?),
			updated_at = ?
		WHERE id = ?
	`, matrixID, s.now(), matrixID)
	if err != nil {
		return fmt.Errorf("refresh matrix totals: %w", err)
	}
	return nil
}
