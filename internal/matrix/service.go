package matrix

import (
	"context"

	"cbtexam/internal/db"

	"go.uber.org/zap"
)

type Service struct {
	store  *Store
	pool   Counter
	logger *zap.Logger
}

func NewService(store *Store, pool Counter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, pool: pool, logger: logger}
}

func (s *Service) CreateMatrix(ctx context.Context, m Matrix) (*Matrix, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) GetMatrix(ctx context.Context, id int64) (*Matrix, error) {
	m, err := s.store.GetWithItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) ListMatrices(ctx context.Context, teacherID int64, page db.Page) ([]Matrix, error) {
	return s.store.ListByTeacher(ctx, teacherID, page)
}

func (s *Service) UpdateMatrix(ctx context.Context, m Matrix) (*Matrix, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, &m); err != nil {
		return nil, err
	}
	return s.GetMatrix(ctx, m.ID)
}

func (s *Service) DeleteMatrix(ctx context.Context, id int64) error {
	return s.store.Remove(ctx, id)
}

func (s *Service) AddItem(ctx context.Context, it Item) (*Item, error) {
	if err := it.validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateItem(ctx, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Service) GetItem(ctx context.Context, matrixID, itemID int64) (*Item, error) {
	it, err := s.store.GetItem(ctx, matrixID, itemID)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Service) ListItems(ctx context.Context, matrixID int64) ([]Item, error) {
	if _, err := s.store.Get(ctx, matrixID); err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, matrixID)
}

func (s *Service) UpdateItem(ctx context.Context, it Item) (*Item, error) {
	if err := it.validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateItem(ctx, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Service) DeleteItem(ctx context.Context, matrixID, itemID int64) error {
	return s.store.DeleteItem(ctx, matrixID, itemID)
}

// Validate checks the matrix's quotas against the current pool.
func (s *Service) Validate(ctx context.Context, matrixID int64) (*ValidationReport, error) {
	m, err := s.store.GetWithItems(ctx, matrixID)
	if err != nil {
		return nil, err
	}
	report, err := Check(ctx, s.pool, m.Items)
	if err != nil {
		return nil, err
	}
	if !report.OK {
		s.logger.Info("matrix has shortages",
			zap.Int64("matrix_id", matrixID),
			zap.Int("shortages", len(report.Shortages)),
		)
	}
	return &report, nil
}
