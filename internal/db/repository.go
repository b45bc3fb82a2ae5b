package db

import "context"

// Repository is the CRUD surface shared by the aggregate stores. Aggregate
// specific loads (matrix with items, exam with questions, attempt with
// answers) live on the concrete stores.
type Repository[T any] interface {
	Create(ctx context.Context, v *T) error
	Get(ctx context.Context, id int64) (T, error)
	Update(ctx context.Context, v *T) error
	Remove(ctx context.Context, id int64) error
	List(ctx context.Context, page Page) ([]T, error)
}

type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Nullable binds a nil pointer as SQL NULL and a set pointer as its value.
func Nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
