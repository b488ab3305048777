package role

import "context"

// Repository persists roles keyed by name.
type Repository interface {
	FindByName(ctx context.Context, name string) (*Role, error)
	FindAll(ctx context.Context) ([]Role, error)
	FindByRight(ctx context.Context, authority string) ([]Role, error)
	FindDefault(ctx context.Context) (*Role, error)
	Save(ctx context.Context, r Role) error
	Delete(ctx context.Context, name string) error
}
