package right

import "context"

// Repository persists rights keyed by authority.
type Repository interface {
	FindByAuthority(ctx context.Context, authority string) (*Right, error)
	FindAll(ctx context.Context) ([]Right, error)
	Exists(ctx context.Context, authority string) (bool, error)
	Save(ctx context.Context, r Right) error
	Delete(ctx context.Context, authority string) error
}
