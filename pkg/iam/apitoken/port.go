package apitoken

import (
	"context"
	"time"
)

// Repository persists API tokens. Linked users are matched
// case-insensitively.
type Repository interface {
	FindByID(ctx context.Context, id string) (*ApiToken, error)
	FindByLinkedUser(ctx context.Context, linkedUser string) ([]ApiToken, error)
	ExistsByDescription(ctx context.Context, linkedUser, description string) (bool, error)
	Save(ctx context.Context, t ApiToken) error
	Delete(ctx context.Context, id string) error
	ExpireBefore(ctx context.Context, now time.Time) (int, error)
}
