package session

import (
	"context"
	"time"
)

// Repository persists session tokens. Usernames are matched
// case-insensitively.
type Repository interface {
	FindByID(ctx context.Context, id string) (*SessionToken, error)
	FindByUsernameAndType(ctx context.Context, username string, t TokenType) ([]SessionToken, error)
	FindChildren(ctx context.Context, parentID string) ([]SessionToken, error)

	Create(ctx context.Context, t SessionToken) error

	// CreateRotating stores t as a child of parentID after setting the
	// expiration of every live child of parentID to now. The parent is
	// locked for the duration so two concurrent renewals serialize.
	CreateRotating(ctx context.Context, parentID string, now time.Time, t SessionToken) error

	// Delete removes the token and its children.
	Delete(ctx context.Context, id string) error
	DeleteByUsernameAndType(ctx context.Context, username string, t TokenType) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
