package user

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// Repository persists users. Email lookups are case-insensitive.
type Repository interface {
	FindByID(ctx context.Context, id kernel.UserID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByResetToken(ctx context.Context, token string) (*User, error)
	FindAll(ctx context.Context, opts kernel.PaginationOptions) (kernel.Paginated[User], error)
	FindByAnyRole(ctx context.Context, roles []string) ([]User, error)
	ExistsWithAnyRole(ctx context.Context, roles []string, excluded kernel.UserID) (bool, error)
	Save(ctx context.Context, u User) error
	Delete(ctx context.Context, id kernel.UserID) error
}

// PasswordHasher encodes and checks passwords.
type PasswordHasher interface {
	Encode(plaintext string) (string, error)
	Matches(plaintext, hash string) bool
}
