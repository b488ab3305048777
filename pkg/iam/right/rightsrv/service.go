package rightsrv

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/iam/right"
)

// RightService manages the right catalogue. Deletion side effects (session
// invalidation, stripping the right from roles) live in the repository
// decorator the service is constructed with.
type RightService struct {
	repo right.Repository
}

func NewRightService(repo right.Repository) *RightService {
	return &RightService{repo: repo}
}

func (s *RightService) GetAll(ctx context.Context) ([]right.Right, error) {
	return s.repo.FindAll(ctx)
}

func (s *RightService) Get(ctx context.Context, authority string) (*right.Right, error) {
	return s.repo.FindByAuthority(ctx, authority)
}

func (s *RightService) Create(ctx context.Context, r right.Right) (*right.Right, error) {
	exists, err := s.repo.Exists(ctx, r.Authority)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, right.ErrRightAlreadyExists().WithDetail("authority", r.Authority)
	}
	if err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RightService) Update(ctx context.Context, authority string, r right.Right) (*right.Right, error) {
	if r.Authority != authority {
		return nil, right.ErrAuthorityMismatch()
	}
	exists, err := s.repo.Exists(ctx, authority)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, right.ErrRightNotFound().WithDetail("authority", authority)
	}
	if err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RightService) Delete(ctx context.Context, authority string) error {
	return s.repo.Delete(ctx, authority)
}
