package invalidation

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// UserStore is a user.Repository whose writes go through the coordinator.
type UserStore struct {
	user.Repository
	c   *Coordinator
	uow dbx.UnitOfWork
}

func NewUserStore(inner user.Repository, c *Coordinator, uow dbx.UnitOfWork) *UserStore {
	return &UserStore{Repository: inner, c: c, uow: uow}
}

func (s *UserStore) Save(ctx context.Context, u user.User) error {
	return s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.c.OnUserSave(ctx, u); err != nil {
			return err
		}
		return s.Repository.Save(ctx, u)
	})
}

func (s *UserStore) Delete(ctx context.Context, id kernel.UserID) error {
	return s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.c.OnUserDelete(ctx, id); err != nil {
			return err
		}
		return s.Repository.Delete(ctx, id)
	})
}

// RoleStore is a role.Repository whose writes go through the coordinator
// and reset the admin guard.
type RoleStore struct {
	role.Repository
	c   *Coordinator
	uow dbx.UnitOfWork
}

func NewRoleStore(inner role.Repository, c *Coordinator, uow dbx.UnitOfWork) *RoleStore {
	return &RoleStore{Repository: inner, c: c, uow: uow}
}

func (s *RoleStore) Save(ctx context.Context, r role.Role) error {
	defer s.c.Guard().Reset()
	return s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.c.OnRoleSave(ctx, r); err != nil {
			return err
		}
		return s.Repository.Save(ctx, r)
	})
}

func (s *RoleStore) Delete(ctx context.Context, name string) error {
	defer s.c.Guard().Reset()
	return s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.c.OnRoleDelete(ctx, name); err != nil {
			return err
		}
		return s.Repository.Delete(ctx, name)
	})
}

// RightStore is a right.Repository whose writes go through the
// coordinator and reset the admin guard.
type RightStore struct {
	right.Repository
	c   *Coordinator
	uow dbx.UnitOfWork
}

func NewRightStore(inner right.Repository, c *Coordinator, uow dbx.UnitOfWork) *RightStore {
	return &RightStore{Repository: inner, c: c, uow: uow}
}

func (s *RightStore) Save(ctx context.Context, r right.Right) error {
	defer s.c.Guard().Reset()
	return s.Repository.Save(ctx, r)
}

func (s *RightStore) Delete(ctx context.Context, authority string) error {
	defer s.c.Guard().Reset()
	return s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.c.OnRightDelete(ctx, authority); err != nil {
			return err
		}
		return s.Repository.Delete(ctx, authority)
	})
}
