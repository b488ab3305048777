package rolesrv

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/role/roleinfra"
)

func newService(seed ...role.Role) (*RoleService, *roleinfra.MemoryRoleRepository) {
	rights := rightinfra.NewMemoryRightRepository(
		right.Right{Authority: right.UserRead},
		right.Right{Authority: right.UserUpdate},
	)
	roles := roleinfra.NewMemoryRoleRepository(seed...)
	return NewRoleService(roles, rights, nil), roles
}

func TestCreate_DropsUnknownRights(t *testing.T) {
	svc, _ := newService()
	got, err := svc.Create(context.Background(), role.Role{
		Name:   "SUPPORT",
		Rights: []string{right.UserRead, "DOES_NOT_EXIST", right.UserRead},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(got.Rights) != 1 || got.Rights[0] != right.UserRead {
		t.Fatalf("rights = %v, want [%s]", got.Rights, right.UserRead)
	}
}

func TestCreate_RejectsDuplicate(t *testing.T) {
	svc, _ := newService(role.Role{Name: "SUPPORT"})
	_, err := svc.Create(context.Background(), role.Role{Name: "SUPPORT"})
	if !errx.IsCode(err, role.CodeRoleAlreadyExists) {
		t.Fatalf("err = %v, want already exists", err)
	}
}

func TestUpdate_ProtectedRoleIsNotAllowed(t *testing.T) {
	svc, _ := newService(role.Role{Name: "ADMIN", IsProtected: true})
	_, err := svc.Update(context.Background(), "ADMIN", role.Role{Name: "ADMIN"})
	if !errx.IsCode(err, iam.CodeNotAllowed) {
		t.Fatalf("err = %v, want not allowed", err)
	}
}

func TestUpdate_NameMismatch(t *testing.T) {
	svc, _ := newService(role.Role{Name: "SUPPORT"})
	_, err := svc.Update(context.Background(), "SUPPORT", role.Role{Name: "OTHER"})
	if !errx.IsCode(err, role.CodeNameMismatch) {
		t.Fatalf("err = %v, want name mismatch", err)
	}
}

func TestPatch_RejectsName(t *testing.T) {
	svc, _ := newService(role.Role{Name: "SUPPORT"})
	_, err := svc.Patch(context.Background(), "SUPPORT", role.Patch{"name": json.RawMessage(`"X"`)})
	if !errx.IsCode(err, role.CodeInvalidPatch) {
		t.Fatalf("err = %v, want invalid patch", err)
	}
}

func TestPatch_DefaultFlagMovesBetweenRoles(t *testing.T) {
	svc, repo := newService(
		role.Role{Name: "USER", IsDefaultRole: true},
		role.Role{Name: "GUEST"},
	)
	ctx := context.Background()

	if _, err := svc.Patch(ctx, "GUEST", role.Patch{"isDefaultRole": json.RawMessage(`true`)}); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	def, err := repo.FindDefault(ctx)
	if err != nil || def == nil || def.Name != "GUEST" {
		t.Fatalf("default = %+v (%v), want GUEST", def, err)
	}
	prev, _ := repo.FindByName(ctx, "USER")
	if prev.IsDefaultRole {
		t.Fatal("previous default role still flagged")
	}
}

func TestDelete_Protected(t *testing.T) {
	svc, _ := newService(role.Role{Name: "ADMIN", IsProtected: true})
	if err := svc.Delete(context.Background(), "ADMIN"); !errx.IsCode(err, iam.CodeNotAllowed) {
		t.Fatalf("err = %v, want not allowed", err)
	}
}
