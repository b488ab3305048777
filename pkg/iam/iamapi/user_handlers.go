package iamapi

import (
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

func (h *Handlers) me(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Users.Get(c.UserContext(), ac.UserID)
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (h *Handlers) updateSelf(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	var p user.Patch
	if err := bind(c, &p); err != nil {
		return err
	}
	u, err := h.svc.Users.UpdateSelf(c.UserContext(), ac.UserID, p)
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (h *Handlers) listSessions(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	tokens, err := h.svc.Registry.GetTokens(c.UserContext(), ac.Username)
	if err != nil {
		return err
	}
	return c.JSON(tokens)
}

func (h *Handlers) deleteSession(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	if err := h.svc.Registry.DeleteToken(c.UserContext(), ac.Username, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handlers) changePassword(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.Users.ChangePassword(c.UserContext(), ac.UserID, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) terminateSessions(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	if err := h.svc.Users.TerminateSessions(c.UserContext(), ac.UserID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) listUsers(c *fiber.Ctx) error {
	page, err := h.svc.Users.GetAll(c.UserContext(), kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 20),
	})
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *Handlers) getUser(c *fiber.Ctx) error {
	u, err := h.svc.Users.Get(c.UserContext(), kernel.NewUserID(c.Params("id")))
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (h *Handlers) createUser(c *fiber.Ctx) error {
	var req usersrv.CreateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.Source = iam.SourceLocal
	u, err := h.svc.Users.Create(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (h *Handlers) updateUser(c *fiber.Ctx) error {
	var req usersrv.UpdateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Users.Update(c.UserContext(), kernel.NewUserID(c.Params("id")), req)
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (h *Handlers) patchUser(c *fiber.Ctx) error {
	var p user.Patch
	if err := bind(c, &p); err != nil {
		return err
	}
	u, err := h.svc.Users.Patch(c.UserContext(), kernel.NewUserID(c.Params("id")), p)
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (h *Handlers) deleteUser(c *fiber.Ctx) error {
	if err := h.svc.Users.Delete(c.UserContext(), kernel.NewUserID(c.Params("id"))); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
