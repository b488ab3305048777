package iamapi

import (
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/gofiber/fiber/v2"
)

func (h *Handlers) listRoles(c *fiber.Ctx) error {
	roles, err := h.svc.Roles.GetAll(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(roles)
}

func (h *Handlers) getRole(c *fiber.Ctx) error {
	r, err := h.svc.Roles.Get(c.UserContext(), c.Params("name"))
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (h *Handlers) createRole(c *fiber.Ctx) error {
	var r role.Role
	if err := bind(c, &r); err != nil {
		return err
	}
	created, err := h.svc.Roles.Create(c.UserContext(), r)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *Handlers) updateRole(c *fiber.Ctx) error {
	var r role.Role
	if err := bind(c, &r); err != nil {
		return err
	}
	updated, err := h.svc.Roles.Update(c.UserContext(), c.Params("name"), r)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (h *Handlers) patchRole(c *fiber.Ctx) error {
	var p role.Patch
	if err := bind(c, &p); err != nil {
		return err
	}
	updated, err := h.svc.Roles.Patch(c.UserContext(), c.Params("name"), p)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (h *Handlers) deleteRole(c *fiber.Ctx) error {
	if err := h.svc.Roles.Delete(c.UserContext(), c.Params("name")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) listRights(c *fiber.Ctx) error {
	rights, err := h.svc.Rights.GetAll(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(rights)
}

func (h *Handlers) createRight(c *fiber.Ctx) error {
	var r right.Right
	if err := bind(c, &r); err != nil {
		return err
	}
	created, err := h.svc.Rights.Create(c.UserContext(), r)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *Handlers) updateRight(c *fiber.Ctx) error {
	var r right.Right
	if err := bind(c, &r); err != nil {
		return err
	}
	updated, err := h.svc.Rights.Update(c.UserContext(), c.Params("authority"), r)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (h *Handlers) deleteRight(c *fiber.Ctx) error {
	if err := h.svc.Rights.Delete(c.UserContext(), c.Params("authority")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
