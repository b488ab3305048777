package iamapi

import (
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken/apitokensrv"
	"github.com/gofiber/fiber/v2"
)

func (h *Handlers) listAPITokens(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	tokens, err := h.svc.APITokens.List(c.UserContext(), ac.Username)
	if err != nil {
		return err
	}
	return c.JSON(tokens)
}

// createAPIToken returns the signed token. It is not retrievable later.
func (h *Handlers) createAPIToken(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	var req apitokensrv.CreateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	created, err := h.svc.APITokens.Create(c.UserContext(), ac.Username, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// revokeAPIToken is the only supported patch of an API token.
func (h *Handlers) revokeAPIToken(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	t, err := h.svc.APITokens.Revoke(c.UserContext(), ac.Username, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(t)
}

func (h *Handlers) deleteAPIToken(c *fiber.Ctx) error {
	ac, err := currentAuth(c)
	if err != nil {
		return err
	}
	if err := h.svc.APITokens.Delete(c.UserContext(), ac.Username, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
