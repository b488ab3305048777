package iamapi

import (
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/gofiber/fiber/v2"
)

func (h *Handlers) login(c *fiber.Ctx) error {
	var creds auth.Credentials
	if err := bind(c, &creds); err != nil {
		return err
	}
	minted, err := h.svc.Login.Login(c.UserContext(), creds, c.Get(fiber.HeaderUserAgent), c.IP())
	if err != nil {
		return err
	}
	return c.JSON(minted)
}

// renew exchanges the bearer REFRESH token for an ACCESS token. The
// refresh cookie set by a federated login is accepted too.
func (h *Handlers) renew(c *fiber.Ctx) error {
	raw := c.Cookies(RefreshTokenCookie)
	if c.Get(fiber.HeaderAuthorization) != "" || raw == "" {
		raw = auth.BearerToken(c)
	}
	if raw == "" {
		return iam.ErrUnauthorized()
	}
	minted, err := h.svc.Registry.Renew(c.UserContext(), raw, c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return err
	}
	return c.JSON(minted)
}

func (h *Handlers) logout(c *fiber.Ctx) error {
	raw := auth.BearerToken(c)
	if raw == "" {
		return iam.ErrUnauthorized()
	}
	if err := h.svc.Registry.Logout(c.UserContext(), raw); err != nil {
		return err
	}
	c.ClearCookie(auth.AccessTokenCookie, RefreshTokenCookie)
	return c.SendStatus(fiber.StatusNoContent)
}

type verifyRequest struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token"`
}

func (h *Handlers) verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	valid := h.svc.Verifier.IsAccessTokenValid(c.UserContext(), req.RefreshToken, req.AccessToken)
	return c.JSON(fiber.Map{"valid": valid})
}

type resetRequest struct {
	Email string `json:"email"`
}

// requestReset always answers 204 so callers cannot probe for accounts.
func (h *Handlers) requestReset(c *fiber.Ctx) error {
	var req resetRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.Users.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type setPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handlers) confirmReset(c *fiber.Ctx) error {
	var req setPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Token == "" {
		return iam.ErrIllegalArgument("token is required")
	}
	if err := h.svc.Users.ConfirmPasswordReset(c.UserContext(), req.Token, req.Password); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) federationBegin(c *fiber.Ctx) error {
	redirect := c.Query("redirect", h.cfg.DefaultRedirect)
	if !h.redirectAllowed(redirect) {
		return iam.ErrIllegalArgument("redirect target is not allowed")
	}
	target, err := h.svc.Federation.Begin(c.UserContext(), c.Params("provider"), redirect)
	if err != nil {
		return err
	}
	return c.Redirect(target, fiber.StatusFound)
}

// federationCallback stores the REFRESH token in a cookie and sends the
// browser back to where the login started. Clients asking for JSON get
// the token in the body instead.
func (h *Handlers) federationCallback(c *fiber.Ctx) error {
	if e := c.Query("error"); e != "" {
		return iam.ErrBadCredentials("identity provider: " + e)
	}
	minted, redirect, err := h.svc.Federation.Complete(
		c.UserContext(), c.Params("provider"), c.Query("state"), c.Query("code"), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return err
	}
	if c.Accepts(fiber.MIMEApplicationJSON, fiber.MIMETextHTML) == fiber.MIMEApplicationJSON {
		return c.JSON(fiber.Map{"token": minted.Token, "session": minted.Session, "redirect": redirect})
	}
	c.Cookie(&fiber.Cookie{
		Name:     RefreshTokenCookie,
		Value:    minted.Token,
		Path:     "/auth",
		Expires:  minted.Session.Expiration,
		Secure:   h.cfg.SecureCookies,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	if redirect == "" || !h.redirectAllowed(redirect) {
		redirect = h.cfg.DefaultRedirect
	}
	return c.Redirect(redirect, fiber.StatusFound)
}
