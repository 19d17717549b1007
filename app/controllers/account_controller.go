package controllers

import (
	"errors"

	"github.com/felimargom/ppss/app/models"
	"github.com/felimargom/ppss/internal/pkg/account"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"
)

// AccountActivator redeems the activation code mailed to new buyers.
type AccountActivator interface {
	Activate(token, password string) (*models.User, error)
}

// AccountController activates accounts created at checkout.
type AccountController struct {
	accounts   AccountActivator
	successURL string
	errorURL   string
}

func NewAccountController(accounts AccountActivator, successURL, errorURL string) *AccountController {
	return &AccountController{accounts: accounts, successURL: successURL, errorURL: errorURL}
}

type activateRequest struct {
	Token    string `json:"token" form:"token"`
	Password string `json:"password" form:"password"`
}

// HandleActivateLink serves the link in the account email and redirects with
// a flash message.
func (h *AccountController) HandleActivateLink(c *fiber.Ctx) error {
	if _, err := h.accounts.Activate(c.Query("token"), ""); err != nil {
		log.Warnf("[Account] activation from %s failed: %v", ClientIP(c), err)
		fm := fiber.Map{
			"type":    "error",
			"message": activationMessage(err),
		}
		return flash.WithError(c, fm).Redirect(h.errorURL, fiber.StatusSeeOther)
	}
	fm := fiber.Map{
		"type":    "success",
		"message": "Your account is active.",
	}
	return flash.WithSuccess(c, fm).Redirect(h.successURL, fiber.StatusSeeOther)
}

// HandleActivate redeems a code and optionally sets the password.
func (h *AccountController) HandleActivate(c *fiber.Ctx) error {
	var req activateRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "could not read the request body")
	}

	user, err := h.accounts.Activate(req.Token, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, account.ErrWeakPassword):
		return jsonError(c, fiber.StatusBadRequest, "weak_password", activationMessage(err))
	case errors.Is(err, account.ErrInvalidToken), errors.Is(err, account.ErrTokenExpired):
		return jsonError(c, fiber.StatusNotFound, "invalid_token", activationMessage(err))
	default:
		log.Errorf("[Account] activation failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", activationMessage(err))
	}

	return c.JSON(fiber.Map{
		"message": "Account activated",
		"email":   user.Email,
	})
}

func activationMessage(err error) string {
	switch {
	case errors.Is(err, account.ErrTokenExpired):
		return "The activation code has expired, please contact support."
	case errors.Is(err, account.ErrInvalidToken):
		return "The activation code is not valid."
	case errors.Is(err, account.ErrWeakPassword):
		return "The password must have at least 8 characters."
	}
	return "The account could not be activated, please try again later."
}
