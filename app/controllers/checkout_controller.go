package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/felimargom/ppss/internal/pkg/billing"
	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"
)

// CheckoutStarter creates a PayPal subscription and returns its approval page.
type CheckoutStarter interface {
	StartCheckout(ctx context.Context, planID string) (string, error)
}

// CheckoutController sends buyers to PayPal to approve a subscription.
type CheckoutController struct {
	checkout CheckoutStarter
	errorURL string
}

func NewCheckoutController(checkout CheckoutStarter, errorURL string) *CheckoutController {
	return &CheckoutController{checkout: checkout, errorURL: errorURL}
}

// HandleCheckout redirects to the approval page for ?plan_id.
func (h *CheckoutController) HandleCheckout(c *fiber.Ctx) error {
	planID := strings.TrimSpace(c.Query("plan_id"))

	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	approval, err := h.checkout.StartCheckout(ctx, planID)
	if err != nil {
		log.Errorf("[Checkout] plan %q from %s: %v", planID, ClientIP(c), err)
		msg := paypal.UserMessage(err)
		switch {
		case errors.Is(err, billing.ErrPlanNotOffered):
			msg = "This plan is not available."
		case errors.Is(err, billing.ErrCheckoutUnavailable):
			msg = "Subscriptions cannot be purchased right now."
		}
		fm := fiber.Map{
			"type":    "error",
			"message": msg,
		}
		return flash.WithError(c, fm).Redirect(h.errorURL, fiber.StatusSeeOther)
	}
	return c.Redirect(approval, fiber.StatusSeeOther)
}
