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

// PurchaseConfirmer turns an approved PayPal subscription into a sale.
type PurchaseConfirmer interface {
	ConfirmPurchase(ctx context.Context, subscriptionID string) (*billing.PurchaseResult, error)
}

// SaleController handles the buyer's return from the PayPal approval page.
type SaleController struct {
	purchases  PurchaseConfirmer
	successURL string
	errorURL   string
}

func NewSaleController(purchases PurchaseConfirmer, successURL, errorURL string) *SaleController {
	return &SaleController{purchases: purchases, successURL: successURL, errorURL: errorURL}
}

// HandleSuccess confirms the purchase named by ?subscription_id and redirects
// to the configured success or error page with a flash message.
func (h *SaleController) HandleSuccess(c *fiber.Ctx) error {
	subscriptionID := strings.TrimSpace(c.Query("subscription_id"))
	if subscriptionID == "" {
		return h.fail(c, "Missing subscription reference.")
	}

	ctx, cancel := requestContext(c, 45*time.Second)
	defer cancel()

	res, err := h.purchases.ConfirmPurchase(ctx, subscriptionID)
	if err != nil {
		log.Errorf("[Sale] confirming %s failed: %v", subscriptionID, err)
		if errors.Is(err, billing.ErrSubscriptionNotActive) {
			return h.fail(c, "The subscription has not been approved.")
		}
		return h.fail(c, paypal.UserMessage(err))
	}

	msg := "Thank you, your subscription is active."
	if res.UserCreated {
		msg = "Thank you, your subscription is active. We sent you an email to activate your account."
	}
	fm := fiber.Map{
		"type":    "success",
		"message": msg,
	}
	return flash.WithSuccess(c, fm).Redirect(h.successURL, fiber.StatusSeeOther)
}

func (h *SaleController) fail(c *fiber.Ctx, msg string) error {
	fm := fiber.Map{
		"type":    "error",
		"message": msg,
	}
	return flash.WithError(c, fm).Redirect(h.errorURL, fiber.StatusSeeOther)
}
