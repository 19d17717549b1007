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
)

// UserCanceller cancels a subscription at PayPal and locally.
type UserCanceller interface {
	CancelByUser(ctx context.Context, subscriptionID, reason string) (*billing.CancelOutcome, error)
}

// SubscriptionController serves the operator cancel endpoint.
type SubscriptionController struct {
	canceller UserCanceller
}

func NewSubscriptionController(canceller UserCanceller) *SubscriptionController {
	return &SubscriptionController{canceller: canceller}
}

type cancelRequest struct {
	Reason string `json:"reason" form:"reason"`
	Other  string `json:"other" form:"other"`
}

// HandleCancel cancels the subscription :id with a reason code.
func (h *SubscriptionController) HandleCancel(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "could not read the request body")
	}

	reason, err := billing.CancelReason(req.Reason, req.Other)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_reason", "please choose a cancellation reason")
	}

	ctx, cancel := requestContext(c, 45*time.Second)
	defer cancel()

	out, err := h.canceller.CancelByUser(ctx, id, reason)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrSaleNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "subscription not found")
	case errors.Is(err, billing.ErrSubscriptionNotActive):
		return jsonError(c, fiber.StatusConflict, "not_active", "subscription is already cancelled")
	default:
		log.Errorf("[Subscription] cancel %s failed: %v", id, err)
		return jsonError(c, fiber.StatusBadGateway, "provider_error", paypal.UserMessage(err))
	}

	resp := fiber.Map{
		"message": "Subscription cancelled",
		"status":  int(out.Status),
	}
	if out.Expire != nil {
		resp["expire"] = out.Expire.Format("2006-01-02")
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
