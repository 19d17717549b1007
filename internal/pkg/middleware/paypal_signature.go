package middleware

import (
	"context"

	"github.com/felimargom/ppss/internal/pkg/metrics/counter"
	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// LocalsWebhookVerified is set to true once the PayPal signature checked out.
const LocalsWebhookVerified = "paypal_webhook_verified"

// WebhookVerifier checks a PayPal transmission signature.
type WebhookVerifier interface {
	Verify(ctx context.Context, h paypal.TransmissionHeaders, body []byte) bool
}

// EventCounter counts named events. It may be nil.
type EventCounter interface {
	Add(ctx context.Context, name string) error
}

// RequirePayPalSignature rejects webhook deliveries whose signature does not
// verify with 403. Nothing after it runs for such requests.
func RequirePayPalSignature(v WebhookVerifier, counts EventCounter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		headers := paypal.HeadersFrom(func(key string) string { return c.Get(key) })
		if !v.Verify(c.UserContext(), headers, c.Body()) {
			if counts != nil {
				if err := counts.Add(c.UserContext(), counter.WebhookRejected); err != nil {
					log.Debugf("[Webhook] counter: %v", err)
				}
			}
			return c.Status(fiber.StatusForbidden).SendString("Forbidden")
		}
		c.Locals(LocalsWebhookVerified, true)
		return c.Next()
	}
}
