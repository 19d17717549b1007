package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// EventCounter counts named events.
type EventCounter interface {
	Add(ctx context.Context, name string) error
}

// countEvent records name on counts when configured. Failures only log.
func countEvent(ctx context.Context, counts EventCounter, name string) {
	if counts == nil {
		return
	}
	if err := counts.Add(ctx, name); err != nil {
		log.Debugf("[Counter] %s: %v", name, err)
	}
}

// ClientIP determines the client address, preferring proxy headers
// (Cloudflare first, then the first X-Forwarded-For entry).
func ClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	// IPv4-mapped IPv6 (::ffff:192.168.1.1)
	return strings.TrimPrefix(c.IP(), "::ffff:")
}

// requestContext bounds the work of one request.
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), timeout)
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}
