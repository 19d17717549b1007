package controllers

import (
	"context"
	"time"

	"github.com/felimargom/ppss/internal/pkg/jobqueue"
	"github.com/gofiber/fiber/v2"
)

// QueueStatter reports queue sizes.
type QueueStatter interface {
	Stats(ctx context.Context) (jobqueue.Stats, error)
}

// CountSnapshotter reports counter totals.
type CountSnapshotter interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// HandleHealth answers liveness checks.
func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleQueueStats returns the queue sizes and webhook delivery counters for
// operators. counts may be nil.
func HandleQueueStats(queue QueueStatter, counts CountSnapshotter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := requestContext(c, 3*time.Second)
		defer cancel()

		stats, err := queue.Stats(ctx)
		if err != nil {
			return jsonError(c, fiber.StatusServiceUnavailable, "queue_unavailable", err.Error())
		}

		webhooks := map[string]int64{}
		if counts != nil {
			if webhooks, err = counts.Snapshot(ctx); err != nil {
				return jsonError(c, fiber.StatusServiceUnavailable, "counters_unavailable", err.Error())
			}
		}
		return c.JSON(fiber.Map{
			"queue":    stats,
			"webhooks": webhooks,
		})
	}
}
