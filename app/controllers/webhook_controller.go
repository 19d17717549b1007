package controllers

import (
	"context"
	"time"

	"github.com/felimargom/ppss/internal/pkg/jobqueue"
	"github.com/felimargom/ppss/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// NotificationReceived is the acknowledgement body PayPal gets.
const NotificationReceived = "Notification received"

// Enqueuer stores a raw notification for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType jobqueue.JobType, payload []byte) (*jobqueue.Job, error)
}

// WebhookController ingests PayPal notifications. The signature is checked
// by middleware before HandlePayPal runs.
type WebhookController struct {
	queue  Enqueuer
	counts EventCounter
}

// NewWebhookController creates the ingestion handler. counts may be nil.
func NewWebhookController(queue Enqueuer, counts EventCounter) *WebhookController {
	return &WebhookController{queue: queue, counts: counts}
}

// HandlePayPal enqueues the raw body unparsed and acknowledges it.
func (h *WebhookController) HandlePayPal(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	body := append([]byte(nil), c.Body()...)
	if len(body) == 0 {
		log.Warnf("[Webhook] empty notification from %s acknowledged", ClientIP(c))
		countEvent(ctx, h.counts, counter.WebhookEmpty)
		return c.Status(fiber.StatusOK).SendString(NotificationReceived)
	}

	job, err := h.queue.Enqueue(ctx, jobqueue.JobTypePayPalWebhook, body)
	if err != nil {
		log.Errorf("[Webhook] failed to enqueue notification: %v", err)
		countEvent(ctx, h.counts, counter.WebhookEnqueueFailed)
		return c.Status(fiber.StatusServiceUnavailable).SendString("Notification could not be stored")
	}
	countEvent(ctx, h.counts, counter.WebhookReceived)

	log.Debugf("[Webhook] notification queued as job %s", job.ID)
	return c.Status(fiber.StatusOK).SendString(NotificationReceived)
}
