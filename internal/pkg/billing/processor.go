package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/felimargom/ppss/app/models"
	"github.com/felimargom/ppss/internal/pkg/jobqueue"
	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/gofiber/fiber/v2/log"
)

// Processor consumes queued PayPal notifications and dispatches them to the
// lifecycle service. It is safe to run on any number of workers.
type Processor struct {
	service *Service
	repo    Repository
}

// NewProcessor creates a webhook processor.
func NewProcessor(service *Service) *Processor {
	return &Processor{service: service, repo: service.repo}
}

// Process implements jobqueue.Processor.
func (p *Processor) Process(ctx context.Context, job *jobqueue.Job) error {
	return p.ProcessItem(ctx, []byte(job.Payload))
}

// ProcessItem handles one raw notification body. Malformed payloads are
// dropped; persistence errors are returned so the queue retries.
func (p *Processor) ProcessItem(ctx context.Context, payload []byte) error {
	var ev paypal.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warnf("[Webhook] dropping undecodable payload: %v", err)
		return nil
	}
	ev.ID = strings.TrimSpace(ev.ID)
	if ev.ID == "" || strings.TrimSpace(ev.EventType) == "" || len(ev.Resource) == 0 || string(ev.Resource) == "null" {
		log.Warnf("[Webhook] dropping event without id, event_type or resource")
		return nil
	}

	record := &models.WebhookEvent{
		Provider:        models.WebhookProviderPayPal,
		ProviderEventID: ev.ID,
		EventType:       ev.EventType,
		ResourceID:      resourceID(ev.Resource),
		PayloadJSON:     string(payload),
	}
	_, stored, err := p.repo.CreateWebhookEventIfNotExists(ctx, record)
	if err != nil {
		return fmt.Errorf("record webhook event %s: %w", ev.ID, err)
	}
	if stored.IsSettled() {
		log.Infof("[Webhook] event %s already processed, skipping", ev.ID)
		return nil
	}

	dispatchErr := p.dispatch(ctx, &ev)
	switch {
	case dispatchErr == nil:
	case errors.Is(dispatchErr, ErrSaleNotFound), errors.Is(dispatchErr, ErrMalformedEvent):
		log.Warnf("[Webhook] event %s (%s) dropped: %v", ev.ID, ev.EventType, dispatchErr)
		dispatchErr = nil
	}

	processingError := ""
	if dispatchErr != nil {
		processingError = dispatchErr.Error()
	}
	if err := p.repo.MarkWebhookProcessed(ctx, stored.ID, processingError); err != nil {
		if dispatchErr != nil {
			return dispatchErr
		}
		return fmt.Errorf("mark webhook event %s: %w", ev.ID, err)
	}
	return dispatchErr
}

func (p *Processor) dispatch(ctx context.Context, ev *paypal.Event) error {
	switch ParseEventType(ev.EventType) {
	case EventSubscriptionCancelled:
		var res paypal.SubscriptionResource
		if err := json.Unmarshal(ev.Resource, &res); err != nil || strings.TrimSpace(res.ID) == "" {
			return fmt.Errorf("%w: subscription resource without id", ErrMalformedEvent)
		}
		_, err := p.service.CancelSubscription(ctx, res.ID)
		return err
	case EventPaymentSaleCompleted:
		_, err := p.service.RecordPayment(ctx, ev)
		return err
	case EventPlanCreated:
		return p.service.PlanCreated(ev)
	default:
		log.Debugf("[Webhook] ignoring event %s of type %s", ev.ID, ev.EventType)
		return nil
	}
}

func resourceID(raw json.RawMessage) string {
	var res struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return ""
	}
	return res.ID
}

var _ jobqueue.Processor = (*Processor)(nil)
