package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/felimargom/ppss/app/models"
	"github.com/felimargom/ppss/internal/pkg/paypal"
)

var (
	ErrSaleNotFound          = errors.New("billing: sale not found")
	ErrSubscriptionNotActive = errors.New("billing: subscription not active")
	ErrMalformedEvent        = errors.New("billing: malformed event")
	ErrInvalidReason         = errors.New("billing: cancellation reason required")
	ErrPlanNotOffered        = errors.New("billing: plan not offered")
	ErrCheckoutUnavailable   = errors.New("billing: checkout not configured")
)

// EventType is the closed set of webhook events the processor acts on.
type EventType int

const (
	EventUnknown EventType = iota
	EventSubscriptionCancelled
	EventPaymentSaleCompleted
	EventPlanCreated
)

// ParseEventType maps PayPal's event_type to an EventType.
func ParseEventType(raw string) EventType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BILLING.SUBSCRIPTION.CANCELLED":
		return EventSubscriptionCancelled
	case "PAYMENT.SALE.COMPLETED":
		return EventPaymentSaleCompleted
	case "BILLING.PLAN.CREATED":
		return EventPlanCreated
	default:
		return EventUnknown
	}
}

func (t EventType) String() string {
	switch t {
	case EventSubscriptionCancelled:
		return "BILLING.SUBSCRIPTION.CANCELLED"
	case EventPaymentSaleCompleted:
		return "PAYMENT.SALE.COMPLETED"
	case EventPlanCreated:
		return "BILLING.PLAN.CREATED"
	default:
		return "UNKNOWN"
	}
}

// Gateway is the part of the PayPal REST client the lifecycle needs.
type Gateway interface {
	GetSubscription(ctx context.Context, id string) (*paypal.Subscription, error)
	GetPlan(ctx context.Context, id string) (*paypal.Plan, error)
	CreateSubscription(ctx context.Context, planID, returnURL, cancelURL string) (*paypal.Subscription, error)
	CancelSubscription(ctx context.Context, id, reason string) error
}

// CancellationNotice describes a cancellation for the notifier.
type CancellationNotice struct {
	SaleID                 uint
	UserID                 *uint
	Email                  string
	ExternalSubscriptionID string
	Role                   string
	Expire                 time.Time
	Immediate              bool
}

// Notifier sends the lifecycle emails. Failures are logged by the caller and
// never undo a state change.
type Notifier interface {
	SubscriptionCancelled(ctx context.Context, n CancellationNotice) error
	CancellationScheduled(ctx context.Context, n CancellationNotice) error
	AccountCreated(ctx context.Context, user *models.User) error
	PurchaseConfirmed(ctx context.Context, sale *models.Sale) error
}

// CancelOutcome reports the state a cancellation left the sale in.
type CancelOutcome struct {
	SaleID  uint
	Status  models.SaleStatus
	Expire  *time.Time
	Changed bool
}

// PaymentOutcome says how a payment event landed in sales_details.
type PaymentOutcome string

const (
	PaymentUpdated  PaymentOutcome = "updated"
	PaymentFilled   PaymentOutcome = "filled_placeholder"
	PaymentInserted PaymentOutcome = "inserted"
)

// PurchaseResult is returned by ConfirmPurchase.
type PurchaseResult struct {
	Sale        *models.Sale
	User        *models.User
	Created     bool
	UserCreated bool
}

// RawDetails is the snapshot stored in sales.raw_details at checkout.
type RawDetails struct {
	Subscription *paypal.Subscription `json:"subscription,omitempty"`
	Plan         *paypal.Plan         `json:"plan,omitempty"`
}
