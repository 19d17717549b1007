package paypal

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	SubscriptionStatusApproved  = "APPROVED"
	SubscriptionStatusActive    = "ACTIVE"
	SubscriptionStatusSuspended = "SUSPENDED"
	SubscriptionStatusCancelled = "CANCELLED"
	SubscriptionStatusExpired   = "EXPIRED"

	TenureRegular = "REGULAR"
	TenureTrial   = "TRIAL"
)

type Money struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

type Subscriber struct {
	EmailAddress string `json:"email_address"`
	PayerID      string `json:"payer_id"`
	Name         struct {
		GivenName string `json:"given_name"`
		Surname   string `json:"surname"`
	} `json:"name"`
}

// Subscription is the subset of GET /v1/billing/subscriptions/{id} we use.
type Subscription struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	PlanID      string     `json:"plan_id"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	CreateTime  *time.Time `json:"create_time,omitempty"`
	Subscriber  Subscriber `json:"subscriber"`
	BillingInfo struct {
		LastPayment struct {
			Amount Money      `json:"amount"`
			Time   *time.Time `json:"time,omitempty"`
		} `json:"last_payment"`
		NextBillingTime *time.Time `json:"next_billing_time,omitempty"`
	} `json:"billing_info"`
	Links []Link `json:"links,omitempty"`
}

// Link is a HATEOAS link of a PayPal resource.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// ApprovalURL returns the page the buyer must visit to approve a newly
// created subscription, or "" when PayPal sent none.
func (s *Subscription) ApprovalURL() string {
	for _, l := range s.Links {
		if strings.EqualFold(l.Rel, "approve") {
			return l.Href
		}
	}
	return ""
}

// ApplicationContext customises the approval flow of a new subscription.
type ApplicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	UserAction         string `json:"user_action,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
}

type subscriptionRequest struct {
	PlanID             string             `json:"plan_id"`
	ApplicationContext ApplicationContext `json:"application_context"`
}

// IsUsable reports whether the buyer finished the approval flow.
func (s *Subscription) IsUsable() bool {
	switch strings.ToUpper(s.Status) {
	case SubscriptionStatusActive, SubscriptionStatusApproved:
		return true
	}
	return false
}

type Frequency struct {
	IntervalUnit  string `json:"interval_unit"`
	IntervalCount int    `json:"interval_count"`
}

type BillingCycle struct {
	Frequency     Frequency `json:"frequency"`
	TenureType    string    `json:"tenure_type"`
	Sequence      int       `json:"sequence"`
	TotalCycles   int       `json:"total_cycles"`
	PricingScheme struct {
		FixedPrice Money `json:"fixed_price"`
	} `json:"pricing_scheme"`
}

type Taxes struct {
	Percentage string `json:"percentage"`
	Inclusive  bool   `json:"inclusive"`
}

// Plan is the subset of GET /v1/billing/plans/{id} we use.
type Plan struct {
	ID            string         `json:"id"`
	ProductID     string         `json:"product_id"`
	Name          string         `json:"name"`
	Status        string         `json:"status"`
	BillingCycles []BillingCycle `json:"billing_cycles"`
	Taxes         *Taxes         `json:"taxes,omitempty"`
}

// RegularCycle returns the paying cycle of the plan, skipping trials.
func (p *Plan) RegularCycle() (BillingCycle, bool) {
	for _, c := range p.BillingCycles {
		if strings.EqualFold(c.TenureType, TenureRegular) {
			return c, true
		}
	}
	if len(p.BillingCycles) > 0 {
		return p.BillingCycles[len(p.BillingCycles)-1], true
	}
	return BillingCycle{}, false
}

// Event is a webhook notification envelope.
type Event struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	CreateTime   string          `json:"create_time"`
	ResourceType string          `json:"resource_type"`
	Summary      string          `json:"summary"`
	Resource     json.RawMessage `json:"resource"`
}

// SaleResource is the resource of PAYMENT.SALE.* events.
type SaleResource struct {
	ID                 string `json:"id"`
	State              string `json:"state"`
	BillingAgreementID string `json:"billing_agreement_id"`
	CreateTime         string `json:"create_time"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// SubscriptionResource is the resource of BILLING.SUBSCRIPTION.* events.
type SubscriptionResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	PlanID string `json:"plan_id"`
}

// ParseTime reads the RFC 3339 timestamps PayPal sends. Empty or broken
// values return false.
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
