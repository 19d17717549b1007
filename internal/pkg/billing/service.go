package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felimargom/ppss/app/models"
	"github.com/felimargom/ppss/app/repository"
	"github.com/felimargom/ppss/internal/pkg/entitlements"
	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Settings are the read-only billing parameters shared by all workers.
type Settings struct {
	Location     *time.Location
	Currency     string
	TaxPercent   decimal.Decimal
	Entitlements entitlements.Mapping
	// ReturnURL receives the buyer after approval, CancelURL after an abort.
	ReturnURL string
	CancelURL string
}

// Deps are the collaborators of the lifecycle service.
type Deps struct {
	Repo     Repository
	Users    repository.UserRepository
	Contents repository.ContentRepository
	Gateway  Gateway
	Notifier Notifier
	Settings Settings
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service is the subscription lifecycle state machine over sales and
// sales_details.
type Service struct {
	repo     Repository
	users    repository.UserRepository
	contents repository.ContentRepository
	gateway  Gateway
	notifier Notifier
	settings Settings
	now      func() time.Time
}

// NewService creates a billing service from injected collaborators.
func NewService(d Deps) *Service {
	if d.Settings.Location == nil {
		d.Settings.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		repo:     d.Repo,
		users:    d.Users,
		contents: d.Contents,
		gateway:  d.Gateway,
		notifier: d.Notifier,
		settings: d.Settings,
		now:      d.Now,
	}
}

// NewServiceFromDB wires the service to GORM-backed repositories.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, notifier Notifier, settings Settings) *Service {
	repos := repository.NewFactory(db).GetRepositories()
	return NewService(Deps{
		Repo:     NewRepository(db),
		Users:    repos.User,
		Contents: repos.Content,
		Gateway:  gateway,
		Notifier: notifier,
		Settings: settings,
	})
}

func (s *Service) today() time.Time {
	return Day(s.now(), s.settings.Location)
}

// CancelSubscription applies a cancellation to the sale behind
// externalID. The sale expires one billing period after its latest payment:
// on or before today it is cancelled right away, otherwise it stays active
// until then.
func (s *Service) CancelSubscription(ctx context.Context, externalID string) (*CancelOutcome, error) {
	sale, err := s.repo.FindSaleByExternalID(ctx, strings.TrimSpace(externalID))
	if err != nil {
		return nil, err
	}
	return s.cancelSale(ctx, sale)
}

func (s *Service) cancelSale(ctx context.Context, sale *models.Sale) (*CancelOutcome, error) {
	out := &CancelOutcome{SaleID: sale.ID, Status: sale.Status, Expire: sale.Expire}
	if !sale.IsActive() {
		log.Debugf("[Billing] sale %d (%s) already cancelled", sale.ID, sale.ExternalSubscriptionID)
		return out, nil
	}

	last, err := s.repo.LatestDetail(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		log.Warnf("[Billing] sale %d (%s) has no payments, nothing to cancel", sale.ID, sale.ExternalSubscriptionID)
		return out, nil
	}

	loc := s.settings.Location
	expire := AddFrequency(Day(last.CreatedAt, loc), sale.FrequencyUnit, sale.FrequencyInterval)
	immediate := !expire.After(s.today())
	status := models.SaleStatusActive
	if immediate {
		status = models.SaleStatusCancelled
	}

	if sale.Status == status && sale.Expire != nil && SameDay(*sale.Expire, expire, loc) {
		return out, nil
	}

	if err := s.applyEntitlementChange(ctx, sale, expire, immediate); err != nil {
		return nil, err
	}

	changed, err := s.repo.UpdateSaleState(ctx, sale, status, expire)
	if err != nil {
		return nil, err
	}
	out.Status = status
	out.Expire = &expire
	out.Changed = changed
	if !changed {
		log.Debugf("[Billing] sale %d changed concurrently, skipping notifications", sale.ID)
		return out, nil
	}

	notice := CancellationNotice{
		SaleID:                 sale.ID,
		UserID:                 sale.UserID,
		Email:                  sale.Email,
		ExternalSubscriptionID: sale.ExternalSubscriptionID,
		Role:                   sale.RoleID,
		Expire:                 expire,
		Immediate:              immediate,
	}
	if immediate {
		log.Infof("[Billing] sale %d (%s) cancelled, expired %s", sale.ID, sale.ExternalSubscriptionID, expire.Format("2006-01-02"))
		s.notify(func() error { return s.notifier.SubscriptionCancelled(ctx, notice) }, "cancellation", sale.ID)
	} else {
		log.Infof("[Billing] sale %d (%s) will expire %s", sale.ID, sale.ExternalSubscriptionID, expire.Format("2006-01-02"))
		s.notify(func() error { return s.notifier.CancellationScheduled(ctx, notice) }, "scheduled cancellation", sale.ID)
	}
	return out, nil
}

// applyEntitlementChange revokes the role and unpublishes content now, or
// schedules the unpublish for the expire date. Every step is idempotent.
func (s *Service) applyEntitlementChange(ctx context.Context, sale *models.Sale, expire time.Time, immediate bool) error {
	if sale.UserID == nil || *sale.UserID == 0 || sale.RoleID == "" {
		return nil
	}
	userID := *sale.UserID

	if immediate {
		other, err := s.repo.HasOtherActiveSale(ctx, userID, sale.RoleID, sale.ID)
		if err != nil {
			return err
		}
		if other {
			log.Infof("[Billing] user %d keeps role %s through another active sale", userID, sale.RoleID)
			return nil
		}
		if err := s.users.RevokeRole(userID, sale.RoleID); err != nil {
			return fmt.Errorf("revoke role: %w", err)
		}
	}

	for _, category := range s.settings.Entitlements.CategoriesForRole(sale.RoleID) {
		if immediate {
			n, err := s.contents.UnpublishNow(userID, category)
			if err != nil {
				return fmt.Errorf("unpublish %s: %w", category, err)
			}
			log.Debugf("[Billing] unpublished %d %s items of user %d", n, category, userID)
			continue
		}
		if err := s.contents.ScheduleUnpublish(userID, category, expire); err != nil {
			return fmt.Errorf("schedule unpublish %s: %w", category, err)
		}
	}
	return nil
}

// SweepExpired cancels every active sale whose expire date has been reached.
// A failing sale is logged and the sweep continues.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	sales, err := s.repo.ListDueForCancellation(ctx, s.today().AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for i := range sales {
		if ctx.Err() != nil {
			return cancelled, ctx.Err()
		}
		out, err := s.cancelSale(ctx, &sales[i])
		if err != nil {
			log.Errorf("[Billing] sweep: sale %d (%s): %v", sales[i].ID, sales[i].ExternalSubscriptionID, err)
			continue
		}
		if out.Changed && out.Status == models.SaleStatusCancelled {
			cancelled++
		}
	}
	if cancelled > 0 {
		log.Infof("[Billing] sweep cancelled %d sales", cancelled)
	}
	return cancelled, nil
}

// UnpublishDueContent takes scheduled content offline once its date passed.
func (s *Service) UnpublishDueContent(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.contents.UnpublishDue(s.now())
	if err == nil && n > 0 {
		log.Infof("[Billing] unpublished %d scheduled content items", n)
	}
	return n, err
}

// RecordPayment stores a PAYMENT.SALE.COMPLETED event in sales_details.
// Events without a subscription reference are ignored.
func (s *Service) RecordPayment(ctx context.Context, ev *paypal.Event) (PaymentOutcome, error) {
	var res paypal.SaleResource
	if err := json.Unmarshal(ev.Resource, &res); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(res.BillingAgreementID) == "" {
		log.Warnf("[Billing] payment event %s has no billing_agreement_id, ignoring", ev.ID)
		return "", nil
	}

	sale, err := s.repo.FindSaleByExternalID(ctx, strings.TrimSpace(res.BillingAgreementID))
	if err != nil {
		return "", err
	}

	total, err := decimal.NewFromString(strings.TrimSpace(res.Amount.Total))
	if err != nil {
		return "", fmt.Errorf("%w: amount %q", ErrMalformedEvent, res.Amount.Total)
	}

	taxPercent, ok := TaxPercentFromRaw(sale.RawDetails)
	if !ok {
		taxPercent = s.settings.TaxPercent
	}
	amounts := SplitTotal(total, taxPercent)

	createdAt, ok := paypal.ParseTime(res.CreateTime)
	if !ok {
		createdAt, ok = paypal.ParseTime(ev.CreateTime)
	}
	if !ok {
		createdAt = s.now()
	}

	detail := &models.SaleDetail{
		SaleID:    sale.ID,
		Tax:       amounts.Tax,
		Price:     amounts.Price,
		Total:     amounts.Total,
		CreatedAt: createdAt,
		EventID:   ev.ID,
	}
	outcome, err := s.repo.UpsertPayment(ctx, detail)
	if err != nil {
		return "", err
	}
	log.Infof("[Billing] payment %s for sale %d %s (total %s)", ev.ID, sale.ID, outcome, amounts.Total.StringFixed(2))
	return outcome, nil
}

// PlanCreated is a hook for BILLING.PLAN.CREATED. Plans are read on demand
// at checkout, so nothing is stored.
func (s *Service) PlanCreated(ev *paypal.Event) error {
	log.Infof("[Billing] plan created event %s received", ev.ID)
	return nil
}

// ConfirmPurchase turns an approved PayPal subscription into a sale, creating
// the buyer's account when needed. Repeated calls return the existing sale.
func (s *Service) ConfirmPurchase(ctx context.Context, subscriptionID string) (*PurchaseResult, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, errors.New("subscription id is required")
	}

	if existing, err := s.repo.FindSaleByExternalID(ctx, subscriptionID); err == nil {
		// a previous confirmation may have stored the sale but failed the grant
		if existing.IsActive() && existing.UserID != nil && existing.RoleID != "" {
			if err := s.users.GrantRole(*existing.UserID, existing.RoleID); err != nil {
				return nil, fmt.Errorf("grant role: %w", err)
			}
		}
		return &PurchaseResult{Sale: existing}, nil
	} else if !errors.Is(err, ErrSaleNotFound) {
		return nil, err
	}

	sub, err := s.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsUsable() {
		return nil, fmt.Errorf("%w: status %s", ErrSubscriptionNotActive, sub.Status)
	}
	plan, err := s.gateway.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(sub.Subscriber.EmailAddress)
	if email == "" {
		return nil, errors.New("subscription has no subscriber email")
	}

	user, userCreated, err := s.resolveBuyer(sub)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(RawDetails{Subscription: sub, Plan: plan})
	if err != nil {
		return nil, err
	}

	unit, interval := models.FrequencyMonth, 1
	var price decimal.Decimal
	if cycle, ok := plan.RegularCycle(); ok {
		unit = models.NormalizeFrequencyUnit(cycle.Frequency.IntervalUnit)
		if cycle.Frequency.IntervalCount > 0 {
			interval = cycle.Frequency.IntervalCount
		}
		price, _ = decimal.NewFromString(cycle.PricingScheme.FixedPrice.Value)
	}

	taxPercent, ok := TaxPercentFromRaw(string(raw))
	if !ok {
		taxPercent = s.settings.TaxPercent
	}
	first := GrossFromPrice(price, taxPercent)
	if paid, err := decimal.NewFromString(sub.BillingInfo.LastPayment.Amount.Value); err == nil && paid.IsPositive() {
		first = SplitTotal(paid, taxPercent)
	}

	firstAt := s.now()
	switch {
	case sub.BillingInfo.LastPayment.Time != nil:
		firstAt = *sub.BillingInfo.LastPayment.Time
	case sub.StartTime != nil:
		firstAt = *sub.StartTime
	}

	role := s.settings.Entitlements.RoleForPlan(plan.ID)
	userID := user.ID
	sale := &models.Sale{
		ExternalSubscriptionID: subscriptionID,
		UserID:                 &userID,
		Email:                  email,
		PaymentPlatform:        models.PaymentPlatformPayPal,
		FrequencyUnit:          unit,
		FrequencyInterval:      interval,
		Status:                 models.SaleStatusActive,
		RoleID:                 role,
		RawDetails:             string(raw),
	}
	placeholder := &models.SaleDetail{
		Tax:       first.Tax,
		Price:     first.Price,
		Total:     first.Total,
		CreatedAt: firstAt,
	}

	created, stored, err := s.repo.CreateSale(ctx, sale, placeholder)
	if err != nil {
		return nil, err
	}
	result := &PurchaseResult{Sale: stored, User: user, Created: created, UserCreated: userCreated}
	if !created {
		return result, nil
	}

	if role != "" {
		if err := s.users.GrantRole(user.ID, role); err != nil {
			return nil, fmt.Errorf("grant role: %w", err)
		}
	}
	log.Infof("[Billing] sale %d created for %s (plan %s, role %s)", stored.ID, email, plan.ID, role)

	if userCreated {
		s.notify(func() error { return s.notifier.AccountCreated(ctx, user) }, "account created", stored.ID)
	}
	s.notify(func() error { return s.notifier.PurchaseConfirmed(ctx, stored) }, "purchase confirmation", stored.ID)
	return result, nil
}

func (s *Service) resolveBuyer(sub *paypal.Subscription) (*models.User, bool, error) {
	email := strings.TrimSpace(sub.Subscriber.EmailAddress)
	user, err := s.users.GetByEmail(email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	user, err = models.NewBuyerAccount(email)
	if err != nil {
		return nil, false, err
	}
	if name := strings.TrimSpace(sub.Subscriber.Name.GivenName + " " + sub.Subscriber.Name.Surname); name != "" {
		user.Name = name
	}
	if err := s.users.Create(user); err != nil {
		return nil, false, err
	}
	log.Infof("[Billing] created inactive account %d for buyer %s", user.ID, email)
	return user, true, nil
}

// CancelByUser cancels the subscription at PayPal and then applies the
// cancellation locally.
func (s *Service) CancelByUser(ctx context.Context, subscriptionID, reason string) (*CancelOutcome, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrInvalidReason
	}
	sale, err := s.repo.FindSaleByExternalID(ctx, strings.TrimSpace(subscriptionID))
	if err != nil {
		return nil, err
	}
	if !sale.IsActive() || sale.IsPendingCancellation() {
		return nil, ErrSubscriptionNotActive
	}

	if err := s.gateway.CancelSubscription(ctx, sale.ExternalSubscriptionID, reason); err != nil {
		log.Errorf("[Billing] PayPal refused to cancel %s: %v", sale.ExternalSubscriptionID, err)
		return nil, err
	}
	return s.cancelSale(ctx, sale)
}

func (s *Service) notify(send func() error, what string, saleID uint) {
	if s.notifier == nil {
		return
	}
	if err := send(); err != nil {
		log.Errorf("[Billing] %s email for sale %d failed: %v", what, saleID, err)
	}
}
