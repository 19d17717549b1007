package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/gofiber/fiber/v2/log"
)

const planStatusActive = "ACTIVE"

// StartCheckout creates a PayPal subscription to planID and returns the page
// where the buyer approves it. PayPal sends the buyer back to ReturnURL with
// the subscription id, which ConfirmPurchase turns into a sale.
func (s *Service) StartCheckout(ctx context.Context, planID string) (string, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return "", fmt.Errorf("%w: plan id is required", ErrPlanNotOffered)
	}
	if s.settings.ReturnURL == "" {
		return "", ErrCheckoutUnavailable
	}

	plan, err := s.gateway.GetPlan(ctx, planID)
	if err != nil {
		var apiErr *paypal.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return "", fmt.Errorf("%w: %s", ErrPlanNotOffered, planID)
		}
		return "", err
	}
	if !strings.EqualFold(plan.Status, planStatusActive) {
		return "", fmt.Errorf("%w: %s is %s", ErrPlanNotOffered, planID, plan.Status)
	}

	sub, err := s.gateway.CreateSubscription(ctx, planID, s.settings.ReturnURL, s.settings.CancelURL)
	if err != nil {
		return "", err
	}
	approval := sub.ApprovalURL()
	if approval == "" {
		return "", fmt.Errorf("subscription %s has no approval link", sub.ID)
	}
	log.Infof("[Billing] checkout started for plan %s (subscription %s)", planID, sub.ID)
	return approval, nil
}
