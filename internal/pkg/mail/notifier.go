package mail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"

	"github.com/felimargom/ppss/app/models"
	"github.com/felimargom/ppss/internal/pkg/billing"
)

// Notifier sends the subscription lifecycle emails to buyers and copies
// cancellations to the operator address.
type Notifier struct {
	sender     Sender
	operator   string
	activation string
}

// NewNotifier creates a notifier. operator may be empty.
func NewNotifier(sender Sender, operator string) *Notifier {
	return &Notifier{sender: sender, operator: operator}
}

// WithActivationLink makes account emails link to base?token=<code>
// instead of quoting the bare code.
func (n *Notifier) WithActivationLink(base string) *Notifier {
	n.activation = base
	return n
}

func (n *Notifier) SubscriptionCancelled(ctx context.Context, c billing.CancellationNotice) error {
	day := c.Expire.Format("2006-01-02")
	return n.sendBoth(ctx, c.Email,
		"Your subscription has been cancelled",
		fmt.Sprintf("Your subscription %s ended on %s. The benefits of the %s plan are no longer available.", c.ExternalSubscriptionID, day, c.Role),
		fmt.Sprintf("Subscription %s (sale %d, %s) cancelled, expired %s", c.ExternalSubscriptionID, c.SaleID, c.Email, day),
	)
}

func (n *Notifier) CancellationScheduled(ctx context.Context, c billing.CancellationNotice) error {
	day := c.Expire.Format("2006-01-02")
	return n.sendBoth(ctx, c.Email,
		"Your subscription will end soon",
		fmt.Sprintf("Your subscription %s was cancelled. You keep access to the %s plan until %s.", c.ExternalSubscriptionID, c.Role, day),
		fmt.Sprintf("Subscription %s (sale %d, %s) scheduled to expire %s", c.ExternalSubscriptionID, c.SaleID, c.Email, day),
	)
}

func (n *Notifier) AccountCreated(ctx context.Context, user *models.User) error {
	text := fmt.Sprintf("Hello %s,\n\nan account was created for %s with your purchase.\n", user.Name, user.Email)
	if n.activation != "" {
		text += fmt.Sprintf("Activate it here within 7 days: %s?token=%s\n", n.activation, url.QueryEscape(user.ActivationToken))
	} else {
		text += fmt.Sprintf("Activation code (valid for 7 days): %s\n", user.ActivationToken)
	}
	return n.sender.Send(ctx, Message{
		To:      user.Email,
		Subject: "Your new account",
		Text:    text,
		HTML:    toHTML(text),
	})
}

func (n *Notifier) PurchaseConfirmed(ctx context.Context, sale *models.Sale) error {
	text := fmt.Sprintf("Thank you for your purchase.\n\nSubscription: %s\nPlan access: %s\nBilled every %d %s\n",
		sale.ExternalSubscriptionID, sale.RoleID, sale.FrequencyInterval, sale.FrequencyUnit)
	return n.sender.Send(ctx, Message{
		To:      sale.Email,
		Subject: "Purchase confirmed",
		Text:    text,
		HTML:    toHTML(text),
	})
}

// sendBoth mails the buyer and the operator. Both are attempted.
func (n *Notifier) sendBoth(ctx context.Context, to, subject, userText, operatorText string) error {
	var errs []error
	if to != "" {
		errs = append(errs, n.sender.Send(ctx, Message{To: to, Subject: subject, Text: userText, HTML: toHTML(userText)}))
	}
	if n.operator != "" {
		errs = append(errs, n.sender.Send(ctx, Message{To: n.operator, Subject: "[PPSS] " + subject, Text: operatorText}))
	}
	return errors.Join(errs...)
}

func toHTML(text string) string {
	return "<html><body><pre>" + html.EscapeString(text) + "</pre></body></html>"
}

var _ billing.Notifier = (*Notifier)(nil)
