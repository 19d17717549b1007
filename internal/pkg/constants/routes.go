package constants

// Route constants
const (
	HealthRoute             = "/healthz"
	PayPalWebhookRoute      = "/webhooks/paypal"
	CheckoutRoute           = "/checkout"
	SaleSuccessRoute        = "/sale/success"
	ActivateAccountRoute    = "/account/activate"
	CancelSubscriptionRoute = "/subscriptions/:id/cancel"
	AdminRoute              = "/admin"
	QueueStatsPath          = "/queue/stats"
	DocsBasePath            = "/docs/"
	DocsPath                = "api"
)
