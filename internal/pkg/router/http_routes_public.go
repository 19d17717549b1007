package router

import (
	"time"

	"github.com/felimargom/ppss/app/controllers"
	"github.com/felimargom/ppss/internal/pkg/constants"
	"github.com/felimargom/ppss/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get(constants.HealthRoute, controllers.HandleHealth)

	// PayPal notifications, signature-verified before anything is queued
	var counts controllers.EventCounter
	if h.deps.Counts != nil {
		counts = h.deps.Counts
	}
	webhooks := controllers.NewWebhookController(h.deps.Queue, counts)
	app.Post(constants.PayPalWebhookRoute, middleware.RequirePayPalSignature(h.deps.Verifier, counts), webhooks.HandlePayPal)

	// Buyer leaves for the PayPal approval page
	checkout := controllers.NewCheckoutController(h.deps.Checkout, h.deps.ErrorURL)
	app.Get(constants.CheckoutRoute, h.rateLimit(10, time.Minute), checkout.HandleCheckout)

	// Buyer return from the PayPal approval page
	sales := controllers.NewSaleController(h.deps.Purchases, h.deps.SuccessURL, h.deps.ErrorURL)
	app.Get(constants.SaleSuccessRoute, h.rateLimit(20, time.Minute), sales.HandleSuccess)

	// Activation of accounts created at checkout
	accounts := controllers.NewAccountController(h.deps.Accounts, h.deps.SuccessURL, h.deps.ErrorURL)
	activateLimit := h.rateLimit(10, time.Minute)
	app.Get(constants.ActivateAccountRoute, activateLimit, accounts.HandleActivateLink)
	app.Post(constants.ActivateAccountRoute, activateLimit, accounts.HandleActivate)
}
