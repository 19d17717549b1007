package router

import (
	"github.com/felimargom/ppss/app/controllers"
	"github.com/felimargom/ppss/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

// Router registers a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// JobQueue is the part of the durable queue the HTTP layer uses.
type JobQueue interface {
	controllers.Enqueuer
	controllers.QueueStatter
}

// WebhookCounts counts webhook deliveries and reports the totals.
type WebhookCounts interface {
	controllers.EventCounter
	controllers.CountSnapshotter
}

// Dependencies are the collaborators the routes are built from.
type Dependencies struct {
	Queue     JobQueue
	Verifier  middleware.WebhookVerifier
	Purchases controllers.PurchaseConfirmer
	Checkout  controllers.CheckoutStarter
	Canceller controllers.UserCanceller
	Accounts  controllers.AccountActivator
	// Counts may be nil.
	Counts WebhookCounts

	SuccessURL string
	ErrorURL   string

	AdminUser     string
	AdminPassword string

	// LimiterStorage is shared by the rate limiters; nil keeps counters in
	// process memory.
	LimiterStorage fiber.Storage
	// OpenAPIFile is served under /docs/api when it exists.
	OpenAPIFile string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps.OpenAPIFile))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
