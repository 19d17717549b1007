package router

import (
	"time"

	"github.com/felimargom/ppss/app/controllers"
	"github.com/felimargom/ppss/internal/pkg/constants"
	"github.com/felimargom/ppss/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	requireAdmin := middleware.RequireAdmin(h.deps.AdminUser, h.deps.AdminPassword)

	subscriptions := controllers.NewSubscriptionController(h.deps.Canceller)
	app.Post(constants.CancelSubscriptionRoute, h.rateLimit(10, time.Minute), requireAdmin, subscriptions.HandleCancel)

	var counts controllers.CountSnapshotter
	if h.deps.Counts != nil {
		counts = h.deps.Counts
	}
	admin := app.Group(constants.AdminRoute, requireAdmin)
	admin.Get(constants.QueueStatsPath, controllers.HandleQueueStats(h.deps.Queue, counts))
}
