package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felimargom/ppss/internal/pkg/cache"
	"github.com/felimargom/ppss/internal/pkg/metrics/counter"
	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/felimargom/ppss/internal/pkg/router"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var withWorker bool
	var openAPIFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.RequireWebhook(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := a.newHTTPApp(ctx, openAPIFile)
			if err != nil {
				return err
			}

			if withWorker {
				m := a.newManager()
				m.Start(ctx)
				defer m.Stop()
			}

			go func() {
				<-ctx.Done()
				log.Info("[Server] shutting down")
				_ = app.ShutdownWithTimeout(10 * time.Second)
			}()

			addr := fmt.Sprintf("%s:%s", a.cfg.App.Host, a.cfg.App.Port)
			log.Infof("[Server] listening on %s", addr)
			return app.Listen(addr)
		},
	}

	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also run the queue workers and sweeps in this process")
	cmd.Flags().StringVar(&openAPIFile, "openapi", router.DefaultOpenAPIFile, "OpenAPI document served under /docs/api")
	return cmd
}

func (a *application) newHTTPApp(ctx context.Context, openAPIFile string) (*fiber.App, error) {
	certs, err := paypal.NewCertStore(paypal.CertStoreConfig{
		AllowedHosts: a.cfg.PayPal.CertHosts,
		RootsFile:    a.cfg.PayPal.CertRootsFile,
		Name:         a.cfg.PayPal.CertName,
	})
	if err != nil {
		return nil, fmt.Errorf("paypal certificates: %w", err)
	}

	var limiterStorage fiber.Storage
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx, a.redis); err == nil {
		limiterStorage = cache.NewLimiterStorage(a.cfg.Cache)
	} else {
		log.Warnf("[Server] redis unavailable, rate limits are per process: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:   "ppss",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.Dependencies{
		Queue:          a.queue,
		Verifier:       paypal.NewVerifier(a.cfg.PayPal.WebhookID, certs),
		Purchases:      a.billing,
		Checkout:       a.billing,
		Canceller:      a.billing,
		Accounts:       a.accounts,
		Counts:         counter.NewWebhookCounter(a.redis),
		SuccessURL:     a.cfg.Billing.SuccessURL,
		ErrorURL:       a.cfg.Billing.ErrorURL,
		AdminUser:      a.cfg.Admin.User,
		AdminPassword:  a.cfg.Admin.Password,
		LimiterStorage: limiterStorage,
		OpenAPIFile:    openAPIFile,
	})
	return app, nil
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued webhook notifications and run the periodic sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := a.newManager()
			m.Start(ctx)
			<-ctx.Done()
			m.Stop()
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancel expired subscriptions and unpublish due content once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			cancelled, err := a.billing.SweepExpired(ctx)
			if err != nil {
				return err
			}
			unpublished, err := a.billing.UnpublishDueContent(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d sales, unpublished %d content items\n", cancelled, unpublished)
			return nil
		},
	}
}
