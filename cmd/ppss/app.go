package main

import (
	"context"
	"fmt"
	"time"

	"github.com/felimargom/ppss/app/repository"
	"github.com/felimargom/ppss/internal/pkg/account"
	"github.com/felimargom/ppss/internal/pkg/billing"
	"github.com/felimargom/ppss/internal/pkg/cache"
	"github.com/felimargom/ppss/internal/pkg/config"
	"github.com/felimargom/ppss/internal/pkg/constants"
	"github.com/felimargom/ppss/internal/pkg/database"
	"github.com/felimargom/ppss/internal/pkg/env"
	"github.com/felimargom/ppss/internal/pkg/jobqueue"
	"github.com/felimargom/ppss/internal/pkg/mail"
	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// application holds the wired collaborators shared by all commands.
type application struct {
	cfg      *config.Config
	db       *gorm.DB
	redis    *redis.Client
	gateway  *paypal.Client
	billing  *billing.Service
	accounts *account.Service
	queue    *jobqueue.Queue
}

func bootstrap() (*application, error) {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.App.Env != "prod" {
		log.SetLevel(log.LevelDebug)
	}

	db, err := database.SetupDatabase(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rdb := cache.SetupCache(cfg.Cache)

	gateway := paypal.NewClient(paypal.ClientConfig{
		BaseURL:      cfg.PayPal.BaseURL(),
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
	})
	notifier := mail.NewNotifier(mail.NewSender(cfg.SMTP), cfg.Billing.OperatorEmail).
		WithActivationLink(cfg.App.URL(constants.ActivateAccountRoute))

	svc := billing.NewServiceFromDB(db, gateway, notifier, billing.Settings{
		Location:     cfg.App.Location,
		Currency:     cfg.Billing.Currency,
		TaxPercent:   cfg.Billing.TaxPercent,
		Entitlements: cfg.Billing.Entitlements,
		ReturnURL:    cfg.App.URL(constants.SaleSuccessRoute),
		CancelURL:    cfg.Billing.ErrorURL,
	})

	queue := jobqueue.NewQueue(rdb, jobqueue.Options{
		Workers:    cfg.Queue.Workers,
		MaxRetries: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
	})
	queue.Register(jobqueue.JobTypePayPalWebhook, billing.NewProcessor(svc))

	return &application{
		cfg:      cfg,
		db:       db,
		redis:    rdb,
		gateway:  gateway,
		billing:  svc,
		accounts: account.NewService(repository.NewFactory(db).GetUserRepository()),
		queue:    queue,
	}, nil
}

// newManager runs the queue workers plus the cancellation sweep and the
// content unpublish task.
func (a *application) newManager() *jobqueue.Manager {
	m := jobqueue.NewManager(a.queue)
	m.AddTask(jobqueue.Task{
		Name:     "subscription sweep",
		Interval: a.cfg.Queue.SweepInterval,
		Run: func(ctx context.Context) error {
			_, err := a.billing.SweepExpired(ctx)
			return err
		},
	})
	m.AddTask(jobqueue.Task{
		Name:     "content unpublish",
		Interval: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := a.billing.UnpublishDueContent(ctx)
			return err
		},
	})
	return m
}

func (a *application) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
