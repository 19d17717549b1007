package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/felimargom/ppss/app/models"
	"github.com/felimargom/ppss/app/repository"
	"github.com/felimargom/ppss/internal/pkg/database"
	"github.com/felimargom/ppss/internal/pkg/entitlements"
	"github.com/felimargom/ppss/internal/pkg/paypal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return db
}

type fakeGateway struct {
	mu        sync.Mutex
	subs      map[string]*paypal.Subscription
	plans     map[string]*paypal.Plan
	cancelErr error
	cancelled map[string]string
	created   []string
	createErr error
	calls     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subs:      map[string]*paypal.Subscription{},
		plans:     map[string]*paypal.Plan{},
		cancelled: map[string]string{},
	}
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*paypal.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	sub, ok := g.subs[id]
	if !ok {
		return nil, &paypal.APIError{StatusCode: 404, Name: "RESOURCE_NOT_FOUND", Message: "subscription not found"}
	}
	return sub, nil
}

func (g *fakeGateway) GetPlan(_ context.Context, id string) (*paypal.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	plan, ok := g.plans[id]
	if !ok {
		return nil, &paypal.APIError{StatusCode: 404, Name: "RESOURCE_NOT_FOUND", Message: "plan not found"}
	}
	return plan, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, planID, returnURL, cancelURL string) (*paypal.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, planID+" "+returnURL+" "+cancelURL)
	return &paypal.Subscription{
		ID:     "I-NEW",
		Status: "APPROVAL_PENDING",
		PlanID: planID,
		Links:  []paypal.Link{{Rel: "approve", Href: "https://paypal.test/approve?ba_token=BA-1"}},
	}, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled[id] = reason
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	cancelled []CancellationNotice
	scheduled []CancellationNotice
	accounts  []string
	purchases []string
	err       error
}

func (n *fakeNotifier) SubscriptionCancelled(_ context.Context, notice CancellationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, notice)
	return n.err
}

func (n *fakeNotifier) CancellationScheduled(_ context.Context, notice CancellationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduled = append(n.scheduled, notice)
	return n.err
}

func (n *fakeNotifier) AccountCreated(_ context.Context, user *models.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts = append(n.accounts, user.Email)
	return n.err
}

func (n *fakeNotifier) PurchaseConfirmed(_ context.Context, sale *models.Sale) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purchases = append(n.purchases, sale.ExternalSubscriptionID)
	return n.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	db       *gorm.DB
	service  *Service
	repo     Repository
	users    repository.UserRepository
	contents repository.ContentRepository
	gateway  *fakeGateway
	notifier *fakeNotifier
	clock    *clock
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db := setupTestDB(t)
	f := &fixture{
		db:       db,
		repo:     NewRepository(db),
		users:    repository.NewUserRepository(db),
		contents: repository.NewContentRepository(db),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
		clock:    &clock{t: now},
	}
	f.service = NewService(Deps{
		Repo:     f.repo,
		Users:    f.users,
		Contents: f.contents,
		Gateway:  f.gateway,
		Notifier: f.notifier,
		Settings: Settings{
			Location:   time.UTC,
			Currency:   "MXN",
			TaxPercent: decimal.NewFromInt(16),
			Entitlements: entitlements.Mapping{
				DefaultRole:    "subscriber",
				PlanRoles:      map[string]string{"P-GOLD": "gold"},
				RoleCategories: map[string][]string{"gold": {"ads"}},
			},
		},
		Now: f.clock.now,
	})
	return f
}

// seedSale stores a monthly gold sale for a fresh user with one settled
// payment at lastPayment and one published ad.
func (f *fixture) seedSale(t *testing.T, externalID, email string, lastPayment time.Time) (*models.Sale, *models.User) {
	t.Helper()
	user, err := models.NewBuyerAccount(email)
	require.NoError(t, err)
	require.NoError(t, f.users.Create(user))
	require.NoError(t, f.users.GrantRole(user.ID, "gold"))
	require.NoError(t, f.contents.Create(&models.Content{OwnerID: user.ID, Category: "ads", Title: "ad", Published: true}))

	userID := user.ID
	sale := &models.Sale{
		ExternalSubscriptionID: externalID,
		UserID:                 &userID,
		Email:                  email,
		PaymentPlatform:        models.PaymentPlatformPayPal,
		FrequencyUnit:          models.FrequencyMonth,
		FrequencyInterval:      1,
		Status:                 models.SaleStatusActive,
		RoleID:                 "gold",
	}
	require.NoError(t, f.db.Create(sale).Error)
	require.NoError(t, f.db.Create(&models.SaleDetail{
		SaleID:    sale.ID,
		Tax:       decimal.NewFromInt(16),
		Price:     decimal.NewFromInt(100),
		Total:     decimal.NewFromInt(116),
		CreatedAt: lastPayment,
		EventID:   "EV-" + externalID,
	}).Error)
	return sale, user
}

func (f *fixture) reloadSale(t *testing.T, id uint) *models.Sale {
	t.Helper()
	var sale models.Sale
	require.NoError(t, f.db.First(&sale, id).Error)
	return &sale
}
