package billing

import (
	"context"
	"errors"
	"time"

	"github.com/felimargom/ppss/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	FindSaleByExternalID(ctx context.Context, externalID string) (*models.Sale, error)
	LatestDetail(ctx context.Context, saleID uint) (*models.SaleDetail, error)
	UpdateSaleState(ctx context.Context, sale *models.Sale, status models.SaleStatus, expire time.Time) (bool, error)
	ListDueForCancellation(ctx context.Context, before time.Time) ([]models.Sale, error)
	HasOtherActiveSale(ctx context.Context, userID uint, role string, exceptSaleID uint) (bool, error)
	CreateSale(ctx context.Context, sale *models.Sale, first *models.SaleDetail) (bool, *models.Sale, error)
	UpsertPayment(ctx context.Context, detail *models.SaleDetail) (PaymentOutcome, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindSaleByExternalID(ctx context.Context, externalID string) (*models.Sale, error) {
	var sale models.Sale
	err := r.db.WithContext(ctx).Where("external_subscription_id = ?", externalID).First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// LatestDetail returns the newest billing row of the sale, or nil when the
// sale has none.
func (r *gormRepository) LatestDetail(ctx context.Context, saleID uint) (*models.SaleDetail, error) {
	var detail models.SaleDetail
	err := r.db.WithContext(ctx).
		Joins("JOIN sales ON sales.id = sales_details.sid").
		Where("sales_details.sid = ?", saleID).
		Order("sales_details.created_at DESC").
		Order("sales_details.id DESC").
		First(&detail).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// UpdateSaleState writes status and expire only if the row still holds the
// values the caller read, so concurrent cancellations change it once.
func (r *gormRepository) UpdateSaleState(ctx context.Context, sale *models.Sale, status models.SaleStatus, expire time.Time) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Sale{}).
		Where("id = ? AND status = ?", sale.ID, sale.Status)
	if sale.Expire == nil {
		q = q.Where("expire IS NULL")
	} else {
		q = q.Where("expire = ?", *sale.Expire)
	}

	tx := q.Updates(map[string]interface{}{
		"status": status,
		"expire": expire,
	})
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return false, nil
	}

	sale.Status = status
	sale.Expire = &expire
	return true, nil
}

func (r *gormRepository) ListDueForCancellation(ctx context.Context, before time.Time) ([]models.Sale, error) {
	var sales []models.Sale
	err := r.db.WithContext(ctx).
		Where("status = ? AND expire IS NOT NULL AND expire < ?", models.SaleStatusActive, before).
		Order("id ASC").
		Find(&sales).Error
	return sales, err
}

func (r *gormRepository) HasOtherActiveSale(ctx context.Context, userID uint, role string, exceptSaleID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Sale{}).
		Where("user_id = ? AND role_id = ? AND status = ? AND id <> ?", userID, role, models.SaleStatusActive, exceptSaleID).
		Count(&count).Error
	return count > 0, err
}

// CreateSale inserts the sale and its first-payment placeholder in one
// transaction. An existing sale for the same subscription is returned
// untouched with created=false.
func (r *gormRepository) CreateSale(ctx context.Context, sale *models.Sale, first *models.SaleDetail) (bool, *models.Sale, error) {
	created := false
	var stored models.Sale

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_subscription_id"}},
			DoNothing: true,
		}).Create(sale)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0

		if err := tx.Where("external_subscription_id = ?", sale.ExternalSubscriptionID).First(&stored).Error; err != nil {
			return err
		}
		if !created || first == nil {
			return nil
		}

		first.SaleID = stored.ID
		first.EventID = models.PlaceholderEventID
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sid"}, {Name: "event_id"}},
			DoNothing: true,
		}).Create(first).Error
	})
	if err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// UpsertPayment stores a payment event idempotently: update the row already
// carrying the event id, else fill the placeholder, else insert.
func (r *gormRepository) UpsertPayment(ctx context.Context, detail *models.SaleDetail) (PaymentOutcome, error) {
	amounts := map[string]interface{}{
		"tax":        detail.Tax,
		"price":      detail.Price,
		"total":      detail.Total,
		"created_at": detail.CreatedAt,
	}

	var outcome PaymentOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SaleDetail
		err := tx.Where("sid = ? AND event_id = ?", detail.SaleID, detail.EventID).First(&existing).Error
		if err == nil {
			outcome = PaymentUpdated
			detail.ID = existing.ID
			return tx.Model(&models.SaleDetail{}).Where("id = ?", existing.ID).Updates(amounts).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		fill := map[string]interface{}{"event_id": detail.EventID}
		for k, v := range amounts {
			fill[k] = v
		}
		res := tx.Model(&models.SaleDetail{}).
			Where("sid = ? AND event_id = ?", detail.SaleID, models.PlaceholderEventID).
			Updates(fill)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			outcome = PaymentFilled
			return nil
		}

		outcome = PaymentInserted
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sid"}, {Name: "event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tax", "price", "total", "created_at"}),
		}).Create(detail).Error
	})
	return outcome, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
