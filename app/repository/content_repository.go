package repository

import (
	"time"

	"github.com/felimargom/ppss/app/models"
	"gorm.io/gorm"
)

// contentRepository implements the ContentRepository interface
type contentRepository struct {
	db *gorm.DB
}

// NewContentRepository creates a new content repository instance
func NewContentRepository(db *gorm.DB) ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) Create(content *models.Content) error {
	return r.db.Create(content).Error
}

func (r *contentRepository) GetByID(id uint) (*models.Content, error) {
	var content models.Content
	if err := r.db.First(&content, id).Error; err != nil {
		return nil, err
	}
	return &content, nil
}

func (r *contentRepository) ListByOwner(ownerID uint) ([]models.Content, error) {
	var contents []models.Content
	err := r.db.Where("owner_id = ?", ownerID).Order("id ASC").Find(&contents).Error
	return contents, err
}

// UnpublishNow takes all published content of the owner in category offline.
func (r *contentRepository) UnpublishNow(ownerID uint, category string) (int64, error) {
	tx := r.db.Model(&models.Content{}).
		Where("owner_id = ? AND category = ? AND published = ?", ownerID, category, true).
		Updates(map[string]interface{}{
			"published":    false,
			"unpublish_at": nil,
		})
	return tx.RowsAffected, tx.Error
}

// ScheduleUnpublish marks the owner's published content in category to be
// taken offline at when. UnpublishDue performs the actual change.
func (r *contentRepository) ScheduleUnpublish(ownerID uint, category string, when time.Time) error {
	return r.db.Model(&models.Content{}).
		Where("owner_id = ? AND category = ? AND published = ?", ownerID, category, true).
		Update("unpublish_at", when).Error
}

// UnpublishDue unpublishes every content whose scheduled date has been reached.
func (r *contentRepository) UnpublishDue(now time.Time) (int64, error) {
	tx := r.db.Model(&models.Content{}).
		Where("published = ? AND unpublish_at IS NOT NULL AND unpublish_at <= ?", true, now).
		Updates(map[string]interface{}{
			"published":    false,
			"unpublish_at": nil,
		})
	return tx.RowsAffected, tx.Error
}
