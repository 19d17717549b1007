package repository

import (
	"time"

	"github.com/felimargom/ppss/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByActivationToken(token string) (*models.User, error)
	Update(user *models.User) error
	GrantRole(userID uint, role string) error
	RevokeRole(userID uint, role string) error
	HasRole(userID uint, role string) (bool, error)
}

// ContentRepository defines the interface for entitlement-bearing content
type ContentRepository interface {
	Create(content *models.Content) error
	GetByID(id uint) (*models.Content, error)
	ListByOwner(ownerID uint) ([]models.Content, error)
	UnpublishNow(ownerID uint, category string) (int64, error)
	ScheduleUnpublish(ownerID uint, category string, when time.Time) error
	UnpublishDue(now time.Time) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	Content ContentRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Content: NewContentRepository(db),
	}
}
