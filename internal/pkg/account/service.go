package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felimargom/ppss/app/models"
	"github.com/felimargom/ppss/app/repository"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ActivationTokenTTL bounds how long an emailed activation code stays valid.
const ActivationTokenTTL = 7 * 24 * time.Hour

// MinPasswordLength applies when the buyer sets a password on activation.
const MinPasswordLength = 8

var (
	ErrInvalidToken = errors.New("account: invalid activation code")
	ErrTokenExpired = errors.New("account: activation code expired")
	ErrWeakPassword = errors.New("account: password too short")
)

// Service activates the accounts created for buyers at checkout.
type Service struct {
	users repository.UserRepository
	now   func() time.Time
}

func NewService(users repository.UserRepository) *Service {
	return &Service{users: users, now: time.Now}
}

// Activate enables the account holding token and clears the token so it
// cannot be used twice. A non-empty password replaces the random one set at
// checkout.
func (s *Service) Activate(token, password string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	if password != "" && len([]rune(password)) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	user, err := s.users.GetByActivationToken(token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if user.ActivationSentAt != nil && s.now().Sub(*user.ActivationSentAt) > ActivationTokenTTL {
		return nil, ErrTokenExpired
	}

	if password != "" {
		hash, err := models.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.Password = hash
	}
	user.Status = models.STATUS_ACTIVE
	user.ActivationToken = ""
	user.ActivationSentAt = nil
	if err := s.users.Update(user); err != nil {
		return nil, err
	}

	log.Infof("[Account] user %d activated", user.ID)
	return user, nil
}
