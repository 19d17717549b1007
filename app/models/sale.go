package models

import (
	"strings"
	"time"
)

// SaleStatus mirrors the numeric status column of the sales table.
type SaleStatus int

const (
	SaleStatusCancelled SaleStatus = 0
	SaleStatusActive    SaleStatus = 1
)

const (
	PaymentPlatformPayPal = "paypal"
)

// Frequency units as used by PayPal billing plans.
const (
	FrequencyDay   = "DAY"
	FrequencyWeek  = "WEEK"
	FrequencyMonth = "MONTH"
	FrequencyYear  = "YEAR"
)

// Sale is one row per subscription purchase. ExternalSubscriptionID is the
// PayPal subscription/agreement id and the idempotency key for lifecycle events.
type Sale struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	ExternalSubscriptionID string     `gorm:"column:external_subscription_id;type:varchar(64);not null;uniqueIndex:ux_sales_external_subscription" json:"external_subscription_id"`
	UserID                 *uint      `gorm:"index" json:"user_id,omitempty"`
	Email                  string     `gorm:"type:varchar(200);not null;default:''" json:"email"`
	PaymentPlatform        string     `gorm:"type:varchar(32);not null;default:'paypal'" json:"payment_platform"`
	FrequencyUnit          string     `gorm:"type:varchar(8);not null" json:"frequency_unit" validate:"oneof=DAY WEEK MONTH YEAR"`
	FrequencyInterval      int        `gorm:"not null" json:"frequency_interval" validate:"min=1"`
	Status                 SaleStatus `gorm:"not null;index:idx_sales_status_expire,priority:1" json:"status"`
	Expire                 *time.Time `gorm:"type:datetime;default:null;index:idx_sales_status_expire,priority:2" json:"expire,omitempty"`
	RoleID                 string     `gorm:"type:varchar(64);not null;default:''" json:"role_id"`
	RawDetails             string     `gorm:"type:longtext" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`

	Details []SaleDetail `gorm:"foreignKey:SaleID" json:"details,omitempty"`
}

func (Sale) TableName() string {
	return "sales"
}

// IsActive reports whether the sale still grants its entitlement.
func (s *Sale) IsActive() bool {
	return s.Status == SaleStatusActive
}

// IsPendingCancellation is true while the sale is active but already carries
// a cancellation date.
func (s *Sale) IsPendingCancellation() bool {
	return s.Status == SaleStatusActive && s.Expire != nil
}

// NormalizeFrequencyUnit maps provider spellings (month, MONTHLY) to the
// canonical unit. Unknown values fall back to MONTH.
func NormalizeFrequencyUnit(unit string) string {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "DAY", "DAILY":
		return FrequencyDay
	case "WEEK", "WEEKLY":
		return FrequencyWeek
	case "YEAR", "YEARLY", "ANNUAL":
		return FrequencyYear
	default:
		return FrequencyMonth
	}
}
