package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlaceholderEventID marks the first-payment detail row created on checkout,
// before the matching PAYMENT.SALE.COMPLETED event has been seen.
const PlaceholderEventID = ""

// SaleDetail is one row per billing event of a Sale.
type SaleDetail struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	SaleID    uint            `gorm:"column:sid;not null;uniqueIndex:ux_sales_details_sid_event,priority:1" json:"sid"`
	Tax       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"tax"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	CreatedAt time.Time       `gorm:"type:datetime;not null;index" json:"created_at"`
	EventID   string          `gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_sales_details_sid_event,priority:2" json:"event_id"`
}

func (SaleDetail) TableName() string {
	return "sales_details"
}

// IsPlaceholder reports whether the row still waits for its provider event.
func (d *SaleDetail) IsPlaceholder() bool {
	return d.EventID == PlaceholderEventID
}
