package models

import "time"

// Content is an entitlement-bearing item (e.g. a classified ad) owned by a
// user. Subscribers lose their content once the subscription expires.
type Content struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	OwnerID     uint       `gorm:"not null;index:idx_contents_owner_category,priority:1" json:"owner_id"`
	Category    string     `gorm:"type:varchar(64);not null;index:idx_contents_owner_category,priority:2" json:"category"`
	Title       string     `gorm:"type:varchar(255);not null;default:''" json:"title"`
	Published   bool       `gorm:"not null;index" json:"published"`
	UnpublishAt *time.Time `gorm:"type:datetime;default:null;index" json:"unpublish_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Content) TableName() string {
	return "contents"
}
