package models

import "time"

// UserRole is an entitlement role granted to a user, e.g. by a subscription.
type UserRole struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:ux_user_roles_user_role,unique,priority:1" json:"user_id"`
	Role      string    `gorm:"type:varchar(64);not null;index:ux_user_roles_user_role,unique,priority:2" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UserRole) TableName() string {
	return "user_roles"
}
