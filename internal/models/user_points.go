package models

import (
	"time"
)

type UserPoints struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserAddress string    `gorm:"uniqueIndex:uk_user;size:42;not null" json:"user_address"`
	TotalPoints float64   `gorm:"type:decimal(30,2);not null;default:0" json:"total_points"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserPoints) TableName() string {
	return "user_points"
}
