package models

import (
	"time"
)

// LockPoints 单笔锁仓的积分记录，(user_address, lock_index) 唯一
type LockPoints struct {
	ID                uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserAddress       string     `gorm:"uniqueIndex:uk_user_lock;size:42;not null" json:"user_address"`
	LockIndex         uint64     `gorm:"uniqueIndex:uk_user_lock;not null" json:"lock_index"`
	TokenAddress      string     `gorm:"size:42;not null;index" json:"token_address"`
	TokenSymbol       string     `gorm:"size:32" json:"token_symbol"`
	TokenAmount       string     `gorm:"type:decimal(65,18);not null" json:"token_amount"`
	TokenDecimals     uint8      `gorm:"not null" json:"token_decimals"`
	LockDurationDays  int        `gorm:"not null" json:"lock_duration_days"`
	DurationEstimated bool       `gorm:"not null;default:false" json:"duration_estimated"`
	UnlockTime        *time.Time `json:"unlock_time,omitempty"`
	UsdValue          float64    `gorm:"type:decimal(30,2);not null;default:0" json:"usd_value"`
	PointsEarned      float64    `gorm:"type:decimal(30,2);not null;default:0" json:"points_earned"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LockPoints) TableName() string {
	return "lock_points"
}
