package models

import (
	"time"
)

// ProcessedBlock 锁仓监听器在每条链上已处理到的区块
type ProcessedBlock struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainName   string    `gorm:"uniqueIndex:uk_chain;size:50;not null" json:"chain_name"`
	BlockNumber int64     `gorm:"not null" json:"block_number"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProcessedBlock) TableName() string {
	return "processed_blocks"
}
