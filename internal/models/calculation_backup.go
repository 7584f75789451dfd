package models

import (
	"time"
)

type BackupType string

const (
	BackupTypePointsSnapshot BackupType = "points_snapshot"
)

// CalculationBackup 对账修正前的 user_points 快照，便于人工回滚
type CalculationBackup struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BackupType BackupType `gorm:"size:32;not null;index:idx_type_time" json:"backup_type"`
	BackupData JSONB      `gorm:"type:json;not null" json:"backup_data"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index:idx_type_time" json:"created_at"`
}

func (CalculationBackup) TableName() string {
	return "calculation_backups"
}
