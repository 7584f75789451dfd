package repository

import (
	"context"
	"errors"

	"lock-points-system/internal/models"

	"gorm.io/gorm"
)

type BackupRepository struct {
	db *gorm.DB
}

func NewBackupRepository(db *gorm.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

func (r *BackupRepository) Create(ctx context.Context, backup *models.CalculationBackup) error {
	return r.db.WithContext(ctx).Create(backup).Error
}

// Latest 获取指定类型最近一次快照，不存在时返回 nil
func (r *BackupRepository) Latest(ctx context.Context, backupType models.BackupType) (*models.CalculationBackup, error) {
	var backup models.CalculationBackup
	err := r.db.WithContext(ctx).
		Where("backup_type = ?", backupType).
		Order("created_at DESC").
		Order("id DESC").
		First(&backup).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &backup, nil
}
