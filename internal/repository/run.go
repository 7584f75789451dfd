package repository

import (
	"context"
	"errors"

	"lock-points-system/internal/models"

	"gorm.io/gorm"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.BackfillRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]models.BackfillRun, error) {
	var runs []models.BackfillRun
	if limit <= 0 {
		limit = 10
	}
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *RunRepository) Last(ctx context.Context) (*models.BackfillRun, error) {
	var run models.BackfillRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Order("id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
