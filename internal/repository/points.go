package repository

import (
	"context"
	"errors"
	"time"

	"lock-points-system/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PointsRepository struct {
	db *gorm.DB
}

func NewPointsRepository(db *gorm.DB) *PointsRepository {
	return &PointsRepository{db: db}
}

// GetByUser 获取用户的累计积分，不存在时返回 nil
func (r *PointsRepository) GetByUser(ctx context.Context, userAddress string) (*models.UserPoints, error) {
	var points models.UserPoints
	err := r.db.WithContext(ctx).
		Where("user_address = ?", userAddress).
		First(&points).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &points, nil
}

// AddPoints 原子性增加用户积分
func (r *PointsRepository) AddPoints(ctx context.Context, userAddress string, delta float64) error {
	return addPoints(r.db.WithContext(ctx), userAddress, delta)
}

// addPoints 在数据库端执行 total_points = total_points + delta
// 不存在时以 delta 创建；MySQL 生成 ON DUPLICATE KEY UPDATE，Postgres/SQLite 生成 ON CONFLICT
func addPoints(tx *gorm.DB, userAddress string, delta float64) error {
	row := &models.UserPoints{
		UserAddress: userAddress,
		TotalPoints: delta,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_points": gorm.Expr("user_points.total_points + ?", delta),
			"updated_at":   time.Now(),
		}),
	}).Create(row).Error
}

// RecomputeTotal 以 lock_points 汇总重写用户累计积分，返回重写前后的值
// 先锁定 user_points 行再由数据库计算 SUM，并发的 Insert/Upsert 累加会在行锁上等待，不会被覆盖
func (r *PointsRepository) RecomputeTotal(ctx context.Context, userAddress string) (before, after float64, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := addPoints(tx, userAddress, 0); err != nil {
			return err
		}

		var row models.UserPoints
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_address = ?", userAddress).
			First(&row).Error; err != nil {
			return err
		}
		before = row.TotalPoints

		sum := tx.Model(&models.LockPoints{}).
			Select("COALESCE(SUM(points_earned), 0)").
			Where("lock_points.user_address = user_points.user_address")
		if err := tx.Model(&models.UserPoints{}).
			Where("user_address = ?", userAddress).
			Updates(map[string]interface{}{
				"total_points": sum,
				"updated_at":   time.Now(),
			}).Error; err != nil {
			return err
		}

		var updated models.UserPoints
		if err := tx.Where("user_address = ?", userAddress).First(&updated).Error; err != nil {
			return err
		}
		after = updated.TotalPoints
		return nil
	})
	return before, after, err
}

// Top 积分排行榜
func (r *PointsRepository) Top(ctx context.Context, limit int) ([]models.UserPoints, error) {
	var points []models.UserPoints
	err := r.db.WithContext(ctx).
		Order("total_points DESC").
		Order("user_address ASC").
		Limit(limit).
		Find(&points).Error
	return points, err
}

// GetAll 获取所有用户积分
// 警告：可能返回大量数据
func (r *PointsRepository) GetAll(ctx context.Context) ([]models.UserPoints, error) {
	var points []models.UserPoints
	err := r.db.WithContext(ctx).Find(&points).Error
	return points, err
}

// Count 返回有积分记录的用户总数
func (r *PointsRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserPoints{}).
		Count(&count).Error
	return count, err
}
