package repository

import (
	"context"
	stderrors "errors"
	"math"

	"lock-points-system/internal/models"
	"lock-points-system/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict 同一 (user_address, lock_index) 已有积分记录
var ErrConflict = errors.New(errors.ErrStoreConflict, "锁仓积分记录已存在", nil)

type LockPointsRepository struct {
	db *gorm.DB
}

func NewLockPointsRepository(db *gorm.DB) *LockPointsRepository {
	return &LockPointsRepository{db: db}
}

// Exists 检查锁仓是否已计分，仅作快速路径；唯一索引才是最终保障
func (r *LockPointsRepository) Exists(ctx context.Context, userAddress string, lockIndex uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LockPoints{}).
		Where("user_address = ? AND lock_index = ?", userAddress, lockIndex).
		Count(&count).Error
	return count > 0, err
}

// Insert 在同一事务中写入锁仓积分并累加用户总积分
// 唯一索引冲突时不做任何修改并返回 ErrConflict
func (r *LockPointsRepository) Insert(ctx context.Context, rec *models.LockPoints) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_address"}, {Name: "lock_index"}},
			DoNothing: true,
		}).Create(rec)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}

		return addPoints(tx, rec.UserAddress, rec.PointsEarned)
	})
}

// Upsert 写入或覆盖锁仓积分，总积分只累加新旧积分之差
// 同一请求重试不会重复累加
func (r *LockPointsRepository) Upsert(ctx context.Context, rec *models.LockPoints) (float64, error) {
	var delta float64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.LockPoints
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_address = ? AND lock_index = ?", rec.UserAddress, rec.LockIndex).
			First(&existing).Error

		switch {
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			delta = rec.PointsEarned
		case err != nil:
			return err
		default:
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
			if err := tx.Save(rec).Error; err != nil {
				return err
			}
			delta = math.Round((rec.PointsEarned-existing.PointsEarned)*100) / 100
		}

		return addPoints(tx, rec.UserAddress, delta)
	})
	if err != nil {
		return 0, err
	}
	return delta, nil
}

// GetByUserAndIndex 获取单笔锁仓积分，不存在时返回 nil
func (r *LockPointsRepository) GetByUserAndIndex(ctx context.Context, userAddress string, lockIndex uint64) (*models.LockPoints, error) {
	var rec models.LockPoints
	err := r.db.WithContext(ctx).
		Where("user_address = ? AND lock_index = ?", userAddress, lockIndex).
		First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByUser 按锁仓序号列出用户的积分记录
func (r *LockPointsRepository) ListByUser(ctx context.Context, userAddress string, limit int) ([]models.LockPoints, error) {
	var recs []models.LockPoints
	query := r.db.WithContext(ctx).
		Where("user_address = ?", userAddress).
		Order("lock_index ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&recs).Error
	return recs, err
}

type UserSum struct {
	UserAddress string
	Total       float64
}

// SumByUser 按用户汇总锁仓积分，用于核对 user_points
func (r *LockPointsRepository) SumByUser(ctx context.Context) ([]UserSum, error) {
	var sums []UserSum
	err := r.db.WithContext(ctx).
		Model(&models.LockPoints{}).
		Select("user_address, SUM(points_earned) AS total").
		Group("user_address").
		Scan(&sums).Error
	return sums, err
}

// Count 返回已计分的锁仓总数
func (r *LockPointsRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LockPoints{}).
		Count(&count).Error
	return count, err
}
