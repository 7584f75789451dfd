package service

import (
	"context"
	"math"
	"sort"

	"lock-points-system/internal/models"
	"lock-points-system/internal/points"
	"lock-points-system/internal/repository"
	"lock-points-system/pkg/errors"
	"lock-points-system/pkg/logger"
)

// 小于半分的差异视为舍入误差
const reconcileTolerance = 0.005

type Correction struct {
	UserAddress string  `json:"userAddress"`
	Stored      float64 `json:"stored"`
	Expected    float64 `json:"expected"`
}

type RecoveryService struct {
	lockRepo   *repository.LockPointsRepository
	pointsRepo *repository.PointsRepository
	backupRepo *repository.BackupRepository
}

func NewRecoveryService(
	lockRepo *repository.LockPointsRepository,
	pointsRepo *repository.PointsRepository,
	backupRepo *repository.BackupRepository,
) *RecoveryService {
	return &RecoveryService{
		lockRepo:   lockRepo,
		pointsRepo: pointsRepo,
		backupRepo: backupRepo,
	}
}

// Reconcile 以 lock_points 为准重算每个用户的总积分，修正有偏差的 user_points
// 有修正时先保存修正前的快照
func (s *RecoveryService) Reconcile(ctx context.Context) ([]Correction, error) {
	sums, err := s.lockRepo.SumByUser(ctx)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "汇总锁仓积分失败", err)
	}
	totals, err := s.pointsRepo.GetAll(ctx)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "读取用户积分失败", err)
	}

	expected := make(map[string]float64, len(sums))
	for _, sum := range sums {
		expected[sum.UserAddress] = points.Round2(sum.Total)
	}
	stored := make(map[string]float64, len(totals))
	for _, t := range totals {
		stored[t.UserAddress] = t.TotalPoints
		if _, ok := expected[t.UserAddress]; !ok {
			expected[t.UserAddress] = 0
		}
	}

	users := make([]string, 0, len(expected))
	for user := range expected {
		users = append(users, user)
	}
	sort.Strings(users)

	var pending []Correction
	for _, user := range users {
		want := expected[user]
		have, ok := stored[user]
		if ok && math.Abs(have-want) < reconcileTolerance {
			continue
		}
		pending = append(pending, Correction{
			UserAddress: user,
			Stored:      have,
			Expected:    want,
		})
	}

	if len(pending) > 0 {
		if err := s.backupPoints(ctx, stored); err != nil {
			return nil, errors.New(errors.ErrStore, "保存积分快照失败", err)
		}
	}

	// 候选列表来自事务外的读取，实际修正以行锁内的重算结果为准
	corrections := make([]Correction, 0, len(pending))
	for _, c := range pending {
		before, after, err := s.pointsRepo.RecomputeTotal(ctx, c.UserAddress)
		if err != nil {
			return corrections, errors.New(errors.ErrStore, "修正用户积分失败", err)
		}
		if math.Abs(before-after) < reconcileTolerance {
			continue
		}
		c.Stored = before
		c.Expected = points.Round2(after)
		corrections = append(corrections, c)

		logger.WithFields(map[string]interface{}{
			"user_address": c.UserAddress,
			"stored":       c.Stored,
			"expected":     c.Expected,
		}).Warn("用户总积分已修正")
	}

	logger.WithFields(map[string]interface{}{
		"users":     len(users),
		"corrected": len(corrections),
	}).Info("积分对账完成")

	return corrections, nil
}

func (s *RecoveryService) backupPoints(ctx context.Context, stored map[string]float64) error {
	backupData := make(models.JSONB, len(stored))
	for user, total := range stored {
		backupData[user] = total
	}

	return s.backupRepo.Create(ctx, &models.CalculationBackup{
		BackupType: models.BackupTypePointsSnapshot,
		BackupData: backupData,
	})
}
