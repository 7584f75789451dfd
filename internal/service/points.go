package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"lock-points-system/internal/blockchain"
	"lock-points-system/internal/metrics"
	"lock-points-system/internal/models"
	"lock-points-system/internal/points"
	"lock-points-system/pkg/errors"
	"lock-points-system/pkg/logger"
)

const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

// RawAmount 最小单位的代币数量，JSON 中可以是字符串或数字
type RawAmount struct {
	*big.Int
}

func (a *RawAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		a.Int = nil
		return nil
	}

	s := string(data)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)

	r, ok := new(big.Rat).SetString(s)
	if !ok || !r.IsInt() || r.Sign() < 0 {
		return fmt.Errorf("invalid token amount %q", s)
	}
	a.Int = new(big.Int).Set(r.Num())
	return nil
}

// ScoreLockRequest 单笔锁仓计分请求
type ScoreLockRequest struct {
	UserAddress       string    `json:"userAddress"`
	LockIndex         uint64    `json:"lockIndex"`
	TokenAddress      string    `json:"tokenAddress"`
	TokenAmount       RawAmount `json:"tokenAmount"`
	TokenDecimals     *uint8    `json:"tokenDecimals"`
	DurationInSeconds int64     `json:"durationInSeconds"`
}

type ScoreLockResult struct {
	PointsEarned   float64 `json:"pointsEarned"`
	UsdValue       float64 `json:"usdValue"`
	DurationInDays int     `json:"durationInDays"`
}

type PointsService struct {
	oracle   PriceOracle
	calc     *points.Calculator
	locks    LockStore
	totals   TotalsStore
	notifier Notifier
	metrics  *metrics.PointsMetrics
}

func NewPointsService(
	oracle PriceOracle,
	calc *points.Calculator,
	locks LockStore,
	totals TotalsStore,
	m *metrics.PointsMetrics,
) *PointsService {
	return &PointsService{
		oracle:  oracle,
		calc:    calc,
		locks:   locks,
		totals:  totals,
		metrics: m,
	}
}

func (s *PointsService) SetNotifier(n Notifier) {
	s.notifier = n
}

// ScoreLock 为前端刚创建的锁仓计分
// 时长取请求中的精确秒数；写入为覆盖语义，总积分只累加差值，重试不会重复计分
func (s *PointsService) ScoreLock(ctx context.Context, req ScoreLockRequest) (*ScoreLockResult, error) {
	user, err := blockchain.ParseAddress(req.UserAddress)
	if err != nil {
		return nil, errors.New(errors.ErrInvalidInput, "用户地址无效", err)
	}
	token, err := blockchain.ParseAddress(req.TokenAddress)
	if err != nil {
		return nil, errors.New(errors.ErrInvalidInput, "代币地址无效", err)
	}
	if req.TokenAmount.Int == nil {
		return nil, errors.New(errors.ErrInvalidInput, "缺少代币数量", nil)
	}
	if req.DurationInSeconds < 0 {
		return nil, errors.New(errors.ErrInvalidInput, "锁仓时长不能为负", nil)
	}

	decimals := blockchain.DefaultTokenDecimals
	if req.TokenDecimals != nil {
		decimals = *req.TokenDecimals
	}

	price, priced := s.oracle.GetUSDPrice(ctx, token, "")
	duration := s.calc.ExactDuration(req.DurationInSeconds)
	amount := points.TokenAmount(req.TokenAmount.Int, decimals)
	award := s.calc.Compute(amount, duration.Days, price, priced)

	userAddress := blockchain.NormalizeAddress(user)
	rec := &models.LockPoints{
		UserAddress:       userAddress,
		LockIndex:         req.LockIndex,
		TokenAddress:      blockchain.NormalizeAddress(token),
		TokenAmount:       points.FormatTokenAmount(req.TokenAmount.Int, decimals),
		TokenDecimals:     decimals,
		LockDurationDays:  award.DurationDays,
		DurationEstimated: duration.Estimated,
		UsdValue:          points.Round2(award.UsdValue),
		PointsEarned:      award.PointsEarned,
	}
	if req.DurationInSeconds > 0 {
		unlock := time.Now().UTC().Add(time.Duration(req.DurationInSeconds) * time.Second)
		rec.UnlockTime = &unlock
	}

	delta, err := s.locks.Upsert(ctx, rec)
	if err != nil {
		s.metrics.ObserveLock("error", 0)
		return nil, errors.New(errors.ErrStore, "保存锁仓积分失败", err)
	}
	s.metrics.ObserveLock("processed", delta)

	logger.WithFields(map[string]interface{}{
		"user_address":  userAddress,
		"lock_index":    req.LockIndex,
		"usd_value":     award.UsdValue,
		"duration_days": award.DurationDays,
		"points_earned": award.PointsEarned,
		"delta":         delta,
	}).Info("单笔锁仓积分已计算")

	notifyPoints(ctx, s.notifier, s.totals, userAddress, req.LockIndex, award.PointsEarned)

	return &ScoreLockResult{
		PointsEarned:   award.PointsEarned,
		UsdValue:       award.UsdValue,
		DurationInDays: award.DurationDays,
	}, nil
}

// GetUserPoints 获取用户总积分，未计分的用户返回零值记录
func (s *PointsService) GetUserPoints(ctx context.Context, address string) (*models.UserPoints, error) {
	user, err := blockchain.ParseAddress(address)
	if err != nil {
		return nil, errors.New(errors.ErrInvalidInput, "用户地址无效", err)
	}
	userAddress := blockchain.NormalizeAddress(user)

	row, err := s.totals.GetByUser(ctx, userAddress)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "查询用户积分失败", err)
	}
	if row == nil {
		return &models.UserPoints{UserAddress: userAddress}, nil
	}
	return row, nil
}

func (s *PointsService) ListUserLocks(ctx context.Context, address string) ([]models.LockPoints, error) {
	user, err := blockchain.ParseAddress(address)
	if err != nil {
		return nil, errors.New(errors.ErrInvalidInput, "用户地址无效", err)
	}

	locks, err := s.locks.ListByUser(ctx, blockchain.NormalizeAddress(user), 0)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "查询锁仓积分失败", err)
	}
	return locks, nil
}

// Leaderboard 按总积分降序返回前 limit 名，limit 超界时取默认值或上限
func (s *PointsService) Leaderboard(ctx context.Context, limit int) ([]models.UserPoints, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	if limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}

	top, err := s.totals.Top(ctx, limit)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "查询排行榜失败", err)
	}
	return top, nil
}
