package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lock-points-system/internal/blockchain"
	"lock-points-system/internal/metrics"
	"lock-points-system/internal/models"
	"lock-points-system/internal/points"
	"lock-points-system/pkg/errors"
	"lock-points-system/pkg/logger"
)

type BackfillState string

const (
	StateIdle             BackfillState = "idle"
	StateScanning         BackfillState = "scanning"
	StateEnumeratingUsers BackfillState = "enumerating_users"
	StateScoringLocks     BackfillState = "scoring_locks"
	StateDone             BackfillState = "done"
	StateFailed           BackfillState = "failed"
)

// Stats 一次回填的计数，Processed+Skipped+Errors 覆盖所有尝试过的锁仓
type Stats struct {
	TotalUsers  int `json:"totalUsers"`
	TotalEvents int `json:"totalEvents"`
	Processed   int `json:"processed"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

func (s Stats) toJSONB() models.JSONB {
	return models.JSONB{
		"totalUsers":  s.TotalUsers,
		"totalEvents": s.TotalEvents,
		"processed":   s.Processed,
		"skipped":     s.Skipped,
		"errors":      s.Errors,
	}
}

type Status struct {
	State      BackfillState     `json:"state"`
	Trigger    models.RunTrigger `json:"trigger,omitempty"`
	StartedAt  *time.Time        `json:"startedAt,omitempty"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	Stats      Stats             `json:"stats"`
	Error      string            `json:"error,omitempty"`
}

type lockOutcome string

const (
	outcomeProcessed lockOutcome = "processed"
	outcomeSkipped   lockOutcome = "skipped"
	outcomeError     lockOutcome = "error"
)

type BackfillService struct {
	chain    ChainReader
	oracle   PriceOracle
	calc     *points.Calculator
	locks    LockStore
	totals   TotalsStore
	runs     RunStore
	notifier Notifier
	metrics  *metrics.PointsMetrics

	running int32
	mu      sync.RWMutex
	status  Status
}

func NewBackfillService(
	chain ChainReader,
	oracle PriceOracle,
	calc *points.Calculator,
	locks LockStore,
	totals TotalsStore,
	runs RunStore,
	m *metrics.PointsMetrics,
) *BackfillService {
	return &BackfillService{
		chain:   chain,
		oracle:  oracle,
		calc:    calc,
		locks:   locks,
		totals:  totals,
		runs:    runs,
		metrics: m,
		status:  Status{State: StateIdle},
	}
}

func (s *BackfillService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Run 扫描全部锁仓事件并为未计分的锁仓补记积分
// 扫描失败时整次回填失败；单个用户或单笔锁仓的错误只计数，不会中断回填
// 同一进程内同时只允许一次回填，否则返回 BACKFILL_RUNNING
func (s *BackfillService) Run(ctx context.Context, trigger models.RunTrigger) (Stats, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return Stats{}, errors.New(errors.ErrBackfillRunning, "回填任务正在执行", nil)
	}
	defer atomic.StoreInt32(&s.running, 0)

	startedAt := time.Now().UTC()
	var stats Stats
	s.begin(trigger, startedAt)

	logger.WithFields(map[string]interface{}{
		"trigger": trigger,
	}).Info("开始回填锁仓积分")

	events, err := s.chain.ListLockCreationEvents(ctx)
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = errors.New(errors.ErrChainUnavailable, "扫描锁仓事件失败", err)
		}
		s.finish(ctx, trigger, startedAt, stats, err)
		return stats, err
	}
	stats.TotalEvents = len(events)
	s.transition(StateEnumeratingUsers, stats)

	owners := uniqueOwners(events)
	stats.TotalUsers = len(owners)
	s.transition(StateScoringLocks, stats)

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			s.finish(ctx, trigger, startedAt, stats, err)
			return stats, err
		}
		s.scoreOwner(ctx, owner, &stats)
		s.transition(StateScoringLocks, stats)
	}

	s.finish(ctx, trigger, startedAt, stats, nil)
	return stats, nil
}

// ScoreOwner 只为一个用户补记积分，供事件监听器使用
func (s *BackfillService) ScoreOwner(ctx context.Context, owner common.Address) Stats {
	stats := Stats{TotalUsers: 1}
	s.scoreOwner(ctx, owner, &stats)
	return stats
}

func (s *BackfillService) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *BackfillService) RecentRuns(ctx context.Context, limit int) ([]models.BackfillRun, error) {
	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "查询回填记录失败", err)
	}
	return runs, nil
}

func (s *BackfillService) scoreOwner(ctx context.Context, owner common.Address, stats *Stats) {
	userAddress := blockchain.NormalizeAddress(owner)

	count, err := s.chain.GetLockCount(ctx, owner)
	if err != nil {
		stats.Errors++
		logger.WithFields(map[string]interface{}{
			"user_address": userAddress,
			"error":        err,
		}).Error("获取用户锁仓数量失败")
		return
	}

	for index := uint64(0); index < count; index++ {
		outcome, earned, err := s.scoreLock(ctx, owner, index)
		s.metrics.ObserveLock(string(outcome), earned)

		switch outcome {
		case outcomeProcessed:
			stats.Processed++
		case outcomeSkipped:
			stats.Skipped++
		default:
			stats.Errors++
			logger.WithFields(map[string]interface{}{
				"user_address": userAddress,
				"lock_index":   index,
				"error":        err,
			}).Error("锁仓计分失败")
		}
	}
}

func (s *BackfillService) scoreLock(ctx context.Context, owner common.Address, index uint64) (lockOutcome, float64, error) {
	userAddress := blockchain.NormalizeAddress(owner)

	exists, err := s.locks.Exists(ctx, userAddress, index)
	if err != nil {
		return outcomeError, 0, errors.New(errors.ErrStore, "检查锁仓积分失败", err)
	}
	if exists {
		return outcomeSkipped, 0, nil
	}

	lock, err := s.chain.GetLock(ctx, owner, index)
	if err != nil {
		return outcomeError, 0, err
	}

	meta := s.chain.GetTokenMetadata(ctx, lock.Token)
	price, priced := s.oracle.GetUSDPrice(ctx, lock.Token, meta.Symbol)

	unlock := time.Unix(int64(lock.UnlockTime), 0).UTC()
	duration := s.calc.EstimateDuration(unlock)
	award := s.calc.Compute(points.TokenAmount(lock.Amount, meta.Decimals), duration.Days, price, priced)

	rec := &models.LockPoints{
		UserAddress:       userAddress,
		LockIndex:         index,
		TokenAddress:      blockchain.NormalizeAddress(lock.Token),
		TokenSymbol:       meta.Symbol,
		TokenAmount:       points.FormatTokenAmount(lock.Amount, meta.Decimals),
		TokenDecimals:     meta.Decimals,
		LockDurationDays:  award.DurationDays,
		DurationEstimated: duration.Estimated,
		UnlockTime:        &unlock,
		UsdValue:          points.Round2(award.UsdValue),
		PointsEarned:      award.PointsEarned,
	}

	if err := s.locks.Insert(ctx, rec); err != nil {
		if errors.HasCode(err, errors.ErrStoreConflict) {
			return outcomeSkipped, 0, nil
		}
		return outcomeError, 0, errors.New(errors.ErrStore, "写入锁仓积分失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"user_address":  userAddress,
		"lock_index":    index,
		"token":         rec.TokenAddress,
		"usd_value":     award.UsdValue,
		"points_earned": award.PointsEarned,
	}).Debug("锁仓积分已补记")

	notifyPoints(ctx, s.notifier, s.totals, userAddress, index, award.PointsEarned)
	return outcomeProcessed, award.PointsEarned, nil
}

func (s *BackfillService) begin(trigger models.RunTrigger, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{
		State:     StateScanning,
		Trigger:   trigger,
		StartedAt: &startedAt,
	}
}

func (s *BackfillService) transition(state BackfillState, stats Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.Stats = stats
}

// finish 记录终态、持久化本次回填并更新指标
func (s *BackfillService) finish(ctx context.Context, trigger models.RunTrigger, startedAt time.Time, stats Stats, runErr error) {
	finishedAt := time.Now().UTC()
	state := StateDone
	runState := models.RunStateDone
	errMsg := ""
	if runErr != nil {
		state = StateFailed
		runState = models.RunStateFailed
		errMsg = runErr.Error()
	}

	s.mu.Lock()
	s.status.State = state
	s.status.Stats = stats
	s.status.FinishedAt = &finishedAt
	s.status.Error = errMsg
	s.mu.Unlock()

	s.metrics.ObserveBackfill(string(state), finishedAt.Sub(startedAt))

	run := &models.BackfillRun{
		Trigger:    trigger,
		State:      runState,
		Stats:      stats.toJSONB(),
		Error:      errMsg,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	// 上下文可能已取消，回填记录仍需写入
	if err := s.runs.Create(context.WithoutCancel(ctx), run); err != nil {
		logger.WithFields(map[string]interface{}{
			"error": err,
		}).Error("保存回填记录失败")
	}

	fields := map[string]interface{}{
		"trigger":      trigger,
		"state":        state,
		"total_users":  stats.TotalUsers,
		"total_events": stats.TotalEvents,
		"processed":    stats.Processed,
		"skipped":      stats.Skipped,
		"errors":       stats.Errors,
		"took":         finishedAt.Sub(startedAt).String(),
	}
	if runErr != nil {
		fields["error"] = runErr
		logger.WithFields(fields).Error("回填失败")
		return
	}
	logger.WithFields(fields).Info("回填完成")
}

// uniqueOwners 按首次出现顺序去重
func uniqueOwners(events []*blockchain.LockEvent) []common.Address {
	seen := make(map[common.Address]struct{}, len(events))
	owners := make([]common.Address, 0, len(events))
	for _, ev := range events {
		if _, ok := seen[ev.Owner]; ok {
			continue
		}
		seen[ev.Owner] = struct{}{}
		owners = append(owners, ev.Owner)
	}
	return owners
}
