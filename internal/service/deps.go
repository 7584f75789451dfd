package service

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lock-points-system/internal/blockchain"
	"lock-points-system/internal/models"
)

// ChainReader 锁仓合约与 ERC-20 的只读访问，*blockchain.Client 满足此接口
type ChainReader interface {
	ListLockCreationEvents(ctx context.Context) ([]*blockchain.LockEvent, error)
	GetLockCount(ctx context.Context, owner common.Address) (uint64, error)
	GetLock(ctx context.Context, owner common.Address, index uint64) (*blockchain.LockRecord, error)
	GetTokenMetadata(ctx context.Context, token common.Address) blockchain.TokenMetadata
}

// PriceOracle 尽力而为的 USD 报价，拿不到价格时返回 false
type PriceOracle interface {
	GetUSDPrice(ctx context.Context, token common.Address, symbol string) (float64, bool)
}

// LockStore 锁仓积分账本，*repository.LockPointsRepository 满足此接口
type LockStore interface {
	Exists(ctx context.Context, userAddress string, lockIndex uint64) (bool, error)
	Insert(ctx context.Context, rec *models.LockPoints) error
	Upsert(ctx context.Context, rec *models.LockPoints) (float64, error)
	ListByUser(ctx context.Context, userAddress string, limit int) ([]models.LockPoints, error)
}

// TotalsStore 用户累计积分，*repository.PointsRepository 满足此接口
type TotalsStore interface {
	GetByUser(ctx context.Context, userAddress string) (*models.UserPoints, error)
	Top(ctx context.Context, limit int) ([]models.UserPoints, error)
}

type RunStore interface {
	Create(ctx context.Context, run *models.BackfillRun) error
	ListRecent(ctx context.Context, limit int) ([]models.BackfillRun, error)
}

// PointsUpdate 一笔锁仓计分后推送给订阅方的消息
type PointsUpdate struct {
	Type         string    `json:"type"`
	UserAddress  string    `json:"userAddress"`
	LockIndex    uint64    `json:"lockIndex"`
	PointsEarned float64   `json:"pointsEarned"`
	TotalPoints  float64   `json:"totalPoints"`
	At           time.Time `json:"at"`
}

const PointsUpdatedType = "points.updated"

type Notifier interface {
	NotifyPoints(update PointsUpdate)
}

// notifyPoints 读取最新总积分并推送，失败只记录日志
func notifyPoints(ctx context.Context, n Notifier, totals TotalsStore, userAddress string, lockIndex uint64, earned float64) {
	if n == nil {
		return
	}
	update := PointsUpdate{
		Type:         PointsUpdatedType,
		UserAddress:  userAddress,
		LockIndex:    lockIndex,
		PointsEarned: earned,
		At:           time.Now().UTC(),
	}
	if row, err := totals.GetByUser(ctx, userAddress); err == nil && row != nil {
		update.TotalPoints = row.TotalPoints
	}
	n.NotifyPoints(update)
}
