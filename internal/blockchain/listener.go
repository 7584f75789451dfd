package blockchain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"lock-points-system/internal/config"
	"lock-points-system/pkg/logger"
)

// LogSource 监听器所需的链访问能力，*Client 满足此接口
type LogSource interface {
	GetConfirmBlockNumber(ctx context.Context) (int64, error)
	GetLockLogs(ctx context.Context, startBlock, endBlock int64) ([]types.Log, error)
}

// CursorStore 持久化监听进度，*repository.BlockRepository 满足此接口
type CursorStore interface {
	GetLastProcessed(ctx context.Context, chainName string) (int64, error)
	MarkProcessed(ctx context.Context, chainName string, blockNumber int64) error
}

// LockWatcher 轮询新的 TokensLocked 事件
// 有游标记录时从记录处继续，否则从当前确认高度开始；遗漏的锁仓由回填任务补齐
type LockWatcher struct {
	chainCfg     *config.ChainConfig
	source       LogSource
	cursor       CursorStore
	eventChan    chan *LockEvent
	stopChan     chan struct{}
	isProcessing int32
	lastBlock    int64
}

// 起始区块尚未确定
const unresolvedBlock int64 = -1

// NewLockWatcher cursor 可以为 nil，此时进度只保存在内存中
func NewLockWatcher(chainCfg *config.ChainConfig, source LogSource, cursor CursorStore) *LockWatcher {
	return &LockWatcher{
		chainCfg:  chainCfg,
		source:    source,
		cursor:    cursor,
		eventChan: make(chan *LockEvent, 1000),
		stopChan:  make(chan struct{}),
		lastBlock: unresolvedBlock,
	}
}

// Start 启动事件监听器，阻塞直到上下文取消或调用 Stop
func (w *LockWatcher) Start(ctx context.Context) {
	w.resolveStart(ctx)

	interval := time.Duration(w.chainCfg.PullInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"chain":       w.chainCfg.Name,
		"start_block": w.LastBlock(),
	}).Info("锁仓事件监听器已启动")

	for {
		select {
		case <-ctx.Done():
			logger.Info("事件监听器已停止：上下文已取消")
			return
		case <-w.stopChan:
			logger.Info("事件监听器已停止：收到停止信号")
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll 处理一次新区块；上一次未完成时直接跳过
func (w *LockWatcher) Poll(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.isProcessing, 0, 1) {
		logger.WithFields(map[string]interface{}{
			"chain": w.chainCfg.Name,
		}).Warn("上一次处理尚未完成，跳过本次触发")
		return
	}
	defer atomic.StoreInt32(&w.isProcessing, 0)

	if atomic.LoadInt64(&w.lastBlock) == unresolvedBlock && !w.resolveStart(ctx) {
		return
	}

	last := atomic.LoadInt64(&w.lastBlock)
	block, err := w.processNewBlocks(ctx, last)
	if err != nil {
		logger.Error("处理区块失败:", err)
		return
	}
	if block > last {
		atomic.StoreInt64(&w.lastBlock, block)
		if w.cursor != nil {
			if err := w.cursor.MarkProcessed(ctx, w.chainCfg.Name, block); err != nil {
				logger.Error("保存监听进度失败:", err)
			}
		}
	}
}

// resolveStart 失败时保持未确定状态，下次轮询重试，不会从 0 号区块开始扫描
func (w *LockWatcher) resolveStart(ctx context.Context) bool {
	head, err := w.startBlock(ctx)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"chain": w.chainCfg.Name,
		}).Warn("获取起始区块失败，下次轮询重试: ", err)
		return false
	}
	atomic.StoreInt64(&w.lastBlock, head)
	return true
}

func (w *LockWatcher) startBlock(ctx context.Context) (int64, error) {
	if w.cursor != nil {
		last, err := w.cursor.GetLastProcessed(ctx, w.chainCfg.Name)
		if err != nil {
			return 0, err
		}
		if last > 0 {
			return last, nil
		}
	}
	return w.source.GetConfirmBlockNumber(ctx)
}

// Stop 停止事件监听器
func (w *LockWatcher) Stop() {
	close(w.stopChan)
}

// Events 获取事件通道
func (w *LockWatcher) Events() <-chan *LockEvent {
	return w.eventChan
}

// LastBlock 返回已处理到的区块号，起始区块未确定时为 -1
func (w *LockWatcher) LastBlock() int64 {
	return atomic.LoadInt64(&w.lastBlock)
}

func (w *LockWatcher) processNewBlocks(ctx context.Context, lastBlock int64) (int64, error) {
	confirmed, err := w.source.GetConfirmBlockNumber(ctx)
	if err != nil {
		return lastBlock, err
	}
	if confirmed <= lastBlock {
		return lastBlock, nil
	}

	start := lastBlock + 1
	end := confirmed
	if size := w.chainCfg.LogChunkSize; size > 0 && end-start+1 > size {
		end = start + size - 1
	}

	logs, err := w.source.GetLockLogs(ctx, start, end)
	if err != nil {
		return lastBlock, err
	}

	for _, l := range logs {
		event, err := ParseTokensLockedLog(l)
		if err != nil {
			logger.Error("解析日志失败:", err)
			continue
		}

		select {
		case w.eventChan <- event:
		case <-ctx.Done():
			return lastBlock, ctx.Err()
		}
	}

	logger.WithFields(map[string]interface{}{
		"chain":       w.chainCfg.Name,
		"start_block": start,
		"end_block":   end,
		"logs_count":  len(logs),
	}).Debug("处理新区块")

	return end, nil
}
