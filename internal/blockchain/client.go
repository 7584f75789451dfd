package blockchain

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"lock-points-system/internal/config"
	"lock-points-system/pkg/errors"
	"lock-points-system/pkg/logger"
)

// Backend 节点访问接口，*ethclient.Client 满足此接口
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

type Client struct {
	chainCfg    *config.ChainConfig
	backend     Backend
	contract    common.Address
	callTimeout time.Duration
}

// NewClient 连接 RPC 节点并创建锁仓合约读取客户端
func NewClient(chainCfg *config.ChainConfig) (*Client, error) {
	client, err := ethclient.Dial(chainCfg.RPCURL)
	if err != nil {
		return nil, errors.New(errors.ErrChainUnavailable,
			fmt.Sprintf("连接RPC失败: %s", chainCfg.RPCURL), err)
	}
	return NewClientWithBackend(chainCfg, client), nil
}

// NewClientWithBackend 使用已有的节点连接创建客户端
func NewClientWithBackend(chainCfg *config.ChainConfig, backend Backend) *Client {
	return &Client{
		chainCfg:    chainCfg,
		backend:     backend,
		contract:    common.HexToAddress(chainCfg.ContractAddress),
		callTimeout: chainCfg.CallTimeoutDuration(),
	}
}

// Close 关闭区块链客户端连接
func (c *Client) Close() {
	c.backend.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// GetLatestBlockNumber 获取区块链最新区块号
func (c *Client) GetLatestBlockNumber(ctx context.Context) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.New(errors.ErrChainUnavailable, "获取最新区块失败", err)
	}
	return header.Number.Int64(), nil
}

// GetConfirmBlockNumber 获取已确认的最新区块号
// 应用确认区块阈值后返回
func (c *Client) GetConfirmBlockNumber(ctx context.Context) (int64, error) {
	latest, err := c.GetLatestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	confirmed := latest - int64(c.chainCfg.ConfirmationBlocks)
	if confirmed < 0 {
		confirmed = 0
	}

	return confirmed, nil
}

// GetLockLogs 获取指定区块范围内的 TokensLocked 事件日志
func (c *Client) GetLockLogs(ctx context.Context, startBlock, endBlock int64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(startBlock),
		ToBlock:   big.NewInt(endBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{TokensLockedTopic}},
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.New(errors.ErrChainUnavailable,
			fmt.Sprintf("过滤TokensLocked事件失败 [%d, %d]", startBlock, endBlock), err)
	}

	logger.WithFields(map[string]interface{}{
		"chain":       c.chainCfg.Name,
		"start_block": startBlock,
		"end_block":   endBlock,
		"logs_count":  len(logs),
	}).Debug("获取TokensLocked事件日志")

	return logs, nil
}

// ListLockCreationEvents 扫描从起始区块到最新区块的全部锁仓事件
// log_chunk_size > 0 时按区块分段请求，避免超出 RPC 节点的范围限制
func (c *Client) ListLockCreationEvents(ctx context.Context) ([]*LockEvent, error) {
	latest, err := c.GetLatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	start := c.chainCfg.StartBlock
	if start < 0 {
		start = 0
	}

	chunk := c.chainCfg.LogChunkSize
	if chunk <= 0 {
		chunk = latest - start + 1
	}

	var events []*LockEvent
	for from := start; from <= latest; from += chunk {
		to := from + chunk - 1
		if to > latest {
			to = latest
		}

		logs, err := c.GetLockLogs(ctx, from, to)
		if err != nil {
			return nil, err
		}

		for _, l := range logs {
			event, err := ParseTokensLockedLog(l)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"tx_hash": l.TxHash.Hex(),
				}).Warn("解析锁仓事件失败: ", err)
				continue
			}
			events = append(events, event)
		}
	}

	logger.WithFields(map[string]interface{}{
		"chain":        c.chainCfg.Name,
		"start_block":  start,
		"latest_block": latest,
		"events":       len(events),
	}).Info("锁仓事件扫描完成")

	return events, nil
}

// GetLockCount 获取用户创建过的锁仓数量（含已领取）
func (c *Client) GetLockCount(ctx context.Context, owner common.Address) (uint64, error) {
	values, err := c.call(ctx, c.contract, TokenLockerABI, "getUserLockCount", owner)
	if err != nil {
		return 0, errors.New(errors.ErrChainUnavailable,
			fmt.Sprintf("获取锁仓数量失败: %s", owner.Hex()), err)
	}
	count, ok := values[0].(*big.Int)
	if !ok {
		return 0, errors.New(errors.ErrChainUnavailable, "getUserLockCount 返回类型异常", nil)
	}
	return count.Uint64(), nil
}

// GetLock 按序号读取单笔锁仓，越界时合约 revert 返回 INVALID_INDEX
func (c *Client) GetLock(ctx context.Context, owner common.Address, index uint64) (*LockRecord, error) {
	values, err := c.call(ctx, c.contract, TokenLockerABI, "getLock", owner, new(big.Int).SetUint64(index))
	if err != nil {
		code := errors.ErrChainUnavailable
		if isRevert(err) {
			code = errors.ErrInvalidIndex
		}
		return nil, errors.New(code,
			fmt.Sprintf("读取锁仓失败: %s #%d", owner.Hex(), index), err)
	}
	if len(values) != 4 {
		return nil, errors.New(errors.ErrChainUnavailable, "getLock 返回字段数量异常", nil)
	}

	token, _ := values[0].(common.Address)
	amount, _ := values[1].(*big.Int)
	unlock, _ := values[2].(*big.Int)
	claimed, _ := values[3].(bool)
	if amount == nil || unlock == nil {
		return nil, errors.New(errors.ErrChainUnavailable, "getLock 返回类型异常", nil)
	}

	return &LockRecord{
		Owner:      owner,
		Token:      token,
		Amount:     amount,
		UnlockTime: unlock.Uint64(),
		Claimed:    claimed,
		Index:      index,
	}, nil
}

// GetTokenMetadata 读取 ERC-20 精度与符号，失败时回退为 18 位精度、空符号
func (c *Client) GetTokenMetadata(ctx context.Context, token common.Address) TokenMetadata {
	meta := TokenMetadata{Decimals: DefaultTokenDecimals}

	if values, err := c.call(ctx, token, ERC20ABI, "decimals"); err == nil {
		if d, ok := values[0].(uint8); ok {
			meta.Decimals = d
		}
	} else {
		logger.WithFields(map[string]interface{}{
			"token": token.Hex(),
		}).Warn("读取代币精度失败，使用默认值18: ", err)
	}

	if values, err := c.call(ctx, token, ERC20ABI, "symbol"); err == nil {
		if s, ok := values[0].(string); ok {
			meta.Symbol = s
		}
	} else {
		logger.WithFields(map[string]interface{}{
			"token": token.Hex(),
		}).Debug("读取代币符号失败: ", err)
	}

	return meta
}

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errEmptyReturn
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errEmptyReturn
	}
	return values, nil
}

var errEmptyReturn = stderrors.New("execution reverted: empty return data")

func isRevert(err error) bool {
	var rpcErr rpc.Error
	if stderrors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
