package blockchain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"lock-points-system/pkg/errors"
)

// LockEvent 链上 TokensLocked 事件
type LockEvent struct {
	Owner      common.Address
	Token      common.Address
	Amount     *big.Int
	UnlockTime uint64
	TxHash     string
	BlockNum   int64
}

// LockRecord 合约 getLock 返回的单笔锁仓快照
type LockRecord struct {
	Owner      common.Address
	Token      common.Address
	Amount     *big.Int
	UnlockTime uint64
	Claimed    bool
	Index      uint64
}

// TokenMetadata ERC-20 元数据，Symbol 为空表示未知
type TokenMetadata struct {
	Decimals uint8
	Symbol   string
}

const DefaultTokenDecimals uint8 = 18

// ParseTokensLockedLog 解析失败统一返回 EVENT_PARSE_ERROR
func ParseTokensLockedLog(log types.Log) (*LockEvent, error) {
	event, err := parseTokensLockedLog(log)
	if err != nil {
		return nil, errors.New(errors.ErrEventParse, "解析 TokensLocked 事件失败", err)
	}
	return event, nil
}

func parseTokensLockedLog(log types.Log) (*LockEvent, error) {
	if len(log.Topics) < 3 {
		return nil, ErrInvalidLogFormat
	}
	if log.Topics[0] != TokensLockedTopic {
		return nil, ErrUnexpectedTopic
	}

	values, err := TokenLockerABI.Unpack("TokensLocked", log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack TokensLocked data: %w", err)
	}
	if len(values) != 2 {
		return nil, ErrInvalidLogFormat
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, ErrInvalidLogFormat
	}
	unlock, ok := values[1].(*big.Int)
	if !ok {
		return nil, ErrInvalidLogFormat
	}

	return &LockEvent{
		Owner:      common.BytesToAddress(log.Topics[1].Bytes()),
		Token:      common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:     amount,
		UnlockTime: unlock.Uint64(),
		TxHash:     log.TxHash.Hex(),
		BlockNum:   int64(log.BlockNumber),
	}, nil
}

// NormalizeAddress 统一为小写十六进制，积分账本以此为键
func NormalizeAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ParseAddress 校验并解析十六进制地址
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %q", s)
	}
	return common.HexToAddress(s), nil
}

var (
	ErrInvalidLogFormat = &InvalidLogFormatError{}
	ErrUnexpectedTopic  = fmt.Errorf("log is not a TokensLocked event")
)

type InvalidLogFormatError struct{}

func (e *InvalidLogFormatError) Error() string {
	return "invalid log format: insufficient topics or data"
}
