package blockchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const tokenLockerABIJSON = `[
  {"type":"event","name":"TokensLocked","anonymous":false,"inputs":[
    {"indexed":true,"name":"user","type":"address"},
    {"indexed":true,"name":"token","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"},
    {"indexed":false,"name":"unlockTime","type":"uint256"}]},
  {"type":"function","name":"getUserLockCount","stateMutability":"view",
    "inputs":[{"name":"user","type":"address"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getLock","stateMutability":"view",
    "inputs":[{"name":"user","type":"address"},{"name":"index","type":"uint256"}],
    "outputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},
               {"name":"unlockTime","type":"uint256"},{"name":"claimed","type":"bool"}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"string"}]}
]`

var (
	TokenLockerABI = mustParseABI(tokenLockerABIJSON)
	ERC20ABI       = mustParseABI(erc20ABIJSON)

	// TokensLockedTopic 锁仓事件签名哈希
	TokensLockedTopic = TokenLockerABI.Events["TokensLocked"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
