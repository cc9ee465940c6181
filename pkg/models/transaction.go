package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Transaction 代币转账记录（从浏览器API校验后得到的严格结构）
type Transaction struct {
	Hash        string         `json:"hash"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Timestamp   time.Time      `json:"timestamp"`
	BlockNumber uint64         `json:"block_number"`

	// 代币信息，仅用于补充指标
	Value        *big.Int `json:"value,omitempty"`
	TokenName    string   `json:"token_name,omitempty"`
	TokenSymbol  string   `json:"token_symbol,omitempty"`
	TokenDecimal int      `json:"token_decimal"`
}

// RawTransfer 浏览器API返回的原始转账记录，字段均为字符串
type RawTransfer struct {
	BlockNumber  string `json:"blockNumber"`
	TimeStamp    string `json:"timeStamp"`
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	TokenName    string `json:"tokenName"`
	TokenSymbol  string `json:"tokenSymbol"`
	TokenDecimal string `json:"tokenDecimal"`
}

// BlockRange 区块范围（闭区间）
type BlockRange struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
}

// FetchResult 单个窗口的分页拉取结果
type FetchResult struct {
	Transactions []*Transaction `json:"-"`
	PagesFetched int            `json:"pagesFetched"`
	// 达到页数上限时为true，此时计数只是下限
	Truncated bool `json:"truncated"`
	// 未通过校验被隔离的原始记录数
	Quarantined int `json:"quarantined"`
}
