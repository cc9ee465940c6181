package aggregate

import (
	"campaignstat/pkg/models"

	"github.com/axiomhq/hyperloglog"
	"github.com/ethereum/go-ethereum/common"
)

// ActiveWalletsName 汇总指标名
const ActiveWalletsName = "Active Wallets"

// ActiveWalletsDescription 汇总指标说明
const ActiveWalletsDescription = "与合约发生转账的不同钱包地址数（发送方或接收方）"

// CountDistinctWallets 精确统计发送方或接收方出现过的不同地址数
func CountDistinctWallets(txs []*models.Transaction) int {
	seen := make(map[common.Address]struct{})
	for _, tx := range txs {
		seen[tx.From] = struct{}{}
		seen[tx.To] = struct{}{}
	}
	return len(seen)
}

// EstimateDistinctWallets 使用HyperLogLog估算不同地址数，内存与地址数无关
func EstimateDistinctWallets(txs []*models.Transaction) int {
	sketch := hyperloglog.New16()
	for _, tx := range txs {
		sketch.Insert(tx.From.Bytes())
		sketch.Insert(tx.To.Bytes())
	}
	return int(sketch.Estimate())
}

// CountWallets 交易数不超过exactLimit时精确计数，否则估算。exactLimit<=0表示总是精确计数
func CountWallets(txs []*models.Transaction, exactLimit int) (count int, approximate bool) {
	if exactLimit <= 0 || len(txs) <= exactLimit {
		return CountDistinctWallets(txs), false
	}
	return EstimateDistinctWallets(txs), true
}

// ChangePercent 变化百分比。pre为0时返回nil；unbounded表示从0增长
func ChangePercent(pre, during int) (percent *float64, unbounded bool) {
	if pre == 0 {
		return nil, during > 0
	}
	p := float64(during-pre) / float64(pre) * 100
	return &p, false
}

// ComputeSummary 生成活跃钱包前后对比
func ComputeSummary(pre, during int) models.WalletSummary {
	percent, unbounded := ChangePercent(pre, during)
	return models.WalletSummary{
		Name:            ActiveWalletsName,
		PreCampaign:     pre,
		DuringCampaign:  during,
		ChangePercent:   percent,
		ChangeUnbounded: unbounded,
		Description:     ActiveWalletsDescription,
	}
}

// NewTokenHolders 活动期间首次收到代币的地址数（不在活动前窗口的接收方中）
func NewTokenHolders(pre, during []*models.Transaction) int {
	before := make(map[common.Address]struct{})
	for _, tx := range pre {
		before[tx.To] = struct{}{}
	}

	fresh := make(map[common.Address]struct{})
	for _, tx := range during {
		if _, ok := before[tx.To]; ok {
			continue
		}
		fresh[tx.To] = struct{}{}
	}
	return len(fresh)
}
