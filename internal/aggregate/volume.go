package aggregate

import (
	"campaignstat/pkg/models"

	"github.com/shopspring/decimal"
)

const (
	defaultTokenName     = "Unknown Token"
	defaultTokenSymbol   = "TOKEN"
	defaultTokenDecimals = 18
)

// TransferVolume 转账总量，按代币精度换算
func TransferVolume(txs []*models.Transaction, decimals int) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Value == nil {
			continue
		}
		total = total.Add(decimal.NewFromBigInt(tx.Value, 0))
	}
	return total.Shift(int32(-decimals))
}

// TokenIdentity 从第一笔有代币信息的转账中取代币标识，缺失时使用默认值
func TokenIdentity(contract string, windows ...[]*models.Transaction) models.TokenInfo {
	info := models.TokenInfo{
		Name:            defaultTokenName,
		Symbol:          defaultTokenSymbol,
		Decimals:        defaultTokenDecimals,
		ContractAddress: contract,
	}

	for _, txs := range windows {
		for _, tx := range txs {
			if tx.TokenName == "" && tx.TokenSymbol == "" {
				continue
			}
			if tx.TokenName != "" {
				info.Name = tx.TokenName
			}
			if tx.TokenSymbol != "" {
				info.Symbol = tx.TokenSymbol
			}
			info.Decimals = tx.TokenDecimal
			return info
		}
	}
	return info
}
