package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"campaignstat/internal/errors"
	"campaignstat/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// DefaultTokenDecimals 上游未给出精度时使用
const DefaultTokenDecimals = 18

var hashRegex = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")

// Validator 上游转账记录验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下value无法解析的记录也会被隔离
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                   `json:"valid"`
	Errors   []*errors.MetricsError `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

func (r *ValidationResult) fail(code, message, hash string) {
	r.Valid = false
	r.Errors = append(r.Errors,
		errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium, code, message).
			WithComponent("validation").
			WithContext("hash", hash))
}

// BatchResult 一页记录的验证结果
type BatchResult struct {
	Transactions []*models.Transaction
	Quarantined  int
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	return &Validator{
		logger:     logger,
		strictMode: strictMode,
	}
}

// ValidateTransfer 将原始记录转换为严格的Transaction结构
func (v *Validator) ValidateTransfer(raw models.RawTransfer) (*models.Transaction, *ValidationResult) {
	result := &ValidationResult{Valid: true}

	if !isValidHash(raw.Hash) {
		result.fail("INVALID_TX_HASH", "交易哈希格式无效", raw.Hash)
	}
	if !isValidAddress(raw.From) {
		result.fail("INVALID_FROM_ADDRESS", "发送方地址格式无效", raw.Hash)
	}
	if !isValidAddress(raw.To) {
		result.fail("INVALID_TO_ADDRESS", "接收方地址格式无效", raw.Hash)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(raw.TimeStamp), 10, 64)
	if err != nil || ts <= 0 {
		result.fail("INVALID_TIMESTAMP", "时间戳无效", raw.Hash)
	}

	blockNumber, err := strconv.ParseUint(strings.TrimSpace(raw.BlockNumber), 10, 64)
	if err != nil {
		result.fail("INVALID_BLOCK_NUMBER", "区块号无效", raw.Hash)
	}

	var value *big.Int
	if raw.Value != "" {
		parsed, ok := new(big.Int).SetString(raw.Value, 10)
		switch {
		case !ok || parsed.Sign() < 0:
			if v.strictMode {
				result.fail("INVALID_VALUE", "转账数量无效", raw.Hash)
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("转账数量无法解析: %q", raw.Value))
			}
		default:
			value = parsed
		}
	} else {
		result.Warnings = append(result.Warnings, "转账数量为空")
	}

	decimals := DefaultTokenDecimals
	if raw.TokenDecimal != "" {
		d, err := strconv.Atoi(raw.TokenDecimal)
		if err != nil || d < 0 || d > 77 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("代币精度无效: %q", raw.TokenDecimal))
		} else {
			decimals = d
		}
	}

	if !result.Valid {
		return nil, result
	}

	return &models.Transaction{
		Hash:         strings.ToLower(raw.Hash),
		From:         common.HexToAddress(raw.From),
		To:           common.HexToAddress(raw.To),
		Timestamp:    time.Unix(ts, 0).UTC(),
		BlockNumber:  blockNumber,
		Value:        value,
		TokenName:    raw.TokenName,
		TokenSymbol:  raw.TokenSymbol,
		TokenDecimal: decimals,
	}, result
}

// ValidateBatch 验证一页记录，无效记录被隔离并计数，不中断处理
func (v *Validator) ValidateBatch(raws []models.RawTransfer) *BatchResult {
	batch := &BatchResult{Transactions: make([]*models.Transaction, 0, len(raws))}

	for _, raw := range raws {
		tx, result := v.ValidateTransfer(raw)
		if !result.Valid {
			batch.Quarantined++
			v.logger.WithFields(logrus.Fields{
				"hash": raw.Hash,
				"code": result.Errors[0].Code,
			}).Warn("隔离无效转账记录")
			continue
		}
		if len(result.Warnings) > 0 {
			v.logger.Debugf("转账记录 %s 存在警告: %v", raw.Hash, result.Warnings)
		}
		batch.Transactions = append(batch.Transactions, tx)
	}

	return batch
}

// ValidateContractAddress 校验调用方传入的合约地址
func ValidateContractAddress(addr string) error {
	if addr == "" || !isValidAddress(addr) {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityLow,
			errors.CodeInvalidAddress, fmt.Sprintf("合约地址格式无效: %q", addr)).
			WithComponent("validation")
	}
	return nil
}

// NormalizeAddress 统一为EIP-55校验和格式
func NormalizeAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	return hashRegex.MatchString(hash)
}

// isValidAddress 验证地址格式
func isValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return false
	}
	return common.IsHexAddress(addr)
}
