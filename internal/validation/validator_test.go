package validation

import (
	"strings"
	"testing"
	"time"

	"campaignstat/internal/errors"
	"campaignstat/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() models.RawTransfer {
	return models.RawTransfer{
		BlockNumber:  "18000000",
		TimeStamp:    "1704067200",
		Hash:         "0x" + strings.Repeat("ab", 32),
		From:         "0x1234567890abcdef1234567890abcdef12345678",
		To:           "0xabcdef1234567890abcdef1234567890abcdef12",
		Value:        "1500000000000000000",
		TokenName:    "Example",
		TokenSymbol:  "EXM",
		TokenDecimal: "18",
	}
}

func TestValidateTransfer_Valid(t *testing.T) {
	v := NewValidator(logrus.New(), false)

	tx, result := v.ValidateTransfer(validRaw())
	require.True(t, result.Valid)
	require.NotNil(t, tx)

	assert.Equal(t, common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"), tx.From)
	assert.Equal(t, uint64(18000000), tx.BlockNumber)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tx.Timestamp)
	assert.Equal(t, "1500000000000000000", tx.Value.String())
	assert.Equal(t, 18, tx.TokenDecimal)
	assert.Equal(t, "EXM", tx.TokenSymbol)
}

func TestValidateTransfer_Invalid(t *testing.T) {
	v := NewValidator(logrus.New(), false)

	tests := []struct {
		name   string
		mutate func(r *models.RawTransfer)
		code   string
	}{
		{"bad hash", func(r *models.RawTransfer) { r.Hash = "0x1234" }, "INVALID_TX_HASH"},
		{"missing from", func(r *models.RawTransfer) { r.From = "" }, "INVALID_FROM_ADDRESS"},
		{"bad to", func(r *models.RawTransfer) { r.To = "0xnothex" }, "INVALID_TO_ADDRESS"},
		{"no timestamp", func(r *models.RawTransfer) { r.TimeStamp = "" }, "INVALID_TIMESTAMP"},
		{"bad block", func(r *models.RawTransfer) { r.BlockNumber = "-1" }, "INVALID_BLOCK_NUMBER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)

			tx, result := v.ValidateTransfer(raw)
			assert.Nil(t, tx)
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.code, result.Errors[0].Code)
			assert.Equal(t, errors.ErrorTypeValidation, result.Errors[0].Type)
		})
	}
}

func TestValidateTransfer_ValueStrictness(t *testing.T) {
	raw := validRaw()
	raw.Value = "not-a-number"

	tx, result := NewValidator(logrus.New(), false).ValidateTransfer(raw)
	require.True(t, result.Valid)
	assert.Nil(t, tx.Value)
	assert.NotEmpty(t, result.Warnings)

	tx, result = NewValidator(logrus.New(), true).ValidateTransfer(raw)
	assert.False(t, result.Valid)
	assert.Nil(t, tx)
}

func TestValidateTransfer_DefaultDecimals(t *testing.T) {
	raw := validRaw()
	raw.TokenDecimal = ""

	tx, result := NewValidator(logrus.New(), false).ValidateTransfer(raw)
	require.True(t, result.Valid)
	assert.Equal(t, DefaultTokenDecimals, tx.TokenDecimal)
}

func TestValidateBatch_Quarantine(t *testing.T) {
	v := NewValidator(logrus.New(), false)

	bad := validRaw()
	bad.From = "garbage"

	batch := v.ValidateBatch([]models.RawTransfer{validRaw(), bad, validRaw()})
	assert.Len(t, batch.Transactions, 2)
	assert.Equal(t, 1, batch.Quarantined)
}

func TestValidateContractAddress(t *testing.T) {
	assert.NoError(t, ValidateContractAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"))

	for _, addr := range []string{"", "dAC17F958D2ee523a2206206994597C13D831ec7", "0x123", "0xzzC17F958D2ee523a2206206994597C13D831ec7"} {
		err := ValidateContractAddress(addr)
		require.Error(t, err, addr)
		me, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.CodeInvalidAddress, me.Code)
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		NormalizeAddress("0xdac17f958d2ee523a2206206994597c13d831ec7"))
}
