package fetcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"campaignstat/internal/errors"
	"campaignstat/internal/explorer"
	"campaignstat/internal/logging"
	"campaignstat/internal/metrics"
	"campaignstat/internal/retry"
	"campaignstat/internal/validation"
	"campaignstat/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultCallTimeout 单次上游调用超时
const DefaultCallTimeout = 15 * time.Second

// TransferSource 分页转账数据源
type TransferSource interface {
	TokenTransfers(ctx context.Context, q explorer.PageQuery) ([]models.RawTransfer, error)
	PageSize() int
}

// Cursor 分页游标。Page从1开始，Exhausted表示上游已无数据
type Cursor struct {
	Page      int
	Exhausted bool
}

// Advance 前进到下一页
func (c Cursor) Advance() Cursor {
	return Cursor{Page: c.Page + 1}
}

// Finish 标记数据已取完
func (c Cursor) Finish() Cursor {
	return Cursor{Page: c.Page, Exhausted: true}
}

// Request 单个窗口的拉取请求
type Request struct {
	Window          string // pre / during，用于日志和指标
	ContractAddress string
	Blocks          models.BlockRange
	MaxPages        int
}

// Fetcher 分页拉取器。窗口内的分页严格顺序执行
type Fetcher struct {
	source      TransferSource
	validator   *validation.Validator
	retrier     *retry.Retrier
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	callTimeout time.Duration
}

// New 创建拉取器
func New(source TransferSource, validator *validation.Validator, retrier *retry.Retrier,
	logger *logrus.Logger, m *metrics.Metrics, callTimeout time.Duration) *Fetcher {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Fetcher{
		source:      source,
		validator:   validator,
		retrier:     retrier,
		logger:      logger,
		metrics:     m,
		callTimeout: callTimeout,
	}
}

// Fetch 拉取窗口内全部转账，直到上游返回空页、不满一页或达到页数上限
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*models.FetchResult, error) {
	if req.MaxPages < 1 {
		return nil, errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityLow,
			"INVALID_MAX_PAGES", fmt.Sprintf("maxPages必须大于0: %d", req.MaxPages)).
			WithComponent("fetcher")
	}

	log := logging.NewFetchLogger(f.logger, req.ContractAddress, req.Window)
	log.WithFields(logrus.Fields{
		"from_block": req.Blocks.FromBlock,
		"to_block":   req.Blocks.ToBlock,
		"max_pages":  req.MaxPages,
	}).Debug("开始分页拉取")

	result := &models.FetchResult{Transactions: make([]*models.Transaction, 0)}
	cursor := Cursor{Page: 1}

	for !cursor.Exhausted {
		if result.PagesFetched >= req.MaxPages {
			result.Truncated = true
			break
		}

		raws, err := f.fetchPage(ctx, req, cursor.Page)
		if stderrors.Is(err, explorer.ErrResultWindowExceeded) {
			log.Warnf("第 %d 页超出上游结果窗口，按截断处理", cursor.Page)
			result.Truncated = true
			break
		}
		if err != nil {
			return nil, err
		}

		if len(raws) == 0 {
			cursor = cursor.Finish()
			continue
		}

		batch := f.validator.ValidateBatch(raws)
		result.Transactions = append(result.Transactions, batch.Transactions...)
		result.Quarantined += batch.Quarantined
		result.PagesFetched++
		f.metrics.ObservePage(req.Window, len(batch.Transactions), batch.Quarantined)

		// 不满一页说明已是最后一页
		if len(raws) < f.source.PageSize() {
			cursor = cursor.Finish()
			continue
		}
		cursor = cursor.Advance()
	}

	if result.Truncated {
		f.metrics.ObserveTruncated(req.Window)
	}

	log.WithFields(logrus.Fields{
		"pages":        result.PagesFetched,
		"transactions": len(result.Transactions),
		"quarantined":  result.Quarantined,
		"truncated":    result.Truncated,
	}).Info("分页拉取完成")

	return result, nil
}

// fetchPage 带重试和单次超时地获取一页
func (f *Fetcher) fetchPage(ctx context.Context, req Request, page int) ([]models.RawTransfer, error) {
	query := explorer.PageQuery{
		ContractAddress: req.ContractAddress,
		Range:           req.Blocks,
		Page:            page,
		Offset:          f.source.PageSize(),
	}

	var raws []models.RawTransfer
	operation := fmt.Sprintf("tokentx/%s/page-%d", req.Window, page)

	err := f.retrier.Execute(ctx, operation, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
		defer cancel()

		var err error
		raws, err = f.source.TokenTransfers(callCtx, query)
		return err
	})

	var exhausted *retry.ExhaustedError
	if stderrors.As(err, &exhausted) {
		f.metrics.ObserveRetryExhausted(req.Window)
		return nil, errors.NewUpstreamUnavailable(
			fmt.Sprintf("第 %d 页在 %d 次尝试后仍不可用", page, exhausted.Attempts), exhausted.Err).
			WithContext("window", req.Window).
			WithContext("page", page)
	}
	return raws, err
}
