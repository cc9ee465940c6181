package engine

import (
	"context"
	"fmt"
	"time"

	"campaignstat/internal/aggregate"
	"campaignstat/internal/errors"
	"campaignstat/internal/explorer"
	"campaignstat/internal/fetcher"
	"campaignstat/internal/logging"
	"campaignstat/internal/metrics"
	"campaignstat/internal/report"
	"campaignstat/internal/retry"
	"campaignstat/internal/validation"
	"campaignstat/internal/window"
	"campaignstat/pkg/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options 引擎参数，全部由调用方显式注入
type Options struct {
	MaxPages         int                `json:"max_pages" mapstructure:"max_pages"`
	ExactDedupLimit  int                `json:"exact_dedup_limit" mapstructure:"exact_dedup_limit"` // 超过该交易数时用HyperLogLog估算
	IncludePreDaily  bool               `json:"include_pre_daily" mapstructure:"include_pre_daily"`
	PreWindowLength  time.Duration      `json:"pre_window_length" mapstructure:"pre_window_length"` // 只给出活动期间时的活动前窗口长度，0表示等长
	StrictValidation bool               `json:"strict_validation" mapstructure:"strict_validation"`
	Retry            *retry.RetryConfig `json:"retry" mapstructure:"retry"`
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	retryConfig := *retry.UpstreamRetryConfig
	return Options{
		MaxPages:        10,
		ExactDedupLimit: 1_000_000,
		IncludePreDaily: false,
		Retry:           &retryConfig,
	}
}

// Request 一次报告计算请求
type Request struct {
	CampaignID      string
	ContractAddress string
	Ranges          models.CampaignRanges
	MaxPages        int // 0表示使用默认上限
}

// Engine 活动指标计算引擎，可被多个请求并发使用
type Engine struct {
	resolver     *window.Resolver
	fetcher      *fetcher.Fetcher
	opts         Options
	logger       *logrus.Logger
	metrics      *metrics.Metrics
	errorHandler *errors.ErrorHandler
	now          func() time.Time
}

// New 使用已构建的解析器和拉取器创建引擎
func New(resolver *window.Resolver, f *fetcher.Fetcher, opts Options, logger *logrus.Logger,
	m *metrics.Metrics, handler *errors.ErrorHandler) *Engine {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultOptions().MaxPages
	}
	if handler == nil {
		handler = errors.NewErrorHandler(logger)
	}
	return &Engine{
		resolver:     resolver,
		fetcher:      f,
		opts:         opts,
		logger:       logger,
		metrics:      m,
		errorHandler: handler,
		now:          time.Now,
	}
}

// NewWithClient 基于浏览器API客户端组装完整流水线
func NewWithClient(client *explorer.Client, opts Options, logger *logrus.Logger,
	m *metrics.Metrics, handler *errors.ErrorHandler) *Engine {
	retrier := retry.NewRetrier(opts.Retry, logger)
	validator := validation.NewValidator(logger, opts.StrictValidation)

	resolver := window.NewResolver(client, retrier, logger, client.Timeout())
	f := fetcher.New(client, validator, retrier, logger, m, client.Timeout())
	return New(resolver, f, opts, logger, m, handler)
}

// Options 当前参数
func (e *Engine) Options() Options {
	return e.opts
}

// RequestFromCampaign 由已登记的活动生成请求
func RequestFromCampaign(c *models.Campaign, maxPages int) Request {
	return Request{
		CampaignID:      c.ID,
		ContractAddress: c.ContractAddress,
		Ranges:          c.Ranges,
		MaxPages:        maxPages,
	}
}

// RequestFromDates 由调用方给出的活动起止时间生成请求，活动前窗口紧邻其前
func (e *Engine) RequestFromDates(contract string, from, to time.Time, maxPages int) (Request, error) {
	ranges, err := window.RangesFromDuring(from, to, e.opts.PreWindowLength)
	if err != nil {
		return Request{}, e.errorHandler.HandleError(err)
	}
	return Request{
		ContractAddress: contract,
		Ranges:          ranges,
		MaxPages:        maxPages,
	}, nil
}

// Compute 计算一份活动前后对比报告。任一窗口失败时取消另一个并返回错误，不返回部分报告
func (e *Engine) Compute(ctx context.Context, req Request) (*models.CampaignReport, error) {
	start := e.now()
	defer e.metrics.TrackComputation()()

	rep, err := e.compute(ctx, req)
	if err != nil {
		e.metrics.ObserveReport("error", time.Since(start))
		return nil, e.errorHandler.HandleError(err)
	}

	outcome := "success"
	if rep.DataCollection.Truncated {
		outcome = "truncated"
	}
	e.metrics.ObserveReport(outcome, time.Since(start))
	return rep, nil
}

func (e *Engine) compute(ctx context.Context, req Request) (*models.CampaignReport, error) {
	if err := validation.ValidateContractAddress(req.ContractAddress); err != nil {
		return nil, err
	}
	contract := validation.NormalizeAddress(req.ContractAddress)

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = e.opts.MaxPages
	}

	log := logging.NewReportLogger(e.logger, contract)
	if req.CampaignID != "" {
		log = log.WithField("campaign", req.CampaignID)
	}

	windows, err := e.resolver.Resolve(ctx, req.Ranges)
	if err != nil {
		return nil, err
	}

	var preResult, duringResult *models.FetchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := e.fetcher.Fetch(gctx, fetcher.Request{
			Window:          "pre",
			ContractAddress: contract,
			Blocks:          windows.Pre.Blocks(),
			MaxPages:        maxPages,
		})
		if err != nil {
			return fmt.Errorf("拉取活动前窗口失败: %w", err)
		}
		preResult = r
		return nil
	})
	g.Go(func() error {
		r, err := e.fetcher.Fetch(gctx, fetcher.Request{
			Window:          "during",
			ContractAddress: contract,
			Blocks:          windows.During.Blocks(),
			MaxPages:        maxPages,
		})
		if err != nil {
			return fmt.Errorf("拉取活动期间窗口失败: %w", err)
		}
		duringResult = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	preCount, preApprox := aggregate.CountWallets(preResult.Transactions, e.opts.ExactDedupLimit)
	duringCount, duringApprox := aggregate.CountWallets(duringResult.Transactions, e.opts.ExactDedupLimit)

	summary := aggregate.ComputeSummary(preCount, duringCount)
	summary.Approximate = preApprox || duringApprox

	token := aggregate.TokenIdentity(contract, duringResult.Transactions, preResult.Transactions)

	in := report.Input{
		CampaignID:  req.CampaignID,
		Token:       token,
		Pre:         windows.Pre,
		During:      windows.During,
		PreFetch:    preResult,
		DuringFetch: duringResult,
		Summary:     summary,
		DailyData:   aggregate.Bucketize(duringResult.Transactions, windows.During.Range()),
		Metrics:     extraMetrics(token, preResult.Transactions, duringResult.Transactions),
		MaxPages:    maxPages,
		GeneratedAt: e.now(),
	}
	if e.opts.IncludePreDaily {
		in.PreDailyData = aggregate.Bucketize(preResult.Transactions, windows.Pre.Range())
	}

	rep := report.Assemble(in)

	entry := log.WithFields(logrus.Fields{
		"pre_wallets":    preCount,
		"during_wallets": duringCount,
		"transactions":   rep.DataCollection.TransactionsAnalyzed.Total,
		"truncated":      rep.DataCollection.Truncated,
	})
	if rep.DataCollection.Truncated {
		entry.Warn("报告计算完成，数据被页数上限截断，计数为下限")
	} else {
		entry.Info("报告计算完成")
	}

	return rep, nil
}

func extraMetrics(token models.TokenInfo, pre, during []*models.Transaction) models.ExtraMetrics {
	return models.ExtraMetrics{
		TransactionVolume: models.VolumeMetric{
			PreCampaign:    aggregate.TransferVolume(pre, token.Decimals).String(),
			DuringCampaign: aggregate.TransferVolume(during, token.Decimals).String(),
			Unit:           token.Symbol,
			Description:    "窗口内代币转账总量",
		},
		NewTokenHolders: models.CountMetric{
			Value:       aggregate.NewTokenHolders(pre, during),
			Description: "活动期间首次收到代币的地址数",
		},
	}
}
