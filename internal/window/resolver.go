package window

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"campaignstat/internal/errors"
	"campaignstat/internal/explorer"
	"campaignstat/internal/retry"
	"campaignstat/pkg/models"

	"github.com/sirupsen/logrus"
)

// BlockLookup 按时间戳查询区块号
type BlockLookup interface {
	BlockNumberByTime(ctx context.Context, t time.Time, closest explorer.Closest) (uint64, error)
}

// Windows 一次报告计算使用的两个窗口
type Windows struct {
	Pre    models.CampaignWindow
	During models.CampaignWindow
}

// Resolver 窗口解析器
type Resolver struct {
	lookup      BlockLookup
	retrier     *retry.Retrier
	logger      *logrus.Logger
	callTimeout time.Duration
}

// NewResolver 创建窗口解析器
func NewResolver(lookup BlockLookup, retrier *retry.Retrier, logger *logrus.Logger, callTimeout time.Duration) *Resolver {
	return &Resolver{
		lookup:      lookup,
		retrier:     retrier,
		logger:      logger,
		callTimeout: callTimeout,
	}
}

// ValidateRanges 检查两段时间各自有效且活动前窗口严格早于活动期间窗口
func ValidateRanges(ranges models.CampaignRanges) error {
	pre, during := ranges.PreCampaign, ranges.DuringCampaign

	if !pre.From.Before(pre.To) {
		return errors.NewInvalidWindow(
			fmt.Sprintf("活动前窗口起止时间无效: %s >= %s", formatTime(pre.From), formatTime(pre.To)), nil)
	}
	if !during.From.Before(during.To) {
		return errors.NewInvalidWindow(
			fmt.Sprintf("活动期间窗口起止时间无效: %s >= %s", formatTime(during.From), formatTime(during.To)), nil)
	}
	if !pre.To.Before(during.From) {
		return errors.NewInvalidWindow(
			fmt.Sprintf("活动前窗口结束时间 %s 必须早于活动开始时间 %s",
				formatTime(pre.To), formatTime(during.From)), nil)
	}
	return nil
}

// RangesFromDuring 由调用方给出的活动期间推导活动前窗口：
// 紧邻活动开始之前、长度为preLength（<=0时与活动期间等长）
func RangesFromDuring(from, to time.Time, preLength time.Duration) (models.CampaignRanges, error) {
	if !from.Before(to) {
		return models.CampaignRanges{}, errors.NewInvalidWindow(
			fmt.Sprintf("活动起止时间无效: %s >= %s", formatTime(from), formatTime(to)), nil)
	}
	if preLength <= 0 {
		preLength = to.Sub(from)
	}

	ranges := models.CampaignRanges{
		PreCampaign: models.TimeRange{
			From: from.Add(-preLength),
			To:   from.Add(-time.Second),
		},
		DuringCampaign: models.TimeRange{From: from, To: to},
	}
	if err := ValidateRanges(ranges); err != nil {
		return models.CampaignRanges{}, err
	}
	return ranges, nil
}

// Resolve 校验时间范围并解析出对应的区块范围
func (r *Resolver) Resolve(ctx context.Context, ranges models.CampaignRanges) (*Windows, error) {
	if err := ValidateRanges(ranges); err != nil {
		return nil, err
	}

	pre, err := r.resolveWindow(ctx, "pre", ranges.PreCampaign)
	if err != nil {
		return nil, err
	}
	during, err := r.resolveWindow(ctx, "during", ranges.DuringCampaign)
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"pre_blocks":    fmt.Sprintf("%d-%d", pre.FromBlock, pre.ToBlock),
		"during_blocks": fmt.Sprintf("%d-%d", during.FromBlock, during.ToBlock),
	}).Debug("窗口解析完成")

	return &Windows{Pre: pre, During: during}, nil
}

func (r *Resolver) resolveWindow(ctx context.Context, name string, tr models.TimeRange) (models.CampaignWindow, error) {
	fromBlock, err := r.blockAt(ctx, tr.From, explorer.ClosestAfter)
	if err != nil {
		return models.CampaignWindow{}, r.lookupError(ctx, name, tr.From, err)
	}
	toBlock, err := r.blockAt(ctx, tr.To, explorer.ClosestBefore)
	if err != nil {
		return models.CampaignWindow{}, r.lookupError(ctx, name, tr.To, err)
	}

	if fromBlock > toBlock {
		return models.CampaignWindow{}, errors.NewInvalidWindow(
			fmt.Sprintf("%s 窗口内没有区块: fromBlock=%d > toBlock=%d", name, fromBlock, toBlock), nil)
	}

	return models.CampaignWindow{
		FromTime:  tr.From,
		ToTime:    tr.To,
		FromBlock: fromBlock,
		ToBlock:   toBlock,
	}, nil
}

func (r *Resolver) blockAt(ctx context.Context, t time.Time, closest explorer.Closest) (uint64, error) {
	var block uint64
	err := r.retrier.Execute(ctx, "getblocknobytime", func(ctx context.Context) error {
		callCtx := ctx
		if r.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
			defer cancel()
		}

		var err error
		block, err = r.lookup.BlockNumberByTime(callCtx, t, closest)
		return err
	})
	return block, err
}

// lookupError 区块查询失败视为窗口无效，调用方取消除外
func (r *Resolver) lookupError(ctx context.Context, name string, t time.Time, err error) error {
	if ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
		return err
	}
	return errors.NewInvalidWindow(
		fmt.Sprintf("%s 窗口无法解析时间 %s 对应的区块", name, formatTime(t)), err).
		WithContext("timestamp", t.Unix())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
