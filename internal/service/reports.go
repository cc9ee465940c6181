package service

import (
	"context"
	stderrors "errors"
	"time"

	"campaignstat/internal/campaign"
	"campaignstat/internal/engine"
	"campaignstat/internal/errors"
	"campaignstat/internal/output"
	"campaignstat/internal/store"
	"campaignstat/internal/validation"
	"campaignstat/pkg/models"

	"github.com/sirupsen/logrus"
)

// ReportService 计算、保存并发布活动报告
type ReportService struct {
	engine    *engine.Engine
	store     *store.ReportStore
	campaigns campaign.Store
	output    output.Output
	logger    *logrus.Logger
}

// NewReportService 创建报告服务，campaigns为nil表示未配置活动来源，out为nil表示不发布
func NewReportService(e *engine.Engine, s *store.ReportStore, campaigns campaign.Store,
	out output.Output, logger *logrus.Logger) *ReportService {
	return &ReportService{
		engine:    e,
		store:     s,
		campaigns: campaigns,
		output:    out,
		logger:    logger,
	}
}

// Generate 计算报告后保存并发布。保存失败返回错误，发布失败只记录日志
func (s *ReportService) Generate(ctx context.Context, req engine.Request) (*models.CampaignReport, error) {
	rep, err := s.engine.Compute(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Save(rep); err != nil {
		return nil, err
	}

	if s.output != nil {
		if err := s.output.WriteReport(rep); err != nil {
			s.logger.WithError(err).WithField("report_id", rep.ID).Warn("发布报告失败")
		}
	}
	return rep, nil
}

// GenerateForDates 按活动起止时间计算报告
func (s *ReportService) GenerateForDates(ctx context.Context, contract string, from, to time.Time,
	maxPages int) (*models.CampaignReport, error) {
	req, err := s.engine.RequestFromDates(contract, from, to, maxPages)
	if err != nil {
		return nil, err
	}
	return s.Generate(ctx, req)
}

// GenerateForCampaign 按已登记的活动计算报告
func (s *ReportService) GenerateForCampaign(ctx context.Context, id string, maxPages int) (*models.CampaignReport, error) {
	c, err := s.Campaign(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Generate(ctx, engine.RequestFromCampaign(c, maxPages))
}

// CampaignReport 返回活动已保存的报告，没有或refresh时重新计算
func (s *ReportService) CampaignReport(ctx context.Context, id string, refresh bool) (*models.CampaignReport, error) {
	if !refresh {
		rep, err := s.store.GetByCampaign(id)
		if err == nil {
			return rep, nil
		}
		if !stderrors.Is(err, errors.ErrReportNotFound) || s.campaigns == nil {
			return nil, err
		}
	}
	return s.GenerateForCampaign(ctx, id, 0)
}

// Campaign 查找活动定义
func (s *ReportService) Campaign(ctx context.Context, id string) (*models.Campaign, error) {
	if s.campaigns == nil {
		return nil, errors.ErrCampaignNotFound.Clone().
			WithContext("campaign", id).
			WithContext("reason", "未配置活动来源")
	}
	return s.campaigns.Get(ctx, id)
}

// Campaigns 列出全部活动，未配置活动来源时返回空列表
func (s *ReportService) Campaigns(ctx context.Context) ([]*models.Campaign, error) {
	if s.campaigns == nil {
		return []*models.Campaign{}, nil
	}
	return s.campaigns.List(ctx)
}

// Report 按ID读取已保存的报告
func (s *ReportService) Report(id string) (*models.CampaignReport, error) {
	return s.store.Get(id)
}

// Reports 列出合约已保存的报告
func (s *ReportService) Reports(contract string, from, to time.Time) ([]*models.CampaignReport, error) {
	if err := validation.ValidateContractAddress(contract); err != nil {
		return nil, err
	}
	return s.store.ListByContract(contract, from, to)
}

// Stats 存储统计
func (s *ReportService) Stats() map[string]interface{} {
	return s.store.GetStats()
}
