package app

import (
	"context"
	"fmt"

	"campaignstat/internal/campaign"
	"campaignstat/internal/config"
	"campaignstat/internal/engine"
	"campaignstat/internal/errors"
	"campaignstat/internal/explorer"
	"campaignstat/internal/metrics"
	"campaignstat/internal/output"
	"campaignstat/internal/service"
	"campaignstat/internal/store"

	"github.com/sirupsen/logrus"
)

// App 按配置组装的全部组件
type App struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
	Errors    *errors.ErrorHandler
	Engine    *engine.Engine
	Store     *store.ReportStore
	Campaigns campaign.Store
	Output    output.Output
	Reports   *service.ReportService

	closers []func() error
}

// New 组装组件，失败时关闭已创建的资源
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Errors:  errors.NewErrorHandler(logger),
	}

	client := explorer.NewClient(cfg.Explorer, logger, a.Metrics)
	a.Engine = engine.NewWithClient(client, cfg.Engine, logger, a.Metrics, a.Errors)

	reports, err := store.NewReportStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("打开报告存储失败: %w", err)
	}
	a.Store = reports
	a.closers = append(a.closers, reports.Close)

	campaigns, err := openCampaigns(ctx, cfg.Campaigns, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if campaigns != nil {
		a.Campaigns = campaigns
		a.closers = append(a.closers, campaigns.Close)
	}

	out, err := output.NewOutput(cfg.Output, logger, a.Metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("创建输出器失败: %w", err)
	}
	a.Output = out
	a.closers = append(a.closers, out.Close)

	a.Reports = service.NewReportService(a.Engine, a.Store, a.Campaigns, a.Output, logger)

	logger.WithFields(logrus.Fields{
		"explorer":  cfg.Explorer.BaseURL,
		"max_pages": cfg.Engine.MaxPages,
		"output":    cfg.Output.Type,
		"campaigns": cfg.Campaigns.Source,
	}).Info("组件初始化完成")
	return a, nil
}

func openCampaigns(ctx context.Context, cfg *config.CampaignsConfig, logger *logrus.Logger) (campaign.Store, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Source {
	case config.CampaignSourceFile:
		s, err := campaign.NewFileStore(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("加载活动文件失败: %w", err)
		}
		return s, nil
	case config.CampaignSourcePostgres:
		s, err := campaign.NewPostgresStore(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接活动数据库失败: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

// Close 按创建的相反顺序释放资源
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
