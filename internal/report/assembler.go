package report

import (
	"time"

	"campaignstat/pkg/models"
)

// Input 组装报告所需的全部结果
type Input struct {
	CampaignID   string
	Token        models.TokenInfo
	Pre          models.CampaignWindow
	During       models.CampaignWindow
	PreFetch     *models.FetchResult
	DuringFetch  *models.FetchResult
	Summary      models.WalletSummary
	DailyData    []models.DailyDataPoint
	PreDailyData []models.DailyDataPoint
	Metrics      models.ExtraMetrics
	MaxPages     int
	GeneratedAt  time.Time
}

// Assemble 组装报告，不做任何可能失败的计算
func Assemble(in Input) *models.CampaignReport {
	pre := fetchOrEmpty(in.PreFetch)
	during := fetchOrEmpty(in.DuringFetch)

	var truncated []string
	if pre.Truncated {
		truncated = append(truncated, "preCampaign")
	}
	if during.Truncated {
		truncated = append(truncated, "duringCampaign")
	}

	daily := in.DailyData
	if daily == nil {
		daily = []models.DailyDataPoint{}
	}

	generated := in.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	return &models.CampaignReport{
		Campaign: models.CampaignInfo{
			ID:    in.CampaignID,
			Token: in.Token,
			Period: models.CampaignPeriod{
				PreCampaign:    periodOf(in.Pre),
				DuringCampaign: periodOf(in.During),
			},
			Blocks: models.CampaignBlocks{
				PreCampaign:    models.BlockBounds{From: in.Pre.FromBlock, To: in.Pre.ToBlock},
				DuringCampaign: models.BlockBounds{From: in.During.FromBlock, To: in.During.ToBlock},
			},
		},
		Summary:              in.Summary,
		DailyData:            daily,
		PreCampaignDailyData: in.PreDailyData,
		Metrics:              in.Metrics,
		DataCollection: models.DataCollection{
			MaxPages: in.MaxPages,
			PagesFetched: models.WindowPair{
				PreCampaign:    pre.PagesFetched,
				DuringCampaign: during.PagesFetched,
			},
			Truncated:        pre.Truncated || during.Truncated,
			TruncatedWindows: truncated,
			Quarantined: models.WindowPair{
				PreCampaign:    pre.Quarantined,
				DuringCampaign: during.Quarantined,
			},
			TransactionsAnalyzed: models.TransactionsAnalyzed{
				PreCampaign:    len(pre.Transactions),
				DuringCampaign: len(during.Transactions),
				Total:          len(pre.Transactions) + len(during.Transactions),
			},
		},
		LastUpdated: generated.UTC(),
	}
}

func fetchOrEmpty(r *models.FetchResult) *models.FetchResult {
	if r == nil {
		return &models.FetchResult{}
	}
	return r
}

func periodOf(w models.CampaignWindow) models.PeriodBounds {
	return models.PeriodBounds{
		From: w.FromTime.UTC().Format(time.RFC3339),
		To:   w.ToTime.UTC().Format(time.RFC3339),
	}
}
