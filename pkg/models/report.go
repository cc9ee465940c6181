package models

import "time"

// DateLayout 日桶日期格式
const DateLayout = "2006-01-02"

// TokenInfo 代币标识
type TokenInfo struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        int    `json:"decimals"`
	ContractAddress string `json:"contractAddress"`
}

// PeriodBounds 时间边界（RFC3339）
type PeriodBounds struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// BlockBounds 区块边界
type BlockBounds struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// CampaignPeriod 两个窗口的时间边界
type CampaignPeriod struct {
	PreCampaign    PeriodBounds `json:"preCampaign"`
	DuringCampaign PeriodBounds `json:"duringCampaign"`
}

// CampaignBlocks 两个窗口的区块边界
type CampaignBlocks struct {
	PreCampaign    BlockBounds `json:"preCampaign"`
	DuringCampaign BlockBounds `json:"duringCampaign"`
}

// CampaignInfo 报告中的活动信息
type CampaignInfo struct {
	ID     string         `json:"id,omitempty"`
	Token  TokenInfo      `json:"token"`
	Period CampaignPeriod `json:"period"`
	Blocks CampaignBlocks `json:"blocks"`
}

// WalletSummary 活跃钱包前后对比
type WalletSummary struct {
	Name           string `json:"name"`
	PreCampaign    int    `json:"preCampaign"`
	DuringCampaign int    `json:"duringCampaign"`
	// 活动前为0时为nil
	ChangePercent *float64 `json:"changePercent"`
	// 活动前为0且活动期间大于0
	ChangeUnbounded bool `json:"changeUnbounded"`
	// 超过精确去重上限时使用HyperLogLog估算
	Approximate bool   `json:"approximate"`
	Description string `json:"description"`
}

// DailyDataPoint 单日计数
type DailyDataPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// WindowPair 按窗口区分的整数值
type WindowPair struct {
	PreCampaign    int `json:"preCampaign"`
	DuringCampaign int `json:"duringCampaign"`
}

// TransactionsAnalyzed 分析的交易数
type TransactionsAnalyzed struct {
	PreCampaign    int `json:"preCampaign"`
	DuringCampaign int `json:"duringCampaign"`
	Total          int `json:"total"`
}

// DataCollection 数据采集来源信息
type DataCollection struct {
	MaxPages             int                  `json:"maxPages"`
	PagesFetched         WindowPair           `json:"pagesFetched"`
	Truncated            bool                 `json:"truncated"`
	TruncatedWindows     []string             `json:"truncatedWindows,omitempty"`
	Quarantined          WindowPair           `json:"quarantined"`
	TransactionsAnalyzed TransactionsAnalyzed `json:"transactionsAnalyzed"`
}

// VolumeMetric 转账量
type VolumeMetric struct {
	PreCampaign    string `json:"preCampaign"`
	DuringCampaign string `json:"duringCampaign"`
	Unit           string `json:"unit"`
	Description    string `json:"description"`
}

// CountMetric 计数指标
type CountMetric struct {
	Value       int    `json:"value"`
	Description string `json:"description"`
}

// ExtraMetrics 补充指标
type ExtraMetrics struct {
	TransactionVolume VolumeMetric `json:"transactionVolume"`
	NewTokenHolders   CountMetric  `json:"newTokenHolders"`
}

// CampaignReport 活动前后对比报告
type CampaignReport struct {
	ID                   string           `json:"id,omitempty"`
	Campaign             CampaignInfo     `json:"campaign"`
	Summary              WalletSummary    `json:"summary"`
	DailyData            []DailyDataPoint `json:"dailyData"`
	PreCampaignDailyData []DailyDataPoint `json:"preCampaignDailyData,omitempty"`
	Metrics              ExtraMetrics     `json:"metrics"`
	DataCollection       DataCollection   `json:"dataCollection"`
	LastUpdated          time.Time        `json:"lastUpdated"`
}
