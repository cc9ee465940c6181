package models

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange 时间范围
type TimeRange struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// Duration 范围长度
func (r TimeRange) Duration() time.Duration {
	return r.To.Sub(r.From)
}

// CampaignRanges 活动的两段时间范围
type CampaignRanges struct {
	PreCampaign    TimeRange `json:"preCampaign" yaml:"pre_campaign"`
	DuringCampaign TimeRange `json:"duringCampaign" yaml:"during_campaign"`
}

// Campaign 已登记的活动
type Campaign struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	ContractAddress string         `json:"contractAddress" yaml:"contract_address"`
	Ranges          CampaignRanges `json:"ranges" yaml:",inline"`
}

// CampaignWindow 时间范围及其对应的区块范围，创建后不可修改
type CampaignWindow struct {
	FromTime  time.Time `json:"fromTime"`
	ToTime    time.Time `json:"toTime"`
	FromBlock uint64    `json:"fromBlock"`
	ToBlock   uint64    `json:"toBlock"`
}

// Blocks 窗口的区块范围
func (w CampaignWindow) Blocks() BlockRange {
	return BlockRange{FromBlock: w.FromBlock, ToBlock: w.ToBlock}
}

// Range 窗口的时间范围
func (w CampaignWindow) Range() TimeRange {
	return TimeRange{From: w.FromTime, To: w.ToTime}
}

// ParseDate 解析 2006-01-02 或 RFC3339 时间并转为UTC。纯日期且endOfDay时取当天最后一秒
func ParseDate(value string, endOfDay bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}

	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("无法解析日期 %q，应为 YYYY-MM-DD 或 RFC3339", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
