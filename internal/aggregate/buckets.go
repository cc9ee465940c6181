package aggregate

import (
	"time"

	"campaignstat/pkg/models"
)

// truncateDay 取UTC日期
func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysInRange 窗口覆盖的UTC自然日数（含首尾）
func DaysInRange(tr models.TimeRange) int {
	first, last := truncateDay(tr.From), truncateDay(tr.To)
	if last.Before(first) {
		return 0
	}
	return int(last.Sub(first).Hours()/24) + 1
}

// Bucketize 按UTC自然日统计交易数，窗口内每天一个点，无交易的日期计0，按日期升序。
// 日期不在窗口内的交易被忽略，输入顺序不影响结果
func Bucketize(txs []*models.Transaction, tr models.TimeRange) []models.DailyDataPoint {
	days := DaysInRange(tr)
	if days == 0 {
		return []models.DailyDataPoint{}
	}

	first := truncateDay(tr.From)
	counts := make([]int, days)
	for _, tx := range txs {
		idx := int(truncateDay(tx.Timestamp).Sub(first).Hours() / 24)
		if idx < 0 || idx >= days {
			continue
		}
		counts[idx]++
	}

	points := make([]models.DailyDataPoint, days)
	for i := range counts {
		points[i] = models.DailyDataPoint{
			Date:  first.AddDate(0, 0, i).Format(models.DateLayout),
			Count: counts[i],
		}
	}
	return points
}
