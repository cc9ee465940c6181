package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"campaignstat/internal/errors"
	"campaignstat/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/reports.db"

	// 存储桶名称
	ReportsBucket       = "reports"
	WindowIndexBucket   = "window_index"
	CampaignIndexBucket = "campaign_index"
	StatsBucket         = "stats"

	// 统计键
	SaveCountKey    = "save_count"
	LastSaveTimeKey = "last_save_time"
)

// ReportStore 基于BoltDB的报告存储。同一合约、同一时间窗口的报告覆盖更新
type ReportStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.Mutex
	now    func() time.Time
}

// NewReportStore 打开或创建报告数据库
func NewReportStore(dbPath string, logger *logrus.Logger) (*ReportStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开报告数据库失败: %w", err)
	}

	s := &ReportStore{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		now:    time.Now,
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("报告存储已初始化，数据库路径: %s", dbPath)
	return s, nil
}

// initDB 初始化数据库结构
func (s *ReportStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ReportsBucket, WindowIndexBucket, CampaignIndexBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// windowKey 合约+活动期间+活动前起点，决定覆盖更新的粒度
func windowKey(r *models.CampaignReport) []byte {
	p := r.Campaign.Period
	return []byte(strings.ToLower(r.Campaign.Token.ContractAddress) + "|" +
		p.DuringCampaign.From + "|" + p.DuringCampaign.To + "|" + p.PreCampaign.From)
}

// Save 保存报告并返回ID。已存在相同窗口的报告时沿用其ID并覆盖
func (s *ReportStore) Save(r *models.CampaignReport) (string, error) {
	if r == nil {
		return "", errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityLow,
			"EMPTY_REPORT", "报告为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		reports := tx.Bucket([]byte(ReportsBucket))
		index := tx.Bucket([]byte(WindowIndexBucket))
		campaigns := tx.Bucket([]byte(CampaignIndexBucket))
		stats := tx.Bucket([]byte(StatsBucket))

		key := windowKey(r)
		if existing := index.Get(key); existing != nil {
			r.ID = string(existing)
		} else if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.LastUpdated = now

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("序列化报告失败: %w", err)
		}
		if err := reports.Put([]byte(r.ID), data); err != nil {
			return fmt.Errorf("保存报告失败: %w", err)
		}
		if err := index.Put(key, []byte(r.ID)); err != nil {
			return fmt.Errorf("保存窗口索引失败: %w", err)
		}
		if r.Campaign.ID != "" {
			if err := campaigns.Put([]byte(r.Campaign.ID), []byte(r.ID)); err != nil {
				return fmt.Errorf("保存活动索引失败: %w", err)
			}
		}

		var count uint64
		if v := stats.Get([]byte(SaveCountKey)); v != nil {
			count = binary.BigEndian.Uint64(v)
		}
		countData := make([]byte, 8)
		binary.BigEndian.PutUint64(countData, count+1)
		if err := stats.Put([]byte(SaveCountKey), countData); err != nil {
			return err
		}
		if timeData, err := json.Marshal(now); err == nil {
			stats.Put([]byte(LastSaveTimeKey), timeData)
		}
		return nil
	})
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityHigh,
			"REPORT_SAVE_FAILED", "保存报告失败")
	}

	s.logger.WithFields(logrus.Fields{
		"report_id": r.ID,
		"contract":  r.Campaign.Token.ContractAddress,
	}).Debug("报告已保存")
	return r.ID, nil
}

// Get 按ID读取报告
func (s *ReportStore) Get(id string) (*models.CampaignReport, error) {
	var report *models.CampaignReport
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		report, err = decode(tx.Bucket([]byte(ReportsBucket)).Get([]byte(id)))
		return err
	})
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, errors.ErrReportNotFound.Clone().WithContext("id", id)
	}
	return report, nil
}

// GetByCampaign 读取活动最近一次保存的报告
func (s *ReportStore) GetByCampaign(campaignID string) (*models.CampaignReport, error) {
	var report *models.CampaignReport
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(CampaignIndexBucket)).Get([]byte(campaignID))
		if id == nil {
			return nil
		}
		var err error
		report, err = decode(tx.Bucket([]byte(ReportsBucket)).Get(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, errors.ErrReportNotFound.Clone().WithContext("campaign", campaignID)
	}
	return report, nil
}

// ListByContract 列出合约的报告，按活动开始时间升序。
// from/to非零时只返回活动期间与 [from, to] 有交集的报告
func (s *ReportStore) ListByContract(contract string, from, to time.Time) ([]*models.CampaignReport, error) {
	prefix := []byte(strings.ToLower(contract) + "|")
	reports := make([]*models.CampaignReport, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(ReportsBucket))
		c := tx.Bucket([]byte(WindowIndexBucket)).Cursor()

		for k, id := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, id = c.Next() {
			report, err := decode(data.Get(id))
			if err != nil {
				return err
			}
			if report == nil || !overlaps(report, from, to) {
				continue
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Campaign.Period.DuringCampaign.From < reports[j].Campaign.Period.DuringCampaign.From
	})
	return reports, nil
}

func overlaps(r *models.CampaignReport, from, to time.Time) bool {
	start, err1 := time.Parse(time.RFC3339, r.Campaign.Period.DuringCampaign.From)
	end, err2 := time.Parse(time.RFC3339, r.Campaign.Period.DuringCampaign.To)
	if err1 != nil || err2 != nil {
		return from.IsZero() && to.IsZero()
	}
	if !from.IsZero() && end.Before(from) {
		return false
	}
	if !to.IsZero() && start.After(to) {
		return false
	}
	return true
}

func decode(data []byte) (*models.CampaignReport, error) {
	if data == nil {
		return nil, nil
	}
	var r models.CampaignReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityMedium,
			"REPORT_DECODE_FAILED", "解析已保存的报告失败")
	}
	return &r, nil
}

// GetDBPath 获取数据库路径
func (s *ReportStore) GetDBPath() string {
	return s.dbPath
}

// GetStats 获取统计信息
func (s *ReportStore) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"db_path": s.dbPath,
	}

	_ = s.db.View(func(tx *bolt.Tx) error {
		stats["reports"] = tx.Bucket([]byte(ReportsBucket)).Stats().KeyN

		b := tx.Bucket([]byte(StatsBucket))
		if v := b.Get([]byte(SaveCountKey)); v != nil {
			stats["save_count"] = binary.BigEndian.Uint64(v)
		}
		if v := b.Get([]byte(LastSaveTimeKey)); v != nil {
			var t time.Time
			if err := json.Unmarshal(v, &t); err == nil {
				stats["last_save_time"] = t.Format(time.RFC3339)
			}
		}
		return nil
	})

	return stats
}

// Close 关闭存储
func (s *ReportStore) Close() error {
	if s.db != nil {
		s.logger.Info("关闭报告存储")
		return s.db.Close()
	}
	return nil
}
