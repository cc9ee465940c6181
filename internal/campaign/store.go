package campaign

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"campaignstat/internal/errors"
	"campaignstat/internal/validation"
	"campaignstat/internal/window"
	"campaignstat/pkg/models"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Store 活动定义来源
type Store interface {
	Get(ctx context.Context, id string) (*models.Campaign, error)
	List(ctx context.Context) ([]*models.Campaign, error)
	Close() error
}

// notFound 返回带活动ID的未找到错误
func notFound(id string) error {
	return errors.ErrCampaignNotFound.Clone().WithContext("campaign", id)
}

// check 校验单个活动定义
func check(c *models.Campaign) error {
	if c.ID == "" {
		return errors.NewMetricsError(errors.ErrorTypeConfig, errors.SeverityHigh,
			"CAMPAIGN_INVALID", "活动ID不能为空")
	}
	if err := validation.ValidateContractAddress(c.ContractAddress); err != nil {
		return fmt.Errorf("活动 %s: %w", c.ID, err)
	}
	if err := window.ValidateRanges(c.Ranges); err != nil {
		return fmt.Errorf("活动 %s: %w", c.ID, err)
	}
	return nil
}

// campaignFile YAML文件结构
type campaignFile struct {
	Campaigns []*models.Campaign `yaml:"campaigns"`
}

// FileStore 从YAML文件加载的活动定义，加载后只读
type FileStore struct {
	path      string
	logger    *logrus.Logger
	mu        sync.RWMutex
	campaigns map[string]*models.Campaign
}

// NewFileStore 读取并校验活动文件
func NewFileStore(path string, logger *logrus.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		logger: logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload 重新读取活动文件，失败时保留原有内容
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfig, errors.SeverityHigh,
			"CAMPAIGN_FILE_READ_FAILED", "读取活动文件失败").WithContext("path", s.path)
	}

	campaigns, err := parseCampaigns(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.campaigns = campaigns
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"path":      s.path,
		"campaigns": len(campaigns),
	}).Info("活动定义已加载")
	return nil
}

func parseCampaigns(data []byte) (map[string]*models.Campaign, error) {
	var file campaignFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfig, errors.SeverityHigh,
			"CAMPAIGN_FILE_INVALID", "解析活动文件失败")
	}

	campaigns := make(map[string]*models.Campaign, len(file.Campaigns))
	for _, c := range file.Campaigns {
		if c == nil {
			continue
		}
		if err := check(c); err != nil {
			return nil, err
		}
		if _, dup := campaigns[c.ID]; dup {
			return nil, errors.NewMetricsError(errors.ErrorTypeConfig, errors.SeverityHigh,
				"CAMPAIGN_DUPLICATE", "活动ID重复").WithContext("campaign", c.ID)
		}
		c.ContractAddress = validation.NormalizeAddress(c.ContractAddress)
		c.Ranges = utcRanges(c.Ranges)
		campaigns[c.ID] = c
	}
	return campaigns, nil
}

func utcRanges(r models.CampaignRanges) models.CampaignRanges {
	return models.CampaignRanges{
		PreCampaign:    models.TimeRange{From: r.PreCampaign.From.UTC(), To: r.PreCampaign.To.UTC()},
		DuringCampaign: models.TimeRange{From: r.DuringCampaign.From.UTC(), To: r.DuringCampaign.To.UTC()},
	}
}

// Get 按ID查找活动
func (s *FileStore) Get(_ context.Context, id string) (*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *c
	return &cp, nil
}

// List 按ID排序返回全部活动
func (s *FileStore) List(_ context.Context) ([]*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		cp := *c
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// Close 文件存储无需释放资源
func (s *FileStore) Close() error {
	return nil
}
