package campaign

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"campaignstat/internal/errors"
	"campaignstat/internal/validation"
	"campaignstat/pkg/models"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const selectCampaigns = `SELECT id, name, contract_address, pre_from, pre_to, during_from, during_to FROM campaigns`

// PostgresStore 从campaigns表读取活动定义
type PostgresStore struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewPostgresStore 连接数据库并检查连通性
func NewPostgresStore(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return NewPostgresStoreFromDB(db, logger), nil
}

// NewPostgresStoreFromDB 使用已打开的连接
func NewPostgresStoreFromDB(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		DB:     db,
		logger: logger,
	}
}

// Get 按ID查找活动
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Campaign, error) {
	row := s.DB.QueryRowContext(ctx, selectCampaigns+` WHERE id = $1 AND is_active = true`, id)

	c, err := scanCampaign(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityMedium,
			"CAMPAIGN_QUERY_FAILED", "查询活动失败").WithContext("campaign", id)
	}
	if err := check(c); err != nil {
		return nil, err
	}
	return c, nil
}

// List 返回全部启用的活动，跳过定义无效的记录
func (s *PostgresStore) List(ctx context.Context) ([]*models.Campaign, error) {
	rows, err := s.DB.QueryContext(ctx, selectCampaigns+` WHERE is_active = true ORDER BY id`)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityMedium,
			"CAMPAIGN_QUERY_FAILED", "查询活动列表失败")
	}
	defer rows.Close()

	campaigns := make([]*models.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityMedium,
				"CAMPAIGN_QUERY_FAILED", "读取活动记录失败")
		}
		if err := check(c); err != nil {
			s.logger.WithError(err).WithField("campaign", c.ID).Warn("跳过无效的活动定义")
			continue
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityMedium,
			"CAMPAIGN_QUERY_FAILED", "读取活动记录失败")
	}
	return campaigns, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row scanner) (*models.Campaign, error) {
	var c models.Campaign
	var r models.CampaignRanges
	if err := row.Scan(&c.ID, &c.Name, &c.ContractAddress,
		&r.PreCampaign.From, &r.PreCampaign.To,
		&r.DuringCampaign.From, &r.DuringCampaign.To); err != nil {
		return nil, err
	}
	c.Ranges = utcRanges(r)
	if validation.ValidateContractAddress(c.ContractAddress) == nil {
		c.ContractAddress = validation.NormalizeAddress(c.ContractAddress)
	}
	return &c, nil
}

// Close 关闭数据库连接
func (s *PostgresStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
