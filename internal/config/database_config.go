package config

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// EngineConfigKeys engine_config表支持的配置键
var EngineConfigKeys = []string{
	"max_pages",
	"exact_dedup_limit",
	"include_pre_daily",
	"pre_window_length",
	"strict_validation",
	"retry_max_attempts",
	"requests_per_second",
	"page_size",
	"timeout",
}

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// ApplyTo 将engine_config表中的配置覆盖到cfg，无法识别的键只记录警告
func (dc *DatabaseConfig) ApplyTo(cfg *Config) error {
	settings, err := dc.ListConfigs()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := applyEngineSetting(cfg, key, settings[key]); err != nil {
			dc.logger.WithError(err).WithField("key", key).Warn("忽略无效的数据库配置项")
		}
	}
	return nil
}

// applyEngineSetting 应用单个配置项
func applyEngineSetting(cfg *Config, key, value string) error {
	value = strings.TrimSpace(value)

	switch key {
	case "max_pages":
		v, err := strconv.Atoi(value)
		if err != nil || v < 1 {
			return fmt.Errorf("max_pages 无效: %q", value)
		}
		cfg.Engine.MaxPages = v
	case "exact_dedup_limit":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("exact_dedup_limit 无效: %q", value)
		}
		cfg.Engine.ExactDedupLimit = v
	case "include_pre_daily":
		cfg.Engine.IncludePreDaily = strings.ToLower(value) == "true"
	case "strict_validation":
		cfg.Engine.StrictValidation = strings.ToLower(value) == "true"
	case "pre_window_length":
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return fmt.Errorf("pre_window_length 无效: %q", value)
		}
		cfg.Engine.PreWindowLength = d
	case "retry_max_attempts":
		v, err := strconv.Atoi(value)
		if err != nil || v < 1 {
			return fmt.Errorf("retry_max_attempts 无效: %q", value)
		}
		if cfg.Engine.Retry != nil {
			retryConfig := *cfg.Engine.Retry
			retryConfig.MaxAttempts = v
			cfg.Engine.Retry = &retryConfig
		}
	case "requests_per_second":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("requests_per_second 无效: %q", value)
		}
		cfg.Explorer.RequestsPerSecond = v
	case "page_size":
		v, err := strconv.Atoi(value)
		if err != nil || v < 1 {
			return fmt.Errorf("page_size 无效: %q", value)
		}
		cfg.Explorer.PageSize = v
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("timeout 无效: %q", value)
		}
		cfg.Explorer.Timeout = d
	default:
		return fmt.Errorf("不支持的配置键: %s", key)
	}
	return nil
}

// IsEngineConfigKey 判断是否为支持的配置键
func IsEngineConfigKey(key string) bool {
	for _, k := range EngineConfigKeys {
		if k == key {
			return true
		}
	}
	return false
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(key, value string) error {
	if !IsEngineConfigKey(key) {
		return fmt.Errorf("不支持的配置键: %s", key)
	}
	if err := applyEngineSetting(GetDefaultConfig(), key, value); err != nil {
		return err
	}

	query := `
		INSERT INTO engine_config (config_key, config_value, updated_at) 
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key) 
		DO UPDATE SET config_value = $2, is_active = true, updated_at = CURRENT_TIMESTAMP
	`

	_, err := dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(key string) (string, error) {
	query := `SELECT config_value FROM engine_config WHERE config_key = $1 AND is_active = true`
	var value string
	err := dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// ListConfigs 列出所有配置
func (dc *DatabaseConfig) ListConfigs() (map[string]string, error) {
	query := `SELECT config_key, config_value FROM engine_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		configs[key] = value
	}

	return configs, rows.Err()
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
