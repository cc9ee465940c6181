package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"campaignstat/internal/engine"
	"campaignstat/internal/errors"
	"campaignstat/internal/explorer"
	"campaignstat/internal/logging"
	"campaignstat/internal/output"
	"campaignstat/internal/store"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// 环境变量
const (
	EnvPrefix  = "CAMPAIGNSTAT"
	EnvDBDSN   = "CAMPAIGNSTAT_DB_DSN"
	EnvAPIKey  = "ETHERSCAN_API_KEY"
	EnvAPIURL  = "ETHERSCAN_API_URL"
	EnvDotFile = ".env"
)

// 活动定义来源
const (
	CampaignSourceNone     = "none"
	CampaignSourceFile     = "file"
	CampaignSourcePostgres = "postgres"
)

// Config 主配置
type Config struct {
	Explorer  explorer.Config    `mapstructure:"explorer"`
	Engine    engine.Options     `mapstructure:"engine"`
	Storage   *StorageConfig     `mapstructure:"storage"`
	Campaigns *CampaignsConfig   `mapstructure:"campaigns"`
	Output    *output.Config     `mapstructure:"output"`
	Server    *ServerConfig      `mapstructure:"server"`
	Logging   *logging.LogConfig `mapstructure:"logging"`
}

// StorageConfig 报告存储配置
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// CampaignsConfig 活动定义来源配置
type CampaignsConfig struct {
	Source string `mapstructure:"source"` // none, file, postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig API服务配置
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// envBindings 配置项与环境变量的对应关系，靠前的变量优先
var envBindings = map[string][]string{
	"explorer.api_key":             {"CAMPAIGNSTAT_EXPLORER_API_KEY", EnvAPIKey},
	"explorer.base_url":            {"CAMPAIGNSTAT_EXPLORER_BASE_URL", EnvAPIURL},
	"explorer.timeout":             {"CAMPAIGNSTAT_EXPLORER_TIMEOUT"},
	"explorer.requests_per_second": {"CAMPAIGNSTAT_EXPLORER_REQUESTS_PER_SECOND"},
	"engine.max_pages":             {"CAMPAIGNSTAT_ENGINE_MAX_PAGES"},
	"engine.exact_dedup_limit":     {"CAMPAIGNSTAT_ENGINE_EXACT_DEDUP_LIMIT"},
	"engine.include_pre_daily":     {"CAMPAIGNSTAT_ENGINE_INCLUDE_PRE_DAILY"},
	"storage.db_path":              {"CAMPAIGNSTAT_STORAGE_DB_PATH"},
	"campaigns.source":             {"CAMPAIGNSTAT_CAMPAIGNS_SOURCE"},
	"campaigns.path":               {"CAMPAIGNSTAT_CAMPAIGNS_PATH"},
	"campaigns.dsn":                {"CAMPAIGNSTAT_CAMPAIGNS_DSN", EnvDBDSN},
	"output.type":                  {"CAMPAIGNSTAT_OUTPUT_TYPE"},
	"output.directory":             {"CAMPAIGNSTAT_OUTPUT_DIRECTORY"},
	"output.kafka.topic":           {"CAMPAIGNSTAT_OUTPUT_KAFKA_TOPIC"},
	"server.port":                  {"CAMPAIGNSTAT_SERVER_PORT"},
	"logging.level":                {"CAMPAIGNSTAT_LOGGING_LEVEL"},
	"logging.format":               {"CAMPAIGNSTAT_LOGGING_FORMAT"},
}

// LoadConfig 加载配置：默认值 < YAML文件 < 环境变量 < 数据库engine_config
func LoadConfig(configPath string, logger *logrus.Logger) (*Config, error) {
	// .env不存在时忽略
	if err := godotenv.Load(EnvDotFile); err == nil {
		logger.Debugf("已加载环境变量文件 %s", EnvDotFile)
	}

	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	if dsn := os.Getenv(EnvDBDSN); dsn != "" {
		dbConfig, err := NewDatabaseConfig(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		if err := dbConfig.ApplyTo(config); err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		logger.Info("已从数据库覆盖引擎配置")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFromFile 在默认配置上叠加YAML文件和环境变量，configPath为空时只读环境变量
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// brokers从逗号分隔的环境变量读取
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" && config.Output.Kafka != nil {
		config.Output.Kafka.Brokers = strings.Split(brokers, ",")
	}

	return config, nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Explorer: explorer.DefaultConfig(),
		Engine:   engine.DefaultOptions(),
		Storage: &StorageConfig{
			DBPath: store.DefaultDBPath,
		},
		Campaigns: &CampaignsConfig{
			Source: CampaignSourceNone,
			Path:   "configs/campaigns.yaml",
		},
		Output: output.DefaultConfig(),
		Server: &ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var problems []string

	if c.Explorer.BaseURL == "" {
		problems = append(problems, "explorer.base_url 不能为空")
	}
	if c.Explorer.PageSize < 1 || c.Explorer.PageSize > explorer.MaxPageSize {
		problems = append(problems, fmt.Sprintf("explorer.page_size 必须在 1-%d 之间", explorer.MaxPageSize))
	}
	if c.Explorer.Timeout <= 0 {
		problems = append(problems, "explorer.timeout 必须大于0")
	}
	if c.Explorer.RequestsPerSecond < 0 {
		problems = append(problems, "explorer.requests_per_second 不能为负数")
	}
	if c.Engine.MaxPages < 1 {
		problems = append(problems, "engine.max_pages 必须大于0")
	}
	if c.Engine.PreWindowLength < 0 {
		problems = append(problems, "engine.pre_window_length 不能为负数")
	}
	if c.Engine.Retry == nil || c.Engine.Retry.MaxAttempts < 1 {
		problems = append(problems, "engine.retry.max_attempts 必须大于0")
	}
	if c.Storage == nil || c.Storage.DBPath == "" {
		problems = append(problems, "storage.db_path 不能为空")
	}
	if c.Campaigns != nil {
		switch c.Campaigns.Source {
		case "", CampaignSourceNone:
		case CampaignSourceFile:
			if c.Campaigns.Path == "" {
				problems = append(problems, "campaigns.path 不能为空")
			}
		case CampaignSourcePostgres:
			if c.Campaigns.DSN == "" {
				problems = append(problems, "campaigns.dsn 不能为空")
			}
		default:
			problems = append(problems, fmt.Sprintf("不支持的活动来源: %s", c.Campaigns.Source))
		}
	}
	if c.Output != nil {
		switch c.Output.Type {
		case "", output.TypeNone, output.TypeFile, output.TypeKafka:
		default:
			problems = append(problems, fmt.Sprintf("不支持的输出类型: %s", c.Output.Type))
		}
	}
	if c.Server != nil && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port 无效")
	}

	if len(problems) > 0 {
		return errors.NewMetricsError(errors.ErrorTypeConfig, errors.SeverityCritical,
			errors.ErrConfigInvalid.Code, "配置无效: "+strings.Join(problems, "; "))
	}
	return nil
}

// Redacted 用于展示的配置副本，隐藏API Key和DSN
func (c *Config) Redacted() map[string]interface{} {
	apiKey := ""
	if c.Explorer.APIKey != "" {
		apiKey = "***"
	}
	campaigns := map[string]interface{}{}
	if c.Campaigns != nil {
		campaigns["source"] = c.Campaigns.Source
		campaigns["path"] = c.Campaigns.Path
	}
	return map[string]interface{}{
		"explorer": map[string]interface{}{
			"base_url":            c.Explorer.BaseURL,
			"api_key":             apiKey,
			"timeout":             c.Explorer.Timeout.String(),
			"requests_per_second": c.Explorer.RequestsPerSecond,
			"page_size":           c.Explorer.PageSize,
		},
		"engine":    c.Engine,
		"storage":   c.Storage,
		"campaigns": campaigns,
		"output":    c.Output,
		"logging":   c.Logging,
	}
}
