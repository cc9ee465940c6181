package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"campaignstat/internal/metrics"
	"campaignstat/pkg/models"

	"github.com/sirupsen/logrus"
)

// 输出类型
const (
	TypeNone  = "none"
	TypeFile  = "file"
	TypeKafka = "kafka"
)

// Output 报告发布接口
type Output interface {
	WriteReport(report *models.CampaignReport) error
	Close() error
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `json:"brokers" mapstructure:"brokers"`
	Topic   string   `json:"topic" mapstructure:"topic"`
}

// Config 输出配置
type Config struct {
	Type      string       `json:"type" mapstructure:"type"`
	Directory string       `json:"directory" mapstructure:"directory"`
	Kafka     *KafkaConfig `json:"kafka" mapstructure:"kafka"`
}

// DefaultConfig 默认不发布
func DefaultConfig() *Config {
	return &Config{
		Type:      TypeNone,
		Directory: "./outputs",
		Kafka: &KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   DefaultTopic,
		},
	}
}

// NewOutput 按配置创建输出器，结果带发布指标
func NewOutput(cfg *Config, logger *logrus.Logger, m *metrics.Metrics) (Output, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		out Output
		err error
	)
	switch cfg.Type {
	case "", TypeNone:
		return nopOutput{}, nil
	case TypeFile:
		out, err = NewFileOutput(cfg.Directory, logger)
	case TypeKafka:
		if cfg.Kafka == nil || len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka输出缺少brokers配置")
		}
		out, err = NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	default:
		return nil, fmt.Errorf("不支持的输出类型: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(out, cfg.Type, m), nil
}

type nopOutput struct{}

func (nopOutput) WriteReport(*models.CampaignReport) error { return nil }
func (nopOutput) Close() error                             { return nil }

// instrumented 记录每次发布的结果
type instrumented struct {
	Output
	sink    string
	metrics *metrics.Metrics
}

// Instrument 为输出器增加发布计数
func Instrument(out Output, sink string, m *metrics.Metrics) Output {
	return &instrumented{Output: out, sink: sink, metrics: m}
}

func (i *instrumented) WriteReport(report *models.CampaignReport) error {
	if err := i.Output.WriteReport(report); err != nil {
		i.metrics.ObservePublish(i.sink, "error")
		return err
	}
	i.metrics.ObservePublish(i.sink, "success")
	return nil
}

// FileOutput 以JSON Lines格式追加写入报告文件
type FileOutput struct {
	outputDir  string
	reportFile *os.File
	logger     *logrus.Logger
	mu         sync.Mutex
}

// NewFileOutput 在目录下创建带时间戳的报告文件
func NewFileOutput(outputPath string, logger *logrus.Logger) (*FileOutput, error) {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	name := filepath.Join(outputPath, fmt.Sprintf("reports_%s.json", timestamp))

	reportFile, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建报告文件失败: %w", err)
	}

	logger.Infof("报告输出文件: %s", name)
	return &FileOutput{
		outputDir:  outputPath,
		reportFile: reportFile,
		logger:     logger,
	}, nil
}

// WriteReport 写入一行报告
func (o *FileOutput) WriteReport(report *models.CampaignReport) error {
	if report == nil {
		return nil
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}

	// 添加换行符
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.reportFile.Write(data); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	// 强制刷新到磁盘
	if err := o.reportFile.Sync(); err != nil {
		return fmt.Errorf("刷新报告文件失败: %w", err)
	}

	return nil
}

// Path 当前报告文件路径
func (o *FileOutput) Path() string {
	return o.reportFile.Name()
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reportFile != nil {
		if err := o.reportFile.Close(); err != nil {
			return fmt.Errorf("关闭报告文件失败: %w", err)
		}
		o.reportFile = nil
	}
	return nil
}
