package explorer

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"campaignstat/internal/errors"
	"campaignstat/internal/logging"
	"campaignstat/internal/metrics"
	"campaignstat/pkg/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL Etherscan API地址
	DefaultBaseURL = "https://api.etherscan.io/api"
	// MaxPageSize 上游单页记录上限
	MaxPageSize = 1000
	// maxBodySize 响应体读取上限
	maxBodySize = 32 << 20
)

// ErrResultWindowExceeded 上游只允许访问前 page*offset<=10000 条记录，超出时返回该错误
var ErrResultWindowExceeded = stderrors.New("上游结果窗口超限")

// Closest 按时间查询区块时的取整方向
type Closest string

const (
	ClosestBefore Closest = "before"
	ClosestAfter  Closest = "after"
)

// Config 浏览器API客户端配置
type Config struct {
	BaseURL           string        `json:"base_url" mapstructure:"base_url"`
	APIKey            string        `json:"-" mapstructure:"api_key"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`                         // 单次调用超时
	RequestsPerSecond float64       `json:"requests_per_second" mapstructure:"requests_per_second"` // 出站请求限速
	Burst             int           `json:"burst" mapstructure:"burst"`
	PageSize          int           `json:"page_size" mapstructure:"page_size"`
}

// DefaultConfig 默认配置，免费Key的限速为5次/秒
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             1,
		PageSize:          MaxPageSize,
	}
}

// PageQuery 单页转账查询
type PageQuery struct {
	ContractAddress string
	Range           models.BlockRange
	Page            int
	Offset          int
}

// envelope 上游统一响应结构，result 可能是数组也可能是错误字符串
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Client Etherscan兼容的浏览器API客户端，可被多个拉取任务共享
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewClient 创建客户端
func NewClient(config Config, logger *logrus.Logger, m *metrics.Metrics) *Client {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.PageSize <= 0 || config.PageSize > MaxPageSize {
		config.PageSize = defaults.PageSize
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	if config.APIKey == "" {
		logger.Warn("未配置浏览器API Key，上游可能拒绝请求或严格限速")
	}

	return &Client{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(limit, config.Burst),
		logger:  logger,
		metrics: m,
	}
}

// PageSize 单页记录数
func (c *Client) PageSize() int {
	return c.config.PageSize
}

// Timeout 单次调用超时
func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

// TokenTransfers 获取一页代币转账记录，上游无数据时返回空切片
func (c *Client) TokenTransfers(ctx context.Context, q PageQuery) ([]models.RawTransfer, error) {
	offset := q.Offset
	if offset <= 0 {
		offset = c.config.PageSize
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("contractaddress", q.ContractAddress)
	params.Set("startblock", strconv.FormatUint(q.Range.FromBlock, 10))
	params.Set("endblock", strconv.FormatUint(q.Range.ToBlock, 10))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("sort", "asc")

	env, err := c.call(ctx, "tokentx", params)
	if err != nil {
		return nil, err
	}

	if env.Status != "1" {
		if isNoData(env) {
			return []models.RawTransfer{}, nil
		}
		return nil, classifyStatus(env)
	}

	var transfers []models.RawTransfer
	if err := json.Unmarshal(env.Result, &transfers); err != nil {
		return nil, errors.NewUpstreamUnavailable("解析转账记录失败", err).
			WithContext("page", q.Page)
	}
	return transfers, nil
}

// BlockNumberByTime 查询时间戳对应的区块号
func (c *Client) BlockNumberByTime(ctx context.Context, t time.Time, closest Closest) (uint64, error) {
	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(t.Unix(), 10))
	params.Set("closest", string(closest))

	env, err := c.call(ctx, "getblocknobytime", params)
	if err != nil {
		return 0, err
	}
	if env.Status != "1" {
		return 0, classifyStatus(env)
	}

	var raw string
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return 0, errors.NewUpstreamUnavailable("解析区块号失败", err)
	}
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.NewUpstreamRejected(env.Status, fmt.Sprintf("区块号格式无效: %q", raw))
	}
	return block, nil
}

// call 限速后发起一次GET请求并解析响应外壳
func (c *Client) call(ctx context.Context, action string, params url.Values) (*envelope, error) {
	log := logging.NewUpstreamLogger(c.logger, action, c.config.BaseURL)

	if err := c.limiter.Wait(ctx); err != nil {
		if stderrors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, errors.NewUpstreamUnavailable("等待出站限速超时", err)
	}

	params.Set("apikey", c.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfig, errors.SeverityHigh,
			"INVALID_REQUEST", "构造上游请求失败")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(action, "network_error", time.Since(start))
		// 调用方取消时原样返回，交给上层判断
		if stderrors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		log.Debugf("上游请求失败: %v", err)
		return nil, errors.NewUpstreamUnavailable("上游请求失败", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.metrics.ObserveUpstream(action, "network_error", time.Since(start))
		return nil, errors.NewUpstreamUnavailable("读取上游响应失败", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.ObserveUpstream(action, "http_"+strconv.Itoa(resp.StatusCode), time.Since(start))
		log.Warnf("上游返回HTTP状态 %d", resp.StatusCode)
		return nil, classifyHTTP(resp.StatusCode, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.metrics.ObserveUpstream(action, "decode_error", time.Since(start))
		return nil, errors.NewUpstreamUnavailable("解析上游响应失败", err)
	}

	outcome := "ok"
	if env.Status != "1" {
		outcome = "status_" + env.Status
	}
	c.metrics.ObserveUpstream(action, outcome, time.Since(start))
	log.WithFields(logrus.Fields{
		"status":  env.Status,
		"message": env.Message,
	}).Debug("上游调用完成")

	return &env, nil
}

// resultText status!=1 时 result 通常是错误描述字符串
func resultText(env *envelope) string {
	var s string
	if err := json.Unmarshal(env.Result, &s); err == nil {
		return s
	}
	return ""
}

// isNoData 上游以status=0表示无数据，不是错误
func isNoData(env *envelope) bool {
	text := strings.ToLower(env.Message + " " + resultText(env))
	return strings.Contains(text, "no transactions found") ||
		strings.Contains(text, "no records found")
}

// classifyStatus 将status!=1的响应归类为可重试或不可重试错误
func classifyStatus(env *envelope) error {
	detail := resultText(env)
	text := strings.ToLower(env.Message + " " + detail)

	switch {
	case strings.Contains(text, "rate limit"),
		strings.Contains(text, "max calls per sec"),
		strings.Contains(text, "too many"),
		strings.Contains(text, "timeout"),
		strings.Contains(text, "temporarily unavailable"):
		return errors.NewUpstreamUnavailable(
			fmt.Sprintf("上游暂时不可用: %s %s", env.Message, detail), nil).
			WithUpstream(env.Status, detail)
	case strings.Contains(text, "result window is too large"):
		return ErrResultWindowExceeded
	default:
		msg := env.Message
		if detail != "" {
			msg = msg + ": " + detail
		}
		return errors.NewUpstreamRejected(env.Status, msg)
	}
}

// classifyHTTP 429和5xx可重试，其余4xx不可重试
func classifyHTTP(statusCode int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	status := "HTTP " + strconv.Itoa(statusCode)

	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return errors.NewUpstreamUnavailable(
			fmt.Sprintf("上游返回 %s", status), nil).
			WithUpstream(status, snippet)
	}
	return errors.NewUpstreamRejected(status, snippet)
}
