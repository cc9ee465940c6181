package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 窗口/请求相关错误
	ErrorTypeInvalidWindow ErrorType = iota
	ErrorTypeValidation

	// 上游浏览器API错误
	ErrorTypeUpstreamRejected
	ErrorTypeUpstreamUnavailable
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 系统相关错误
	ErrorTypeConfig
	ErrorTypeStorage
	ErrorTypeKafka
	ErrorTypeSystem
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// 错误码
const (
	CodeInvalidWindow       = "INVALID_WINDOW"
	CodeUpstreamRejected    = "UPSTREAM_REJECTED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeInvalidAddress      = "INVALID_ADDRESS"
	CodeRetryExhausted      = "RETRY_EXHAUSTED"
)

// MetricsError 活动指标计算过程中的错误
type MetricsError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`

	// 上游返回的原始状态和消息，用于诊断
	UpstreamStatus  string `json:"upstream_status,omitempty"`
	UpstreamMessage string `json:"upstream_message,omitempty"`
}

// Error 实现error接口
func (e *MetricsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *MetricsError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *MetricsError) IsRetryable() bool {
	return e.Retryable
}

// Is 错误码相同即视为同一错误，预定义错误的副本也能被errors.Is识别
func (e *MetricsError) Is(target error) bool {
	t, ok := target.(*MetricsError)
	return ok && t.Code != "" && t.Code == e.Code
}

// Clone 复制错误，预定义错误在添加上下文前应先复制
func (e *MetricsError) Clone() *MetricsError {
	cp := *e
	cp.Timestamp = time.Now()
	if e.Context != nil {
		cp.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

// WithContext 添加上下文信息
func (e *MetricsError) WithContext(key string, value interface{}) *MetricsError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 设置产生错误的组件
func (e *MetricsError) WithComponent(component string) *MetricsError {
	e.Component = component
	return e
}

// WithUpstream 记录上游原始状态
func (e *MetricsError) WithUpstream(status, message string) *MetricsError {
	e.UpstreamStatus = status
	e.UpstreamMessage = message
	return e
}

// NewMetricsError 创建新的错误
func NewMetricsError(errorType ErrorType, severity ErrorSeverity, code, message string) *MetricsError {
	return &MetricsError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *MetricsError {
	e := NewMetricsError(errorType, severity, code, message)
	e.Cause = err
	return e
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	case ErrorTypeUpstreamUnavailable:
		return true
	case ErrorTypeKafka:
		return true
	default:
		return false
	}
}

// NewInvalidWindow 窗口无效（起止颠倒、重叠或区块查询失败）
func NewInvalidWindow(message string, cause error) *MetricsError {
	e := NewMetricsError(ErrorTypeInvalidWindow, SeverityMedium, CodeInvalidWindow, message)
	e.Cause = cause
	return e.WithComponent("window")
}

// NewUpstreamRejected 上游拒绝请求（无效API Key、请求格式错误），不重试
func NewUpstreamRejected(status, message string) *MetricsError {
	e := NewMetricsError(ErrorTypeUpstreamRejected, SeverityHigh, CodeUpstreamRejected,
		fmt.Sprintf("上游拒绝请求: status=%s message=%s", status, message))
	return e.WithUpstream(status, message).WithComponent("explorer")
}

// NewUpstreamUnavailable 上游暂时不可用（网络、限流、5xx），可重试
func NewUpstreamUnavailable(message string, cause error) *MetricsError {
	e := NewMetricsError(ErrorTypeUpstreamUnavailable, SeverityMedium, CodeUpstreamUnavailable, message)
	e.Cause = cause
	return e.WithComponent("explorer")
}

// TypeOf 返回错误链中第一个MetricsError的类型
func TypeOf(err error) (ErrorType, bool) {
	var me *MetricsError
	if stderrors.As(err, &me) {
		return me.Type, true
	}
	return 0, false
}

// IsType 判断错误链中是否包含指定类型的MetricsError
func IsType(err error, errorType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errorType
}

// As 从错误链中取出MetricsError
func As(err error) (*MetricsError, bool) {
	var me *MetricsError
	if stderrors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// 预定义错误
var (
	ErrConfigInvalid = NewMetricsError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrReportNotFound = NewMetricsError(
		ErrorTypeStorage,
		SeverityLow,
		"REPORT_NOT_FOUND",
		"报告不存在",
	)

	ErrCampaignNotFound = NewMetricsError(
		ErrorTypeValidation,
		SeverityLow,
		"CAMPAIGN_NOT_FOUND",
		"活动不存在",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeInvalidWindow:       "InvalidWindow",
	ErrorTypeValidation:          "Validation",
	ErrorTypeUpstreamRejected:    "UpstreamRejected",
	ErrorTypeUpstreamUnavailable: "UpstreamUnavailable",
	ErrorTypeNetwork:             "Network",
	ErrorTypeTimeout:             "Timeout",
	ErrorTypeRateLimit:           "RateLimit",
	ErrorTypeConfig:              "Config",
	ErrorTypeStorage:             "Storage",
	ErrorTypeKafka:               "Kafka",
	ErrorTypeSystem:              "System",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int             `json:"total_errors"`
	ErrorsByType      map[string]int  `json:"errors_by_type"`
	ErrorsBySeverity  map[string]int  `json:"errors_by_severity"`
	ErrorsByComponent map[string]int  `json:"errors_by_component"`
	RecentErrors      []*MetricsError `json:"recent_errors"`
	LastError         *MetricsError   `json:"last_error,omitempty"`
	LastErrorTime     time.Time       `json:"last_error_time"`
	recentLimit       int
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsBySeverity:  make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*MetricsError, 0),
		recentLimit:       100,
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *MetricsError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity.String()]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.recentLimit {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}

// Snapshot 返回统计副本
func (es *ErrorStats) Snapshot() *ErrorStats {
	cp := &ErrorStats{
		TotalErrors:       es.TotalErrors,
		ErrorsByType:      make(map[string]int, len(es.ErrorsByType)),
		ErrorsBySeverity:  make(map[string]int, len(es.ErrorsBySeverity)),
		ErrorsByComponent: make(map[string]int, len(es.ErrorsByComponent)),
		RecentErrors:      append([]*MetricsError(nil), es.RecentErrors...),
		LastError:         es.LastError,
		LastErrorTime:     es.LastErrorTime,
		recentLimit:       es.recentLimit,
	}
	for k, v := range es.ErrorsByType {
		cp.ErrorsByType[k] = v
	}
	for k, v := range es.ErrorsBySeverity {
		cp.ErrorsBySeverity[k] = v
	}
	for k, v := range es.ErrorsByComponent {
		cp.ErrorsByComponent[k] = v
	}
	return cp
}
