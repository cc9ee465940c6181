package errors

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorCallback 错误回调函数
type ErrorCallback func(err *MetricsError)

// ErrorHandler 错误处理器：统计并按严重级别记录日志
type ErrorHandler struct {
	logger    *logrus.Logger
	stats     *ErrorStats
	callbacks []ErrorCallback
	mu        sync.RWMutex
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// HandleError 处理错误，返回原错误以便调用方继续传递
func (eh *ErrorHandler) HandleError(err error) error {
	if err == nil {
		return nil
	}

	metricsErr, ok := As(err)
	if !ok {
		metricsErr = WrapError(err, ErrorTypeSystem, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(metricsErr)
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	eh.log(metricsErr)

	for _, cb := range callbacks {
		eh.safeCallback(cb, metricsErr)
	}

	return err
}

// log 根据严重级别选择日志级别
func (eh *ErrorHandler) log(err *MetricsError) {
	entry := eh.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
	})
	if err.UpstreamStatus != "" || err.UpstreamMessage != "" {
		entry = entry.WithFields(logrus.Fields{
			"upstream_status":  err.UpstreamStatus,
			"upstream_message": err.UpstreamMessage,
		})
	}
	if len(err.Context) > 0 {
		entry = entry.WithField("context", err.Context)
	}

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Error())
	case SeverityMedium:
		entry.Warn(err.Error())
	default:
		entry.Error(err.Error())
	}
}

// safeCallback 执行回调，屏蔽panic
func (eh *ErrorHandler) safeCallback(cb ErrorCallback, err *MetricsError) {
	defer func() {
		if r := recover(); r != nil {
			eh.logger.Errorf("错误回调执行时发生panic: %v", r)
		}
	}()
	cb(err)
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// GetStats 获取错误统计信息副本
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.Snapshot()
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
