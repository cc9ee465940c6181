package api

import (
	"context"
	stderrors "errors"
	"net/http"

	"campaignstat/internal/errors"

	"github.com/gin-gonic/gin"
)

// statusFor 错误类型到HTTP状态码
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrReportNotFound), stderrors.Is(err, errors.ErrCampaignNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}

	t, ok := errors.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case errors.ErrorTypeInvalidWindow, errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeUpstreamRejected:
		return http.StatusBadGateway
	case errors.ErrorTypeUpstreamUnavailable, errors.ErrorTypeNetwork,
		errors.ErrorTypeTimeout, errors.ErrorTypeRateLimit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError 按错误类型返回响应
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("status", status).Warn("请求失败")
	}

	me, ok := errors.As(err)
	if !ok {
		c.JSON(status, gin.H{
			"error":   http.StatusText(status),
			"message": err.Error(),
		})
		return
	}

	body := gin.H{
		"error":   me.Message,
		"code":    me.Code,
		"type":    me.Type.String(),
		"message": err.Error(),
	}
	if me.UpstreamStatus != "" || me.UpstreamMessage != "" {
		body["upstream"] = gin.H{
			"status":  me.UpstreamStatus,
			"message": me.UpstreamMessage,
		}
	}
	if len(me.Context) > 0 {
		body["context"] = me.Context
	}
	c.JSON(status, body)
}
