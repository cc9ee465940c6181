package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"campaignstat/internal/config"
	"campaignstat/internal/errors"
	"campaignstat/internal/metrics"
	"campaignstat/internal/shutdown"
	"campaignstat/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Reports 报告服务
type Reports interface {
	GenerateForDates(ctx context.Context, contract string, from, to time.Time, maxPages int) (*models.CampaignReport, error)
	CampaignReport(ctx context.Context, id string, refresh bool) (*models.CampaignReport, error)
	Campaigns(ctx context.Context) ([]*models.Campaign, error)
	Report(id string) (*models.CampaignReport, error)
	Reports(contract string, from, to time.Time) ([]*models.CampaignReport, error)
	Stats() map[string]interface{}
}

// Server API服务器
type Server struct {
	reports      Reports
	config       *config.Config
	configs      *ConfigManager
	metrics      *metrics.Metrics
	errorHandler *errors.ErrorHandler
	shutdown     *shutdown.GracefulShutdown
	logger       *logrus.Logger
	logManager   *LogManager
	router       *gin.Engine
	server       *http.Server
	startedAt    time.Time
	port         int
}

// NewServer 创建新的API服务器
func NewServer(cfg *config.Config, reports Reports, handler *errors.ErrorHandler, m *metrics.Metrics,
	logger *logrus.Logger, port int) *Server {
	// 创建日志管理器
	logManager := NewLogManager(1000) // 最多保存1000条日志

	// 添加日志钩子
	logger.AddHook(NewLogHook(logManager))

	if handler == nil {
		handler = errors.NewErrorHandler(logger)
	}

	s := &Server{
		reports:      reports,
		config:       cfg,
		configs:      NewConfigManager(nil, cfg, logger),
		metrics:      m,
		errorHandler: handler,
		logger:       logger,
		logManager:   logManager,
		startedAt:    time.Now(),
		port:         port,
	}
	s.router = s.newRouter()
	return s
}

// SetShutdown 关联停机管理器，停机开始后拒绝新的计算请求
func (s *Server) SetShutdown(gs *shutdown.GracefulShutdown) {
	s.shutdown = gs
}

// SetConfigManager 启用数据库配置接口
func (s *Server) SetConfigManager(cm *ConfigManager) {
	s.configs = cm
}

// Handler 返回路由，便于测试
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动API服务器，正常关闭时返回nil
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.config != nil && s.config.Server != nil {
		s.server.ReadTimeout = s.config.Server.ReadTimeout
		s.server.WriteTimeout = s.config.Server.WriteTimeout
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止接受新连接并等待处理中的请求
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()

	// 添加CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	s.setupRoutes(router)
	return router
}

// requestLogger 用logrus记录请求
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("请求处理失败")
		} else {
			entry.Debug("请求完成")
		}
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/", s.index)
	router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		// 报告
		api.POST("/reports", s.createReport)
		api.GET("/reports/:contract", s.listReports)
		api.GET("/report/:id", s.getReport)

		// 活动
		api.GET("/campaigns", s.listCampaigns)
		api.GET("/campaigns/:id/report", s.getCampaignReport)

		// 统计与诊断
		api.GET("/stats", s.getStats)
		api.GET("/errors", s.getErrors)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		// 配置管理
		api.GET("/config", s.getConfig)
		api.GET("/config/engine", s.configsHandler((*ConfigManager).GetConfig))
		api.PUT("/config/engine", s.configsHandler((*ConfigManager).UpdateConfig))
	}
}

func (s *Server) configsHandler(fn func(*ConfigManager, *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		fn(s.configs, c)
	}
}

// index 服务信息
func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "campaignstat-api",
		"endpoints": []string{
			"POST /api/v1/reports",
			"GET /api/v1/reports/:contract",
			"GET /api/v1/report/:id",
			"GET /api/v1/campaigns",
			"GET /api/v1/campaigns/:id/report",
			"GET /api/v1/stats",
			"GET /api/v1/errors",
			"GET /api/v1/logs",
			"GET /api/v1/config",
			"GET /metrics",
		},
	})
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if s.shutdown != nil && s.shutdown.IsShuttingDown() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"service":   "campaignstat-api",
	})
}

type reportRequest struct {
	ContractAddress string `json:"contractAddress" binding:"required"`
	FromDate        string `json:"fromDate" binding:"required"`
	ToDate          string `json:"toDate" binding:"required"`
	MaxPages        int    `json:"maxPages"`
}

// createReport 计算活动前后对比报告
func (s *Server) createReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}
	if req.MaxPages < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxPages 不能为负数"})
		return
	}

	from, err := models.ParseDate(req.FromDate, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fromDate 格式无效", "message": err.Error()})
		return
	}
	to, err := models.ParseDate(req.ToDate, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "toDate 格式无效", "message": err.Error()})
		return
	}

	ctx, release, ok := s.computeContext(c)
	if !ok {
		return
	}
	defer release()

	rep, err := s.reports.GenerateForDates(ctx, req.ContractAddress, from, to, req.MaxPages)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// getCampaignReport 获取活动报告，refresh=true时重新计算
func (s *Server) getCampaignReport(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))

	ctx, release, ok := s.computeContext(c)
	if !ok {
		return
	}
	defer release()

	rep, err := s.reports.CampaignReport(ctx, c.Param("id"), refresh)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// listReports 列出合约已保存的报告
func (s *Server) listReports(c *gin.Context) {
	var from, to time.Time
	var err error
	if v := c.Query("from_date"); v != "" {
		if from, err = models.ParseDate(v, false); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from_date 格式无效", "message": err.Error()})
			return
		}
	}
	if v := c.Query("to_date"); v != "" {
		if to, err = models.ParseDate(v, true); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to_date 格式无效", "message": err.Error()})
			return
		}
	}

	reports, err := s.reports.Reports(c.Param("contract"), from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"contractAddress": c.Param("contract"),
		"reports":         reports,
		"total":           len(reports),
	})
}

// getReport 按ID获取报告
func (s *Server) getReport(c *gin.Context) {
	rep, err := s.reports.Report(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// listCampaigns 列出已登记的活动
func (s *Server) listCampaigns(c *gin.Context) {
	campaigns, err := s.reports.Campaigns(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"campaigns": campaigns,
		"total":     len(campaigns),
	})
}

// getStats 获取统计信息
func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"storage": s.reports.Stats(),
		"errors":  s.errorHandler.GetStats().TotalErrors,
	})
}

// getErrors 获取错误统计
func (s *Server) getErrors(c *gin.Context) {
	c.JSON(http.StatusOK, s.errorHandler.GetStats())
}

// getConfig 获取生效配置，隐藏敏感信息
func (s *Server) getConfig(c *gin.Context) {
	if s.config == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "配置未初始化"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"config": s.config.Redacted(),
	})
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	pageStr := c.Query("page")
	pageSizeStr := c.Query("pageSize")

	page := 1 // 默认第1页
	if pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	pageSize := 20 // 默认每页20条
	if pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}

// computeContext 为计算请求派生上下文：客户端断开或服务停机时取消
func (s *Server) computeContext(c *gin.Context) (context.Context, func(), bool) {
	if s.shutdown == nil {
		return c.Request.Context(), func() {}, true
	}

	done, ok := s.shutdown.Begin()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务正在关闭"})
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	stop := context.AfterFunc(s.shutdown.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
		done()
	}, true
}
