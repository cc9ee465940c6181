package api

import (
	"database/sql"
	stderrors "errors"
	"net/http"

	"campaignstat/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ConfigManager 数据库中的引擎配置，修改在下次启动时生效
type ConfigManager struct {
	dbConfig *config.DatabaseConfig
	current  *config.Config
	logger   *logrus.Logger
}

// NewConfigManager 创建配置管理器，dbConfig为nil时接口返回503
func NewConfigManager(dbConfig *config.DatabaseConfig, current *config.Config, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		dbConfig: dbConfig,
		current:  current,
		logger:   logger,
	}
}

func (cm *ConfigManager) available(c *gin.Context) bool {
	if cm == nil || cm.dbConfig == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "未配置数据库，无法管理引擎配置",
		})
		return false
	}
	return true
}

// GetConfig 获取配置
func (cm *ConfigManager) GetConfig(c *gin.Context) {
	if !cm.available(c) {
		return
	}
	key := c.Query("key")

	if key == "" {
		// 获取所有配置
		configs, err := cm.dbConfig.ListConfigs()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "获取配置失败",
				"message": err.Error(),
			})
			return
		}

		resp := gin.H{
			"configs":        configs,
			"supported_keys": config.EngineConfigKeys,
		}
		if cm.current != nil {
			resp["effective"] = cm.current.Engine
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	// 获取单个配置
	value, err := cm.dbConfig.GetConfig(key)
	if stderrors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "配置不存在",
			"key":   key,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取配置失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": value,
	})
}

// UpdateConfig 更新配置
func (cm *ConfigManager) UpdateConfig(c *gin.Context) {
	if !cm.available(c) {
		return
	}

	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}
	if !config.IsEngineConfigKey(req.Key) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "不支持的配置键",
			"key":            req.Key,
			"supported_keys": config.EngineConfigKeys,
		})
		return
	}

	if err := cm.dbConfig.UpdateConfig(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	cm.logger.WithFields(logrus.Fields{
		"key":   req.Key,
		"value": req.Value,
	}).Info("引擎配置已更新，重启后生效")

	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功，重启后生效",
		"config": gin.H{
			"key":   req.Key,
			"value": req.Value,
		},
	})
}
