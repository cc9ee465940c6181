package main

import (
	"context"
	"flag"
	"os"

	"campaignstat/internal/api"
	"campaignstat/internal/app"
	"campaignstat/internal/config"
	"campaignstat/internal/logging"
	"campaignstat/internal/shutdown"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "API 服务端口 (0 使用配置值)")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		bootstrap.Warnf("配置文件 %s 不存在，使用默认配置和环境变量", path)
		path = ""
	}

	// 加载配置
	cfg, err := config.LoadConfig(path, bootstrap)
	if err != nil {
		bootstrap.Fatalf("加载配置失败: %v", err)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		bootstrap.Fatalf("初始化日志失败: %v", err)
	}

	gs := shutdown.NewGracefulShutdown(cfg.Server.ShutdownTimeout, logger)

	a, err := app.New(gs.Context(), cfg, logger)
	if err != nil {
		logger.Fatalf("初始化失败: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(cfg, a.Reports, a.Errors, a.Metrics, logger, cfg.Server.Port)
	server.SetShutdown(gs)

	// 有数据库时开放引擎配置管理接口
	if dsn := os.Getenv(config.EnvDBDSN); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("连接配置数据库失败，配置管理接口不可用: %v", err)
		} else {
			server.SetConfigManager(api.NewConfigManager(dbConfig, cfg, logger))
			gs.RegisterShutdownFunc("config-db", func(context.Context) error {
				return dbConfig.Close()
			}, shutdown.OrderCloseConnections)
		}
	}

	gs.RegisterShutdownFunc("http-server", server.Stop, shutdown.OrderStopAcceptingRequests)
	gs.RegisterShutdownFunc("active-reports", gs.WaitIdle, shutdown.OrderWaitForActiveRequests)
	gs.RegisterShutdownFunc("components", func(context.Context) error {
		return a.Close()
	}, shutdown.OrderSaveState)

	// 启动服务器
	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
			gs.Shutdown()
		}
	}()

	logger.Infof("API服务器已启动，监听端口: %d", cfg.Server.Port)

	gs.WaitForShutdown()
	logger.Info("服务器已关闭")
}
