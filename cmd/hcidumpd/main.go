package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/taoyao-code/hcidump-monitor/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/hcidump-monitor/internal/config"
	"github.com/taoyao-code/hcidump-monitor/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（默认读取 HCIMON_CONFIG 或 configs/example.yaml）")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(2)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动并阻塞到退出
	if err := bootstrap.Run(cfg, zap.L()); err != nil {
		zap.L().Error("hcidump monitor exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
