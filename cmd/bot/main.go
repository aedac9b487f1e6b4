package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"smart-trade-bot-go/internal/config"
	"smart-trade-bot-go/internal/logger"
	"smart-trade-bot-go/internal/models"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "run", "run, start, stop, process, sweep or report")
	botID := flag.Int64("bot", 0, "bot id for start, stop, process and report")
	flag.Parse()

	// 加载配置之前先用默认配置初始化日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, using the process environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("Failed to load config: %v", err)
	}

	log := logger.InitLogger(cfg.LogConfig)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, log)
	if err != nil {
		logger.S().Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	if err := a.seed(ctx, *mode == "run"); err != nil {
		logger.S().Fatalf("Failed to seed config: %v", err)
	}

	if err := dispatch(ctx, a, *mode, *botID); err != nil {
		logger.S().Errorf("%s failed: %v", *mode, err)
		a.Close()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, a *app, mode string, botID int64) error {
	needBot := func() error {
		if botID <= 0 {
			return errors.New("-bot is required for this mode")
		}
		return nil
	}

	switch mode {
	case "run":
		return a.run(ctx)
	case "start":
		if err := needBot(); err != nil {
			return err
		}
		if err := a.dispatcher.Start(ctx, botID); err != nil {
			return err
		}
		return a.dispatcher.PlacePendingOrders(ctx, botID)
	case "stop":
		if err := needBot(); err != nil {
			return err
		}
		return a.dispatcher.Stop(ctx, botID)
	case "process":
		if err := needBot(); err != nil {
			return err
		}
		if err := a.dispatcher.Process(ctx, botID, nil); err != nil {
			return err
		}
		return a.dispatcher.PlacePendingOrders(ctx, botID)
	case "sweep":
		return a.dispatcher.SweepEnabled(ctx)
	case "report":
		return a.report(os.Stdout, botID)
	}
	return fmt.Errorf("unknown mode %q", mode)
}
