package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"smart-trade-bot-go/internal/config"
	"smart-trade-bot-go/internal/dispatcher"
	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/executor"
	"smart-trade-bot-go/internal/lock"
	"smart-trade-bot-go/internal/metrics"
	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/persistence"
	"smart-trade-bot-go/internal/processor"
	"smart-trade-bot-go/internal/reporter"
	"smart-trade-bot-go/internal/scheduler"
	"smart-trade-bot-go/internal/store"
	gridtemplate "smart-trade-bot-go/internal/templates/grid"
	"smart-trade-bot-go/internal/trigger"
)

// app 组装引擎的所有组件
type app struct {
	cfg        *models.Config
	repo       *persistence.BadgerRepository
	provider   *exchange.Provider
	metrics    *metrics.Metrics
	dispatcher *dispatcher.Dispatcher
	redis      *redis.Client
	logger     *zap.Logger

	closeOnce sync.Once
}

func newApp(cfg *models.Config, log *zap.Logger) (*app, error) {
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	provider := exchange.NewProvider(nil)

	var d *dispatcher.Dispatcher
	stopBot := func(ctx context.Context, botID int64) error { return d.StopBot(ctx, botID) }

	salt, err := repo.ClientIDSalt()
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("load client id salt: %w", err)
	}
	exec := executor.New(repo, provider, log.Named("executor"),
		executor.WithStopBot(stopBot),
		executor.WithRecorder(m),
		executor.WithClientIDSalt(salt),
	)
	adapter := store.NewAdapter(repo, exec, provider, stopBot, log.Named("store"), store.WithRecorder(m))

	registry := processor.NewRegistry()
	gridtemplate.Register(registry, log.Named(gridtemplate.Name))

	a := &app{cfg: cfg, repo: repo, provider: provider, metrics: m, logger: log}

	opts := []dispatcher.Option{dispatcher.WithRecorder(m)}
	if cfg.Lock.Backend == "redis" {
		a.redis = lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		ttl := time.Duration(cfg.Lock.TTLSec) * time.Second
		opts = append(opts, dispatcher.WithLocker(lock.NewRedisLocker(a.redis, ttl, log.Named("lock"))))
	}
	d = dispatcher.New(repo, registry, adapter, provider, exec, log.Named("dispatcher"), opts...)
	a.dispatcher = d
	return a, nil
}

// Close 释放数据库和 redis 客户端，可重复调用
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}
		if err := a.repo.Close(); err != nil {
			a.logger.Error("Failed to close database", zap.Error(err))
		}
	})
}

// seed 写入配置中声明的账户和机器人。start 为 true 时，
// 启动配置中标记为启用的机器人。
func (a *app) seed(ctx context.Context, start bool) error {
	toStart, err := config.Seed(a.repo, a.cfg, a.logger)
	if err != nil {
		return err
	}
	if !start {
		return nil
	}
	for _, id := range toStart {
		if err := a.dispatcher.Start(ctx, id); err != nil {
			a.logger.Error("Failed to start seeded bot", zap.Int64("bot_id", id), zap.Error(err))
			continue
		}
		if err := a.dispatcher.PlacePendingOrders(ctx, id); err != nil {
			a.logger.Error("Failed to place orders", zap.Int64("bot_id", id), zap.Error(err))
		}
	}
	return nil
}

// run 启动所有触发源，阻塞直到 ctx 被取消
func (a *app) run(ctx context.Context) error {
	queue := trigger.NewQueue(a.cfg.Workers, 256, trigger.NewCommandHandler(a.dispatcher, a.metrics, a.logger.Named("trigger")), a.logger.Named("queue"))
	queue.Start(ctx)
	defer queue.Stop()

	sink := &paperFeed{next: queue, repo: a.repo, provider: a.provider, logger: a.logger}

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("Component stopped with error", zap.String("component", name), zap.Error(err))
			}
		}()
	}

	if a.cfg.Metrics.Enabled {
		srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: a.metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		goRun("metrics", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			a.logger.Info("Metrics server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	restart := time.Duration(a.cfg.Scheduler.RestartDelaySec) * time.Second
	if sec := a.cfg.Scheduler.ProcessIntervalSec; sec > 0 {
		s := scheduler.NewScheduler("process", time.Duration(sec)*time.Second, restart, scheduler.TaskFunc(a.dispatcher.ProcessEnabled), a.logger)
		goRun("process-scheduler", s.Start)
	}
	if sec := a.cfg.Scheduler.SweepIntervalSec; sec > 0 {
		s := scheduler.NewScheduler("sweep", time.Duration(sec)*time.Second, restart, scheduler.TaskFunc(a.dispatcher.SweepEnabled), a.logger)
		goRun("sweep-scheduler", s.Start)
	}

	if a.cfg.Stream.Enabled {
		subs, err := a.subscriptions()
		if err != nil {
			return err
		}
		stream := trigger.NewKlineStream(a.cfg.Stream, subs, sink, a.logger.Named("stream"))
		goRun("kline-stream", stream.Run)
	}

	if a.cfg.Kafka.Enabled {
		src, err := trigger.NewKafkaSource(a.cfg.Kafka, sink, a.logger.Named("kafka"))
		if err != nil {
			return err
		}
		defer src.Close()
		goRun("kafka", src.Run)
	}

	a.logger.Info("Engine running", zap.Int("workers", a.cfg.Workers))
	<-ctx.Done()
	a.logger.Info("Shutting down")
	wg.Wait()
	return nil
}

func (a *app) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

// subscriptions 列出所有已启用且设置了周期的机器人需要订阅的K线流
func (a *app) subscriptions() ([]trigger.Subscription, error) {
	bots, err := a.repo.ListBots()
	if err != nil {
		return nil, err
	}
	var subs []trigger.Subscription
	for _, b := range bots {
		if b.Enabled && b.Timeframe != "" {
			subs = append(subs, trigger.Subscription{BotID: b.ID, Symbol: b.Symbol(), Interval: b.Timeframe})
		}
	}
	return subs, nil
}

// report 输出单个机器人的报告，botID 为 0 时输出全部
func (a *app) report(w io.Writer, botID int64) error {
	ids := []int64{botID}
	if botID == 0 {
		bots, err := a.repo.ListBots()
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, b := range bots {
			ids = append(ids, b.ID)
		}
	}
	for _, id := range ids {
		r, err := reporter.Build(a.repo, id)
		if err != nil {
			return err
		}
		r.Render(w)
	}
	return nil
}

// paperFeed 在转发事件前，用每根收盘K线推动模拟账户的价格，
// 使模拟限价单能够成交。
type paperFeed struct {
	next     trigger.Sink
	repo     *persistence.BadgerRepository
	provider *exchange.Provider
	logger   *zap.Logger
}

func (f *paperFeed) Dispatch(ctx context.Context, ev trigger.Event) error {
	if ev.Kind == trigger.KindCandleClosed && ev.Candle != nil {
		f.feed(ev.BotID, *ev.Candle)
	}
	return f.next.Dispatch(ctx, ev)
}

func (f *paperFeed) feed(botID int64, candle models.Candle) {
	bot, err := f.repo.GetBot(botID)
	if err != nil {
		f.logger.Warn("Unknown bot in candle event", zap.Int64("bot_id", botID), zap.Error(err))
		return
	}
	account, err := f.repo.GetAccount(bot.ExchangeAccountID)
	if err != nil {
		return
	}
	ex, err := f.provider.FromAccount(account)
	if err != nil {
		return
	}
	if paper, ok := ex.(*exchange.PaperExchange); ok {
		paper.SetPrice(bot.Symbol(), candle)
	}
}
