package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/executor"
	"smart-trade-bot-go/internal/lock"
	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/persistence"
	"smart-trade-bot-go/internal/processor"
	"smart-trade-bot-go/internal/smarttrade"
	"smart-trade-bot-go/internal/store"
)

// funcStrategy lets each test script the callbacks.
type funcStrategy struct {
	start, stop, process func(ctx context.Context, c *processor.Context) error
}

func (s *funcStrategy) OnStart(ctx context.Context, c *processor.Context) error {
	if s.start == nil {
		return nil
	}
	return s.start(ctx, c)
}
func (s *funcStrategy) OnStop(ctx context.Context, c *processor.Context) error {
	if s.stop == nil {
		return nil
	}
	return s.stop(ctx, c)
}
func (s *funcStrategy) OnProcess(ctx context.Context, c *processor.Context) error {
	if s.process == nil {
		return nil
	}
	return s.process(ctx, c)
}

type busyRecorder struct {
	sync.Mutex
	busy, runs, failures int
}

func (r *busyRecorder) CommandRun(int64, string)    { r.Lock(); r.runs++; r.Unlock() }
func (r *busyRecorder) CommandFailed(int64, string) { r.Lock(); r.failures++; r.Unlock() }
func (r *busyRecorder) BusySkipped(int64)           { r.Lock(); r.busy++; r.Unlock() }

type env struct {
	repo     *persistence.BadgerRepository
	paper    *exchange.PaperExchange
	strategy *funcStrategy
	rec      *busyRecorder
	d        *Dispatcher
	bot      *models.Bot
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	account := &models.ExchangeAccount{Label: "paper", ExchangeCode: models.ExchangePaper}
	require.NoError(t, repo.CreateAccount(account))
	bot := &models.Bot{Name: "b", Template: "test", Timeframe: "1m", BaseCurrency: "BTC", QuoteCurrency: "USDT",
		ExchangeAccountID: account.ID, State: models.BotState{"counter": 0}}
	require.NoError(t, repo.CreateBot(bot))

	e := &env{repo: repo, paper: exchange.NewPaperExchange(), strategy: &funcStrategy{}, rec: &busyRecorder{}, bot: bot}
	provider := exchange.NewProvider(func() *exchange.PaperExchange { return e.paper })
	registry := processor.NewRegistry()
	registry.Register("test", func(json.RawMessage) (processor.Strategy, error) { return e.strategy, nil })

	exec := executor.New(repo, provider, zap.NewNop())
	e.d = New(repo, registry, nil, provider, exec, zap.NewNop(), WithRecorder(e.rec))
	e.d.SetStore(store.NewAdapter(repo, exec, provider, e.d.StopBot, zap.NewNop()))
	return e
}

func (e *env) reload(t *testing.T) *models.Bot {
	t.Helper()
	bot, err := e.repo.GetBot(e.bot.ID)
	require.NoError(t, err)
	return bot
}

func TestBusyBotIsNoOp(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	var calls int32
	e.strategy.process = func(context.Context, *processor.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	_, err := e.repo.AcquireProcessing(e.bot.ID)
	require.NoError(t, err)

	err = e.d.ProcessCommand(ctx, e.bot.ID, processor.CommandProcess, nil)
	assert.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.True(t, e.reload(t).Processing, "flag untouched by the skipped call")
	assert.Equal(t, 1, e.rec.busy)
}

func TestConcurrentCommandsRunOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	e.strategy.process = func(context.Context, *processor.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
		}
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- e.d.ProcessCommand(ctx, e.bot.ID, processor.CommandProcess, nil) }()
	<-entered

	for i := 0; i < 5; i++ {
		assert.NoError(t, e.d.ProcessCommand(ctx, e.bot.ID, processor.CommandProcess, nil))
	}
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 5, e.rec.busy)
	assert.False(t, e.reload(t).Processing)
}

func TestFailedCommandResetsFlag(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	boom := errors.New("strategy exploded")
	e.strategy.start = func(_ context.Context, c *processor.Context) error {
		c.State["counter"] = 99
		return boom
	}

	err := e.d.ProcessCommand(ctx, e.bot.ID, processor.CommandStart, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	bot := e.reload(t)
	assert.False(t, bot.Processing)
	assert.False(t, bot.Enabled, "failed start does not enable")
	assert.EqualValues(t, 0, bot.State["counter"], "state of a failed run is discarded")
	assert.Equal(t, 1, e.rec.failures)
}

func TestPanickingStrategyResetsFlag(t *testing.T) {
	e := newEnv(t)
	e.strategy.process = func(context.Context, *processor.Context) error { panic("nil map") }

	err := e.d.ProcessCommand(context.Background(), e.bot.ID, processor.CommandProcess, nil)
	require.Error(t, err)
	assert.False(t, e.reload(t).Processing)
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.strategy.start = func(_ context.Context, c *processor.Context) error {
		assert.True(t, c.OnStart)
		c.State["started"] = true
		return nil
	}

	require.NoError(t, e.d.Start(ctx, e.bot.ID))
	bot := e.reload(t)
	assert.True(t, bot.Enabled)
	assert.False(t, bot.Processing)
	assert.Equal(t, true, bot.State["started"])

	err := e.d.Start(ctx, e.bot.ID)
	assert.ErrorIs(t, err, models.ErrConflict)

	require.NoError(t, e.d.Stop(ctx, e.bot.ID))
	assert.False(t, e.reload(t).Enabled)

	assert.ErrorIs(t, e.d.Stop(ctx, e.bot.ID), models.ErrConflict)
	assert.ErrorIs(t, e.d.Process(ctx, e.bot.ID, nil), models.ErrConflict)
}

func TestUnknownBot(t *testing.T) {
	e := newEnv(t)
	err := e.d.ProcessCommand(context.Background(), 404, processor.CommandProcess, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProcessReceivesMarket(t *testing.T) {
	e := newEnv(t)
	var got models.MarketData
	e.strategy.process = func(_ context.Context, c *processor.Context) error {
		got = c.Market
		return nil
	}
	candle := models.Candle{Close: decimal.NewFromInt(5)}
	market := &models.MarketData{Candle: &candle, Candles: []models.Candle{candle}}

	require.NoError(t, e.d.ProcessCommand(context.Background(), e.bot.ID, processor.CommandProcess, market))
	require.NotNil(t, got.Candle)
	assert.True(t, got.Candle.Close.Equal(decimal.NewFromInt(5)))
	assert.Len(t, got.Candles, 1)
}

func TestStrategyDrivesOrdersThroughStore(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.paper.SetPrice("BTC/USDT", models.Candle{OpenTime: time.Now(),
		Open: decimal.NewFromInt(100), High: decimal.NewFromInt(100), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(100)})

	tp := decimal.NewFromInt(110)
	e.strategy.start = func(ctx context.Context, c *processor.Context) error {
		_, err := c.Control.Create(ctx, "A", smarttrade.NewOrder(decimal.NewFromInt(95), decimal.NewFromInt(1), &tp))
		return err
	}
	require.NoError(t, e.d.Start(ctx, e.bot.ID))
	require.NoError(t, e.d.PlacePendingOrders(ctx, e.bot.ID))
	assert.Equal(t, 1, e.paper.OpenOrders())

	trades, err := e.repo.ListActiveSmartTrades(e.bot.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	// fill the entry, then reconcile through the order-filled path
	e.paper.SetPrice("BTC/USDT", models.Candle{OpenTime: time.Now(),
		Open: decimal.NewFromInt(94), High: decimal.NewFromInt(94), Low: decimal.NewFromInt(94), Close: decimal.NewFromInt(94)})
	botID, err := e.d.ReconcileOrder(ctx, trades[0].Orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, e.bot.ID, botID)
	assert.Equal(t, 1, e.paper.OpenOrders(), "take profit now resting")

	_, err = e.d.ReconcileOrder(ctx, 999999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStrategyStopBot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.repo.SetEnabled(e.bot.ID, true))
	e.strategy.process = func(ctx context.Context, c *processor.Context) error {
		return c.Control.StopBot(ctx)
	}

	require.NoError(t, e.d.Process(ctx, e.bot.ID, nil))
	bot := e.reload(t)
	assert.False(t, bot.Enabled)
	assert.False(t, bot.Processing)
}

func TestProcessEnabledLoadsCandles(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.repo.SetEnabled(e.bot.ID, true))
	for i := 0; i < 3; i++ {
		e.paper.SetPrice("BTC/USDT", models.Candle{OpenTime: time.Now(), Close: decimal.NewFromInt(int64(100 + i))})
	}

	var got models.MarketData
	e.strategy.process = func(_ context.Context, c *processor.Context) error {
		got = c.Market
		return nil
	}
	require.NoError(t, e.d.ProcessEnabled(ctx))
	assert.Len(t, got.Candles, 3)
	require.NotNil(t, got.Candle)
	assert.True(t, got.Candle.Close.Equal(decimal.NewFromInt(102)))
	require.NoError(t, e.d.SweepEnabled(ctx))
}

func TestPlacePendingOrdersSkipsBusyBot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.paper.SetPrice("BTC/USDT", models.Candle{OpenTime: time.Now(),
		Open: decimal.NewFromInt(100), High: decimal.NewFromInt(100), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(100)})
	e.strategy.start = func(ctx context.Context, c *processor.Context) error {
		_, err := c.Control.Create(ctx, "A", smarttrade.NewOrder(decimal.NewFromInt(95), decimal.NewFromInt(1), nil))
		return err
	}
	require.NoError(t, e.d.Start(ctx, e.bot.ID))

	unlock, ok, err := e.d.locker.TryLock(ctx, lock.BotKey(e.bot.ID))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.d.PlacePendingOrders(ctx, e.bot.ID))
	require.NoError(t, e.d.SweepEnabled(ctx))
	assert.Zero(t, e.paper.OpenOrders())
	unlock()

	// the sweep and the process tick firing together still submit once
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.d.SweepEnabled(ctx))
		}()
	}
	wg.Wait()
	require.NoError(t, e.d.PlacePendingOrders(ctx, e.bot.ID))
	assert.Equal(t, 1, e.paper.OpenOrders())
}
