package grid

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smart-trade-bot-go/internal/exchange"
	gridcalc "smart-trade-bot-go/internal/grid"
	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/processor"
	"smart-trade-bot-go/internal/smarttrade"
)

// memStore 与真实存储一样，每个引用只保留一条记录
type memStore struct {
	bot     *models.Bot
	trades  map[string]*models.SmartTrade
	creates int
}

func newMemStore() *memStore {
	return &memStore{
		bot:    &models.Bot{ID: 1, BaseCurrency: "BTC", QuoteCurrency: "USDT"},
		trades: map[string]*models.SmartTrade{},
	}
}

func (m *memStore) GetSmartTrade(_ context.Context, ref string, _ int64) (smarttrade.Entity, error) {
	rec, ok := m.trades[ref]
	if !ok {
		return nil, nil
	}
	return smarttrade.FromRecord(rec)
}

func (m *memStore) CreateSmartTrade(_ context.Context, ref string, p smarttrade.Payload, _ int64) (smarttrade.Entity, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m.creates++
	rec := smarttrade.NewRecord(ref, p, m.bot, time.Now())
	m.trades[ref] = rec
	return smarttrade.FromRecord(rec)
}

func (m *memStore) UpdateSmartTrade(context.Context, string, *smarttrade.SellPayload, int64) (smarttrade.Entity, error) {
	return nil, nil
}

func (m *memStore) CancelSmartTrade(_ context.Context, ref string, _ int64) (bool, error) {
	rec, ok := m.trades[ref]
	if !ok {
		return false, nil
	}
	for i := range rec.Orders {
		if !rec.Orders[i].Status.Terminal() {
			rec.Orders[i].Status = models.StatusCanceled
		}
	}
	return true, nil
}

func (m *memStore) StopBot(context.Context, int64) error { return nil }

func (m *memStore) GetExchange(context.Context, string) (exchange.Exchange, error) { return nil, nil }

func (m *memStore) fill(ref string) {
	for i := range m.trades[ref].Orders {
		m.trades[ref].Orders[i].Status = models.StatusFilled
	}
}

func newStrategy(t *testing.T) processor.Strategy {
	t.Helper()
	raw := json.RawMessage(`{"levels":3,"spacing":"0.01","quantity":"0.0105","tick_size":"0.01","step_size":"0.001"}`)
	s, err := New(zap.NewNop())(raw)
	require.NoError(t, err)
	return s
}

func newContext(store *memStore, cmd processor.Command, state models.BotState, market *models.MarketData) *processor.Context {
	return processor.NewContext(processor.NewControl(store, 1), processor.BotConfig{ID: 1, Symbol: "BTC/USDT", Timeframe: "1m"}, nil, cmd, state, market)
}

func TestSettingsValidation(t *testing.T) {
	for _, raw := range []string{
		`{"levels":0,"spacing":"0.01","quantity":"1"}`,
		`{"levels":2,"spacing":"0","quantity":"1"}`,
		`{"levels":2,"spacing":"1.5","quantity":"1"}`,
		`{"levels":2,"spacing":"0.01","quantity":"0.0004","step_size":"0.001"}`,
		`not json`,
	} {
		_, err := New(zap.NewNop())(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}
}

func TestLevels(t *testing.T) {
	s := newStrategy(t).(*Strategy)
	levels := s.Levels(decimal.NewFromInt(100))
	require.Len(t, levels, 3)

	assert.Equal(t, "99", levels[0].Entry[0].Price.String())
	assert.Equal(t, "99.99", levels[0].TakeProfit[0].Price.String())
	assert.Equal(t, "97", levels[2].Entry[0].Price.String())
	assert.Equal(t, "97.97", levels[2].TakeProfit[0].Price.String())
	assert.Equal(t, "0.01", levels[1].Entry[0].Quantity.String(), "quantity is floored to the step size")
}

func TestOnStartCreatesLevels(t *testing.T) {
	store := newMemStore()
	s := newStrategy(t)
	candle := models.Candle{Close: decimal.NewFromInt(100)}
	c := newContext(store, processor.CommandStart, nil, &models.MarketData{Candle: &candle})

	require.NoError(t, processor.NewRunner(s).Run(context.Background(), c))

	assert.Len(t, store.trades, 3)
	assert.Equal(t, "100", c.State[stateAnchor])
	inv, ok := c.State[stateInvestment].(gridcalc.Investment)
	require.True(t, ok)
	// 0.01 * (99 + 98 + 97)
	assert.Equal(t, "2.94", inv.Quote.String())
	assert.True(t, inv.Base.IsZero())
}

func TestOnStartWithoutPriceFails(t *testing.T) {
	c := newContext(newMemStore(), processor.CommandStart, nil, nil)
	err := newStrategy(t).OnStart(context.Background(), c)
	assert.ErrorIs(t, err, models.ErrExternal)
}

func TestOnProcessReplacesCompletedLevels(t *testing.T) {
	store := newMemStore()
	s := newStrategy(t)
	state := models.BotState{stateAnchor: "100"}

	require.NoError(t, s.OnProcess(context.Background(), newContext(store, processor.CommandProcess, state, nil)))
	require.Equal(t, 3, store.creates)

	// G1 完成了一次完整买卖，G2 只买入
	store.fill(Ref(1))
	store.trades[Ref(2)].Orders[0].Status = models.StatusFilled

	c := newContext(store, processor.CommandProcess, state, nil)
	require.NoError(t, s.OnProcess(context.Background(), c))

	assert.Equal(t, 4, store.creates, "only the completed level is replaced")
	assert.Equal(t, models.StatusIdle, store.trades[Ref(1)].Orders[0].Status)
	assert.Equal(t, 1, c.State[stateCycles])

	inv := c.State[stateInvestment].(gridcalc.Investment)
	assert.Equal(t, "0.01", inv.Base.String(), "G2 holds base waiting for its sell")
	assert.Equal(t, "1.96", inv.Quote.String(), "G1 and G3 still need quote")
}

func TestOnStopCancelsAndRestartRecreates(t *testing.T) {
	store := newMemStore()
	s := newStrategy(t)
	state := models.BotState{stateAnchor: "100"}
	require.NoError(t, s.OnProcess(context.Background(), newContext(store, processor.CommandProcess, state, nil)))

	stop := newContext(store, processor.CommandStop, state, nil)
	require.NoError(t, s.OnStop(context.Background(), stop))
	for _, rec := range store.trades {
		assert.Equal(t, models.StatusCanceled, rec.Orders[0].Status)
	}
	assert.NotContains(t, stop.State, stateAnchor)

	candle := models.Candle{Close: decimal.NewFromInt(200)}
	start := newContext(store, processor.CommandStart, stop.State, &models.MarketData{Candle: &candle})
	require.NoError(t, s.OnStart(context.Background(), start))
	assert.Equal(t, 6, store.creates)
	assert.Equal(t, "198", store.trades[Ref(1)].Orders[0].Price.String())
}
