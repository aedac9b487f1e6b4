// Package grid 是一个参考网格模板：在锚定价格下方挂出一组限价买单，
// 每一格由高一个间距的限价卖单平仓。完成一次买卖的网格会在原价位重新创建。
package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/executor"
	gridcalc "smart-trade-bot-go/internal/grid"
	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/money"
	"smart-trade-bot-go/internal/processor"
	"smart-trade-bot-go/internal/smarttrade"
)

// Name 是机器人引用的模板名称
const Name = "grid"

// 状态键
const (
	stateAnchor     = "anchor"
	stateInvestment = "investment"
	stateCycles     = "cycles"
)

// Settings 网格模板参数
type Settings struct {
	Levels   int             `json:"levels"`    // 锚定价下方的网格数量
	Spacing  decimal.Decimal `json:"spacing"`   // 网格间距, 如 0.01 表示 1%
	Quantity decimal.Decimal `json:"quantity"`  // 每格买入的基础货币数量
	TickSize decimal.Decimal `json:"tick_size"` // 价格精度
	StepSize decimal.Decimal `json:"step_size"` // 数量精度
}

func (s Settings) validate() error {
	if s.Levels <= 0 {
		return fmt.Errorf("levels must be positive: %w", models.ErrInvalidPayload)
	}
	if !s.Spacing.IsPositive() || s.Spacing.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("spacing must be in (0, 1): %w", models.ErrInvalidPayload)
	}
	if !money.RoundToStep(s.Quantity, s.StepSize).IsPositive() {
		return fmt.Errorf("quantity must be positive after rounding: %w", models.ErrInvalidPayload)
	}
	return nil
}

// Strategy 实现 processor.Strategy 接口
type Strategy struct {
	settings Settings
	logger   *zap.Logger
}

// New 返回一个使用 logger 记录日志的 processor.Factory
func New(logger *zap.Logger) processor.Factory {
	return func(raw json.RawMessage) (processor.Strategy, error) {
		var s Settings
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("grid settings: %w", err)
			}
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		return &Strategy{settings: s, logger: logger}, nil
	}
}

// Register 将网格模板注册到 r
func Register(r *processor.Registry, logger *zap.Logger) {
	r.Register(Name, New(logger))
}

// Ref 返回第 i 格（从 1 开始）对应的智能交易引用
func Ref(i int) string { return "G" + strconv.Itoa(i) }

// OnStart 以当前价格作为锚定价，创建所有尚未运行的网格
func (s *Strategy) OnStart(ctx context.Context, c *processor.Context) error {
	anchor, err := s.currentPrice(ctx, c)
	if err != nil {
		return err
	}
	c.State[stateAnchor] = anchor.String()
	s.logger.Info("Grid anchored",
		zap.Int64("bot_id", c.Config.ID),
		zap.String("symbol", c.Config.Symbol),
		zap.String("anchor", anchor.String()),
	)
	return s.sync(ctx, c, anchor)
}

// OnProcess 重建已完成的网格，并刷新投资统计
func (s *Strategy) OnProcess(ctx context.Context, c *processor.Context) error {
	var raw string
	found, err := c.State.Decode(stateAnchor, &raw)
	if err != nil {
		return fmt.Errorf("grid state: %w", err)
	}
	if !found {
		return s.OnStart(ctx, c)
	}
	anchor, err := money.Parse(raw)
	if err != nil {
		return fmt.Errorf("grid anchor %q: %w", raw, err)
	}
	return s.sync(ctx, c, anchor)
}

// OnStop 撤销所有网格的挂单。锚定价会保留，重启时按当时的价格重新锚定。
func (s *Strategy) OnStop(ctx context.Context, c *processor.Context) error {
	for i := 1; i <= s.settings.Levels; i++ {
		if _, err := c.Control.Cancel(ctx, Ref(i)); err != nil {
			return fmt.Errorf("cancel %s: %w", Ref(i), err)
		}
	}
	delete(c.State, stateAnchor)
	return nil
}

// Levels 计算锚定价下方每一格的买入价和卖出价
func (s *Strategy) Levels(anchor decimal.Decimal) []smarttrade.Payload {
	qty := money.RoundToStep(s.settings.Quantity, s.settings.StepSize)
	one := decimal.NewFromInt(1)
	out := make([]smarttrade.Payload, 0, s.settings.Levels)
	for i := 1; i <= s.settings.Levels; i++ {
		offset := s.settings.Spacing.Mul(decimal.NewFromInt(int64(i)))
		buy := money.RoundToStep(anchor.Mul(one.Sub(offset)), s.settings.TickSize)
		sell := money.RoundToStep(buy.Mul(one.Add(s.settings.Spacing)), s.settings.TickSize)
		out = append(out, smarttrade.NewOrder(buy, qty, &sell))
	}
	return out
}

func (s *Strategy) sync(ctx context.Context, c *processor.Context, anchor decimal.Decimal) error {
	var cycles int
	if _, err := c.State.Decode(stateCycles, &cycles); err != nil {
		return fmt.Errorf("grid state: %w", err)
	}

	levels := make([]gridcalc.Level, 0, s.settings.Levels)
	for i, payload := range s.Levels(anchor) {
		ref := Ref(i + 1)
		entity, err := c.Control.Get(ctx, ref)
		if err != nil {
			return fmt.Errorf("get %s: %w", ref, err)
		}

		switch {
		case entity == nil:
			entity, err = c.Control.Create(ctx, ref, payload)
		case executor.StateOf(entity.Record()) == executor.StateCompleted:
			cycles++
			s.logger.Info("Grid level completed, replacing",
				zap.Int64("bot_id", c.Config.ID),
				zap.String("ref", ref),
			)
			entity, err = c.Control.Replace(ctx, ref, payload)
		case executor.StateOf(entity.Record()) == executor.StateCanceled:
			entity, err = c.Control.Replace(ctx, ref, payload)
		}
		if err != nil {
			return fmt.Errorf("place %s: %w", ref, err)
		}
		levels = append(levels, levelOf(entity))
	}

	c.State[stateCycles] = cycles
	c.State[stateInvestment] = gridcalc.CalculateInvestment(levels)
	return nil
}

func levelOf(e smarttrade.Entity) gridcalc.Level {
	var l gridcalc.Level
	if entries := e.EntryOrders(); len(entries) > 0 {
		l.Buy = gridcalc.Leg{Status: entries[0].Status, Price: entries[0].Price, Quantity: entries[0].Quantity}
	}
	if tps := e.TakeProfitOrders(); len(tps) > 0 {
		l.Sell = gridcalc.Leg{Status: tps[0].Status, Price: tps[0].Price, Quantity: tps[0].Quantity}
	}
	return l
}

// currentPrice 优先使用行情数据中的最新收盘价，否则向交易所查询
func (s *Strategy) currentPrice(ctx context.Context, c *processor.Context) (decimal.Decimal, error) {
	if c.Market.Candle != nil && c.Market.Candle.Close.IsPositive() {
		return c.Market.Candle.Close, nil
	}
	if n := len(c.Market.Candles); n > 0 && c.Market.Candles[n-1].Close.IsPositive() {
		return c.Market.Candles[n-1].Close, nil
	}
	if c.Exchange == nil {
		return decimal.Zero, fmt.Errorf("no market data for %s: %w", c.Config.Symbol, models.ErrExternal)
	}
	interval := c.Config.Timeframe
	if interval == "" {
		interval = "1m"
	}
	candles, err := c.Exchange.GetCandlesticks(ctx, exchange.CandleRequest{Symbol: c.Config.Symbol, Interval: interval, Limit: 1})
	if err != nil {
		return decimal.Zero, fmt.Errorf("latest candle for %s: %w", c.Config.Symbol, err)
	}
	if len(candles) == 0 || !candles[len(candles)-1].Close.IsPositive() {
		return decimal.Zero, fmt.Errorf("no price for %s: %w", c.Config.Symbol, models.ErrExternal)
	}
	return candles[len(candles)-1].Close, nil
}
