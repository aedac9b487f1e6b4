package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/lock"
	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/processor"
)

// withBotLock runs fn while holding the bot's lock. When another command or
// sweep holds it, fn is skipped and nil returned; the next sweep retries.
func (d *Dispatcher) withBotLock(ctx context.Context, botID int64, fn func() error) error {
	unlock, ok, err := d.locker.TryLock(ctx, lock.BotKey(botID))
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Debug("Bot is busy, skipping order placement", zap.Int64("bot_id", botID))
		return nil
	}
	defer unlock()
	return fn()
}

// PlacePendingOrders advances every smart trade of the bot that still has
// an Idle or Placed leg. Failures are collected, not short-circuited.
func (d *Dispatcher) PlacePendingOrders(ctx context.Context, botID int64) error {
	return d.withBotLock(ctx, botID, func() error {
		return d.placePending(ctx, botID)
	})
}

func (d *Dispatcher) placePending(ctx context.Context, botID int64) error {
	trades, err := d.repo.ListActiveSmartTrades(botID)
	if err != nil {
		return err
	}

	var errs []error
	for _, st := range trades {
		state, err := d.executor.Next(ctx, st.ID)
		if err != nil {
			d.logger.Error("Failed to advance smart trade",
				zap.Int64("bot_id", botID),
				zap.Int64("smart_trade_id", st.ID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("smart trade %d: %w", st.ID, err))
			continue
		}
		d.logger.Debug("Smart trade advanced",
			zap.Int64("bot_id", botID),
			zap.Int64("smart_trade_id", st.ID),
			zap.String("state", string(state)),
		)
	}
	return errors.Join(errs...)
}

// ReconcileOrder advances the smart trade owning orderID and returns the
// owning bot's id, so an order-filled event can be followed by a process
// command for that bot.
func (d *Dispatcher) ReconcileOrder(ctx context.Context, orderID int64) (int64, error) {
	st, err := d.repo.FindSmartTradeByOrderID(orderID)
	if err != nil {
		return 0, err
	}
	err = d.withBotLock(ctx, st.BotID, func() error {
		_, err := d.executor.Next(ctx, st.ID)
		return err
	})
	return st.BotID, err
}

// ProcessEnabled sends a process command to every enabled bot, with the
// latest candles of its timeframe, then places their pending orders.
func (d *Dispatcher) ProcessEnabled(ctx context.Context) error {
	bots, err := d.repo.ListBots()
	if err != nil {
		return err
	}

	var errs []error
	for _, bot := range bots {
		if !bot.Enabled {
			continue
		}
		market := d.loadMarket(ctx, bot)
		if err := d.ProcessCommand(ctx, bot.ID, processor.CommandProcess, market); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.PlacePendingOrders(ctx, bot.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SweepEnabled places pending orders for every enabled bot.
func (d *Dispatcher) SweepEnabled(ctx context.Context) error {
	bots, err := d.repo.ListBots()
	if err != nil {
		return err
	}
	var errs []error
	for _, bot := range bots {
		if !bot.Enabled {
			continue
		}
		if err := d.PlacePendingOrders(ctx, bot.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const marketHistory = 100

// loadMarket fetches recent candles. Market data is best effort: a failure
// leaves the strategy with an empty market.
func (d *Dispatcher) loadMarket(ctx context.Context, bot *models.Bot) *models.MarketData {
	market := models.EmptyMarketData()
	if bot.Timeframe == "" {
		return &market
	}
	account, err := d.repo.GetAccount(bot.ExchangeAccountID)
	if err != nil {
		d.logger.Warn("No account for market data", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return &market
	}
	ex, err := d.exchanges.FromAccount(account)
	if err != nil {
		d.logger.Warn("No exchange for market data", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return &market
	}
	candles, err := ex.GetCandlesticks(ctx, exchange.CandleRequest{
		Symbol:   bot.Symbol(),
		Interval: bot.Timeframe,
		Limit:    marketHistory,
	})
	if err != nil {
		d.logger.Warn("Failed to load candles", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return &market
	}
	if len(candles) > 0 {
		market.Candles = candles
		last := candles[len(candles)-1]
		market.Candle = &last
	}
	return &market
}
