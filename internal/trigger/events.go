// Package trigger turns market and order events into bot commands.
package trigger

import (
	"time"

	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/processor"
)

// Kind identifies what caused an Event.
type Kind string

const (
	KindCandleClosed Kind = "candle_closed"
	KindOrderFilled  Kind = "order_filled"
	KindPublicTrade  Kind = "public_trade"
	KindCommand      Kind = "command"
)

// Event is the normalized form of every trigger the engine reacts to.
// OrderFilled events may leave BotID zero; the owning bot is found from the
// order.
type Event struct {
	Kind      Kind
	BotID     int64
	OrderID   int64
	Command   processor.Command
	Candle    *models.Candle
	Candles   []models.Candle
	Trade     *models.PublicTrade
	Timestamp time.Time
}

// CandleClosed builds the event sent when a candle of the bot's timeframe closes.
func CandleClosed(botID int64, candle models.Candle, history []models.Candle) Event {
	return Event{Kind: KindCandleClosed, BotID: botID, Candle: &candle, Candles: history, Timestamp: candle.CloseTime}
}

// OrderFilled builds the event sent when an exchange order fills.
func OrderFilled(botID, orderID int64) Event {
	return Event{Kind: KindOrderFilled, BotID: botID, OrderID: orderID, Timestamp: time.Now()}
}

// PublicTrade builds the event sent for a trade printed on the market.
func PublicTrade(botID int64, trade models.PublicTrade) Event {
	return Event{Kind: KindPublicTrade, BotID: botID, Trade: &trade, Timestamp: trade.Timestamp}
}

// CommandEvent builds a manual command event.
func CommandEvent(botID int64, cmd processor.Command) Event {
	return Event{Kind: KindCommand, BotID: botID, Command: cmd, Timestamp: time.Now()}
}

// Market returns the market payload handed to the strategy.
func (e Event) Market() *models.MarketData {
	market := models.EmptyMarketData()
	market.Candle = e.Candle
	market.Trade = e.Trade
	if e.Candles != nil {
		market.Candles = e.Candles
	}
	return &market
}
