package processor

import (
	"encoding/json"
	"fmt"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/models"
)

// Command is what the dispatcher asks a bot to do.
type Command string

const (
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandProcess Command = "process"
)

// ParseCommand validates a command name.
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandStart, CommandStop, CommandProcess:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// BotConfig is the read-only view of the bot handed to strategies.
type BotConfig struct {
	ID            int64
	Name          string
	Template      string
	Timeframe     string
	Symbol        string
	BaseCurrency  string
	QuoteCurrency string
	Settings      json.RawMessage
}

// ConfigFromBot builds the strategy view of bot.
func ConfigFromBot(bot *models.Bot) BotConfig {
	return BotConfig{
		ID:            bot.ID,
		Name:          bot.Name,
		Template:      bot.Template,
		Timeframe:     bot.Timeframe,
		Symbol:        bot.Symbol(),
		BaseCurrency:  bot.BaseCurrency,
		QuoteCurrency: bot.QuoteCurrency,
		Settings:      bot.Settings,
	}
}

// Context is everything a strategy callback may use. State is mutable and
// persisted by the dispatcher when the callback succeeds.
type Context struct {
	Control  *Control
	Config   BotConfig
	Exchange exchange.Exchange
	Command  Command

	OnStart   bool
	OnStop    bool
	OnProcess bool

	State  models.BotState
	Market models.MarketData
}

// NewContext builds the context for one command. A nil market becomes the
// empty market with no candles.
func NewContext(control *Control, config BotConfig, ex exchange.Exchange, cmd Command, state models.BotState, market *models.MarketData) *Context {
	if state == nil {
		state = models.BotState{}
	}
	m := models.EmptyMarketData()
	if market != nil {
		m = *market
		if m.Candles == nil {
			m.Candles = []models.Candle{}
		}
	}
	return &Context{
		Control:   control,
		Config:    config,
		Exchange:  ex,
		Command:   cmd,
		OnStart:   cmd == CommandStart,
		OnStop:    cmd == CommandStop,
		OnProcess: cmd == CommandProcess,
		State:     state,
		Market:    m,
	}
}
