package processor

import (
	"context"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/smarttrade"
)

// Store is the smart-trade protocol strategies talk to.
//
// Reads report absence as (nil, nil). UpdateSmartTrade also returns
// (nil, nil) when there is nothing to change.
type Store interface {
	GetSmartTrade(ctx context.Context, ref string, botID int64) (smarttrade.Entity, error)
	CreateSmartTrade(ctx context.Context, ref string, payload smarttrade.Payload, botID int64) (smarttrade.Entity, error)
	UpdateSmartTrade(ctx context.Context, ref string, sell *smarttrade.SellPayload, botID int64) (smarttrade.Entity, error)
	CancelSmartTrade(ctx context.Context, ref string, botID int64) (bool, error)
	StopBot(ctx context.Context, botID int64) error
	GetExchange(ctx context.Context, label string) (exchange.Exchange, error)
}

// Control binds a Store to one bot so strategies cannot touch other bots.
type Control struct {
	store Store
	botID int64
}

// NewControl creates a Control for botID.
func NewControl(store Store, botID int64) *Control {
	return &Control{store: store, botID: botID}
}

// BotID returns the bot this control is bound to.
func (c *Control) BotID() int64 { return c.botID }

// Get returns the smart trade holding ref, or nil.
func (c *Control) Get(ctx context.Context, ref string) (smarttrade.Entity, error) {
	return c.store.GetSmartTrade(ctx, ref, c.botID)
}

// Create makes a new smart trade under ref. A trade already holding ref
// is released, not cancelled.
func (c *Control) Create(ctx context.Context, ref string, payload smarttrade.Payload) (smarttrade.Entity, error) {
	return c.store.CreateSmartTrade(ctx, ref, payload, c.botID)
}

// Replace is Create under the name strategies use when a completed trade
// is superseded.
func (c *Control) Replace(ctx context.Context, ref string, payload smarttrade.Payload) (smarttrade.Entity, error) {
	return c.Create(ctx, ref, payload)
}

// Update attaches a take profit to the trade holding ref.
func (c *Control) Update(ctx context.Context, ref string, sell *smarttrade.SellPayload) (smarttrade.Entity, error) {
	return c.store.UpdateSmartTrade(ctx, ref, sell, c.botID)
}

// Cancel cancels the open legs of the trade holding ref.
func (c *Control) Cancel(ctx context.Context, ref string) (bool, error) {
	return c.store.CancelSmartTrade(ctx, ref, c.botID)
}

// StopBot disables the bot once the current command finishes.
func (c *Control) StopBot(ctx context.Context) error {
	return c.store.StopBot(ctx, c.botID)
}

// Exchange resolves an exchange account by label, or nil.
func (c *Control) Exchange(ctx context.Context, label string) (exchange.Exchange, error) {
	return c.store.GetExchange(ctx, label)
}
