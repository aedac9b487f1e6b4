// Package store adapts persistence and the executor to the smart-trade
// protocol strategies use.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/executor"
	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/processor"
	"smart-trade-bot-go/internal/smarttrade"
)

// Repository is the persistence the adapter needs.
type Repository interface {
	GetBot(id int64) (*models.Bot, error)
	FindAccountByLabel(label string) (*models.ExchangeAccount, error)
	CreateSmartTrade(st *models.SmartTrade) (*models.SmartTrade, error)
	FindSmartTradeByRef(botID int64, ref string) (*models.SmartTrade, error)
	AttachTakeProfit(id int64, order models.Order) (*models.SmartTrade, bool, error)
}

// Canceller cancels the open legs of a smart trade.
type Canceller interface {
	CancelOrders(ctx context.Context, smartTradeID int64) (*executor.CancelReport, error)
}

// ExchangeResolver returns the exchange an account trades on.
type ExchangeResolver interface {
	FromAccount(account *models.ExchangeAccount) (exchange.Exchange, error)
}

// StopFunc disables a bot.
type StopFunc func(ctx context.Context, botID int64) error

// Recorder receives adapter events for metrics. A nil Recorder is allowed.
type Recorder interface {
	SmartTradeCreated(botID int64)
}

// Adapter implements processor.Store.
type Adapter struct {
	repo      Repository
	canceller Canceller
	exchanges ExchangeResolver
	stop      StopFunc
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

var _ processor.Store = (*Adapter)(nil)

// Option customises an Adapter.
type Option func(*Adapter)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Adapter) { a.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter creates an Adapter.
func NewAdapter(repo Repository, canceller Canceller, exchanges ExchangeResolver, stop StopFunc, logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		repo:      repo,
		canceller: canceller,
		exchanges: exchanges,
		stop:      stop,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetSmartTrade returns the trade holding ref for the bot, or (nil, nil)
// if there is none. Storage failures are returned as errors.
func (a *Adapter) GetSmartTrade(_ context.Context, ref string, botID int64) (smarttrade.Entity, error) {
	rec, err := a.repo.FindSmartTradeByRef(botID, ref)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return smarttrade.FromRecord(rec)
}

// CreateSmartTrade creates a trade under ref, releasing ref from the
// trade that held it. A missing bot is an error.
func (a *Adapter) CreateSmartTrade(_ context.Context, ref string, payload smarttrade.Payload, botID int64) (smarttrade.Entity, error) {
	bot, err := a.repo.GetBot(botID)
	if err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("create smart trade %q for bot %d: %w", ref, botID, err)
	}

	rec, err := a.repo.CreateSmartTrade(smarttrade.NewRecord(ref, payload, bot, a.now()))
	if err != nil {
		return nil, err
	}
	if a.recorder != nil {
		a.recorder.SmartTradeCreated(botID)
	}
	a.logger.Info("Smart trade created",
		zap.Int64("bot_id", botID),
		zap.Int64("smart_trade_id", rec.ID),
		zap.String("ref", ref),
		zap.String("structure", string(rec.EntryType)+"/"+string(rec.TakeProfitType)),
	)
	return smarttrade.FromRecord(rec)
}

// UpdateSmartTrade attaches a take profit to the trade holding ref.
// It returns (nil, nil) when sell, the bot, the trade or its entry leg is
// missing, and the unchanged trade when a take profit already exists.
func (a *Adapter) UpdateSmartTrade(_ context.Context, ref string, sell *smarttrade.SellPayload, botID int64) (smarttrade.Entity, error) {
	if sell == nil {
		return nil, nil
	}
	if _, err := a.repo.GetBot(botID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := a.repo.FindSmartTradeByRef(botID, ref)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(rec.OrdersByRole(models.RoleEntry)) == 0 {
		return nil, nil
	}

	entity, err := smarttrade.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	attach := &takeProfitAttacher{}
	entity.Accept(attach)
	if !attach.needed {
		return entity, nil
	}

	order := sell.TakeProfitOrder(attach.entry.Quantity, a.now())
	updated, attached, err := a.repo.AttachTakeProfit(rec.ID, order)
	if err != nil {
		return nil, err
	}
	if attached {
		a.logger.Info("Take profit attached",
			zap.Int64("bot_id", botID),
			zap.Int64("smart_trade_id", rec.ID),
			zap.String("ref", ref),
			zap.String("price", sell.Price.String()),
		)
	}
	return smarttrade.FromRecord(updated)
}

// takeProfitAttacher decides whether a structure can take a new take profit.
// Only Order/None can; every other structure already has one.
type takeProfitAttacher struct {
	needed bool
	entry  models.Order
}

func (v *takeProfitAttacher) VisitOrderNone(e *smarttrade.OrderNone) {
	v.needed = true
	v.entry = e.Entry
}
func (v *takeProfitAttacher) VisitOrderOrder(*smarttrade.OrderOrder)     {}
func (v *takeProfitAttacher) VisitOrderLadder(*smarttrade.OrderLadder)   {}
func (v *takeProfitAttacher) VisitLadderOrder(*smarttrade.LadderOrder)   {}
func (v *takeProfitAttacher) VisitLadderLadder(*smarttrade.LadderLadder) {}

// CancelSmartTrade cancels the open legs of the trade holding ref. It
// returns false when the bot or the trade does not exist. A partial
// cancel returns true together with the error.
func (a *Adapter) CancelSmartTrade(ctx context.Context, ref string, botID int64) (bool, error) {
	if _, err := a.repo.GetBot(botID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	rec, err := a.repo.FindSmartTradeByRef(botID, ref)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := a.canceller.CancelOrders(ctx, rec.ID); err != nil {
		return true, err
	}
	return true, nil
}

// StopBot disables the bot through the stop function.
func (a *Adapter) StopBot(ctx context.Context, botID int64) error {
	return a.stop(ctx, botID)
}

// GetExchange resolves an exchange by account label, or (nil, nil).
func (a *Adapter) GetExchange(_ context.Context, label string) (exchange.Exchange, error) {
	account, err := a.repo.FindAccountByLabel(label)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a.exchanges.FromAccount(account)
}
