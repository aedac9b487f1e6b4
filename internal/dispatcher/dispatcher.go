// Package dispatcher runs bot commands one at a time per bot and keeps
// the bot's enabled, processing and state fields consistent.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/executor"
	"smart-trade-bot-go/internal/lock"
	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/processor"
)

// Repository is the persistence the dispatcher needs.
type Repository interface {
	GetBot(id int64) (*models.Bot, error)
	ListBots() ([]*models.Bot, error)
	GetAccount(id int64) (*models.ExchangeAccount, error)
	SetEnabled(id int64, enabled bool) error
	AcquireProcessing(id int64) (*models.Bot, error)
	ReleaseProcessing(id int64, state models.BotState) error
	ListActiveSmartTrades(botID int64) ([]*models.SmartTrade, error)
	FindSmartTradeByOrderID(orderID int64) (*models.SmartTrade, error)
}

// StepExecutor advances one smart trade.
type StepExecutor interface {
	Next(ctx context.Context, smartTradeID int64) (executor.State, error)
}

// ExchangeResolver returns the exchange an account trades on.
type ExchangeResolver interface {
	FromAccount(account *models.ExchangeAccount) (exchange.Exchange, error)
}

// Recorder receives dispatcher events for metrics. A nil Recorder is allowed.
type Recorder interface {
	CommandRun(botID int64, command string)
	CommandFailed(botID int64, command string)
	BusySkipped(botID int64)
}

// Dispatcher is the single entry point for bot commands.
type Dispatcher struct {
	repo      Repository
	registry  *processor.Registry
	store     processor.Store
	exchanges ExchangeResolver
	executor  StepExecutor
	locker    lock.Locker
	recorder  Recorder
	logger    *zap.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLocker replaces the in-process locker, e.g. with a Redis one.
func WithLocker(l lock.Locker) Option {
	return func(d *Dispatcher) { d.locker = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// New creates a Dispatcher. The store may be set later with SetStore when
// it needs the dispatcher itself to stop bots.
func New(repo Repository, registry *processor.Registry, store processor.Store, exchanges ExchangeResolver, exec StepExecutor, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:      repo,
		registry:  registry,
		store:     store,
		exchanges: exchanges,
		executor:  exec,
		locker:    lock.NewMemoryLocker(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetStore sets the store handed to strategies.
func (d *Dispatcher) SetStore(store processor.Store) {
	d.store = store
}

// ProcessCommand runs cmd for the bot. If the bot is already processing a
// command the call is a no-op: it logs a warning and returns nil. On
// failure the processing flag is cleared and the error returned; on
// success start and stop also flip the enabled flag and the strategy's
// state is stored together with clearing the processing flag.
func (d *Dispatcher) ProcessCommand(ctx context.Context, botID int64, cmd processor.Command, market *models.MarketData) error {
	log := d.logger.With(
		zap.Int64("bot_id", botID),
		zap.String("command", string(cmd)),
		zap.String("run_id", uuid.NewString()),
	)

	bot, err := d.repo.GetBot(botID)
	if err != nil {
		return err
	}
	if bot.Processing {
		d.skipBusy(log, botID)
		return nil
	}

	unlock, ok, err := d.locker.TryLock(ctx, lock.BotKey(botID))
	if err != nil {
		return err
	}
	if !ok {
		d.skipBusy(log, botID)
		return nil
	}
	defer unlock()

	bot, err = d.repo.AcquireProcessing(botID)
	if errors.Is(err, models.ErrBusy) {
		d.skipBusy(log, botID)
		return nil
	}
	if err != nil {
		return err
	}

	if d.recorder != nil {
		d.recorder.CommandRun(botID, string(cmd))
	}
	log.Debug("Processing command")

	state, runErr := d.run(ctx, bot, cmd, market)
	if runErr != nil {
		if err := d.repo.ReleaseProcessing(botID, nil); err != nil {
			log.Error("Failed to reset processing flag", zap.Error(err))
		}
		if d.recorder != nil {
			d.recorder.CommandFailed(botID, string(cmd))
		}
		log.Error("Command failed", zap.Error(runErr))
		return fmt.Errorf("bot %d %s: %w", botID, cmd, runErr)
	}

	switch cmd {
	case processor.CommandStart, processor.CommandStop:
		if err := d.repo.SetEnabled(botID, cmd == processor.CommandStart); err != nil {
			if relErr := d.repo.ReleaseProcessing(botID, nil); relErr != nil {
				log.Error("Failed to reset processing flag", zap.Error(relErr))
			}
			return err
		}
	}

	if err := d.repo.ReleaseProcessing(botID, state); err != nil {
		log.Error("Failed to store bot state", zap.Error(err))
		return err
	}
	log.Info("Command completed")
	return nil
}

func (d *Dispatcher) skipBusy(log *zap.Logger, botID int64) {
	log.Warn("Bot is already processing a command, skipping")
	if d.recorder != nil {
		d.recorder.BusySkipped(botID)
	}
}

// run builds the strategy context and invokes the runner. A panicking
// strategy is turned into an error so the processing flag is still reset.
func (d *Dispatcher) run(ctx context.Context, bot *models.Bot, cmd processor.Command, market *models.MarketData) (state models.BotState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()

	strategy, err := d.registry.Create(bot.Template, bot.Settings)
	if err != nil {
		return nil, err
	}
	account, err := d.repo.GetAccount(bot.ExchangeAccountID)
	if err != nil {
		return nil, err
	}
	ex, err := d.exchanges.FromAccount(account)
	if err != nil {
		return nil, err
	}

	c := processor.NewContext(
		processor.NewControl(d.store, bot.ID),
		processor.ConfigFromBot(bot),
		ex,
		cmd,
		bot.State.Clone(),
		market,
	)
	if err := processor.NewRunner(strategy).Run(ctx, c); err != nil {
		return nil, err
	}
	return c.State, nil
}

// Start runs the start command on a stopped bot.
func (d *Dispatcher) Start(ctx context.Context, botID int64) error {
	bot, err := d.repo.GetBot(botID)
	if err != nil {
		return err
	}
	if bot.Enabled {
		return models.NewOpError("start", "bot", botID, fmt.Errorf("bot is already running: %w", models.ErrConflict))
	}
	return d.ProcessCommand(ctx, botID, processor.CommandStart, nil)
}

// Stop runs the stop command on a running bot.
func (d *Dispatcher) Stop(ctx context.Context, botID int64) error {
	bot, err := d.repo.GetBot(botID)
	if err != nil {
		return err
	}
	if !bot.Enabled {
		return models.NewOpError("stop", "bot", botID, fmt.Errorf("bot is already stopped: %w", models.ErrConflict))
	}
	return d.ProcessCommand(ctx, botID, processor.CommandStop, nil)
}

// Process runs the process command on a running bot.
func (d *Dispatcher) Process(ctx context.Context, botID int64, market *models.MarketData) error {
	bot, err := d.repo.GetBot(botID)
	if err != nil {
		return err
	}
	if !bot.Enabled {
		return models.NewOpError("process", "bot", botID, fmt.Errorf("bot is not running: %w", models.ErrConflict))
	}
	return d.ProcessCommand(ctx, botID, processor.CommandProcess, market)
}

// StopBot disables a bot without running its strategy. It is safe to call
// while the bot is processing.
func (d *Dispatcher) StopBot(_ context.Context, botID int64) error {
	if err := d.repo.SetEnabled(botID, false); err != nil {
		return err
	}
	d.logger.Warn("Bot stopped", zap.Int64("bot_id", botID))
	return nil
}
