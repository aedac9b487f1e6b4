package trigger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/processor"
)

// Dispatcher is the part of the command dispatcher triggers drive.
type Dispatcher interface {
	Start(ctx context.Context, botID int64) error
	Stop(ctx context.Context, botID int64) error
	Process(ctx context.Context, botID int64, market *models.MarketData) error
	ReconcileOrder(ctx context.Context, orderID int64) (int64, error)
	PlacePendingOrders(ctx context.Context, botID int64) error
}

// Recorder counts handled triggers. A nil Recorder is allowed.
type Recorder interface {
	TriggerHandled(kind string)
}

// CommandHandler maps events onto dispatcher commands and places whatever
// orders the strategy declared.
type CommandHandler struct {
	dispatcher Dispatcher
	recorder   Recorder
	logger     *zap.Logger
}

// NewCommandHandler creates a handler. recorder may be nil.
func NewCommandHandler(d Dispatcher, recorder Recorder, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{dispatcher: d, recorder: recorder, logger: logger}
}

// Handle runs the command ev calls for. A bot that is not running simply
// ignores market triggers.
func (h *CommandHandler) Handle(ctx context.Context, ev Event) error {
	if h.recorder != nil {
		h.recorder.TriggerHandled(string(ev.Kind))
	}

	switch ev.Kind {
	case KindCandleClosed, KindPublicTrade:
		return h.process(ctx, ev.BotID, ev.Market())

	case KindOrderFilled:
		botID, err := h.dispatcher.ReconcileOrder(ctx, ev.OrderID)
		if err != nil {
			return fmt.Errorf("reconcile order %d: %w", ev.OrderID, err)
		}
		return h.process(ctx, botID, ev.Market())

	case KindCommand:
		switch ev.Command {
		case processor.CommandStart:
			if err := h.dispatcher.Start(ctx, ev.BotID); err != nil {
				return err
			}
			return h.dispatcher.PlacePendingOrders(ctx, ev.BotID)
		case processor.CommandStop:
			return h.dispatcher.Stop(ctx, ev.BotID)
		case processor.CommandProcess:
			return h.process(ctx, ev.BotID, ev.Market())
		}
		return fmt.Errorf("unknown command %q: %w", ev.Command, models.ErrInvalidPayload)
	}
	return fmt.Errorf("unknown trigger %q: %w", ev.Kind, models.ErrInvalidPayload)
}

func (h *CommandHandler) process(ctx context.Context, botID int64, market *models.MarketData) error {
	if err := h.dispatcher.Process(ctx, botID, market); err != nil {
		if errors.Is(err, models.ErrConflict) {
			h.logger.Debug("Trigger ignored, bot is not running", zap.Int64("bot_id", botID))
			return nil
		}
		return err
	}
	return h.dispatcher.PlacePendingOrders(ctx, botID)
}
