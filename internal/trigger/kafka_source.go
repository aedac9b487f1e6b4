package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/processor"
)

// Reader is the subset of *kafka.Reader the source uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// message is the JSON payload published on the trigger topic.
type message struct {
	Type    Kind                `json:"type"`
	BotID   int64               `json:"bot_id"`
	OrderID int64               `json:"order_id,omitempty"`
	Command string              `json:"command,omitempty"`
	Candle  *models.Candle      `json:"candle,omitempty"`
	Candles []models.Candle     `json:"candles,omitempty"`
	Trade   *models.PublicTrade `json:"trade,omitempty"`
}

// KafkaSource consumes trigger events from a Kafka topic.
type KafkaSource struct {
	reader Reader
	sink   Sink
	logger *zap.Logger
}

// NewKafkaSource creates a consumer-group reader for cfg.
func NewKafkaSource(cfg models.KafkaConfig, sink Sink, logger *zap.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	return NewKafkaSourceWithReader(reader, sink, logger), nil
}

// NewKafkaSourceWithReader wraps an existing reader.
func NewKafkaSourceWithReader(reader Reader, sink Sink, logger *zap.Logger) *KafkaSource {
	return &KafkaSource{reader: reader, sink: sink, logger: logger}
}

// Close releases the reader.
func (s *KafkaSource) Close() error {
	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}

// Run consumes messages until ctx is canceled. Malformed messages are
// logged and committed so they do not block the partition.
func (s *KafkaSource) Run(ctx context.Context) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		ev, err := decodeMessage(m)
		if err != nil {
			s.logger.Warn("Dropping malformed trigger message",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		} else if err := s.sink.Dispatch(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dispatch: %w", err)
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func decodeMessage(m kafka.Message) (Event, error) {
	var msg message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return Event{}, fmt.Errorf("decode json: %w", err)
	}

	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	switch msg.Type {
	case KindCandleClosed:
		if msg.BotID == 0 || msg.Candle == nil {
			return Event{}, fmt.Errorf("candle_closed needs bot_id and candle: %w", models.ErrInvalidPayload)
		}
		return CandleClosed(msg.BotID, *msg.Candle, msg.Candles), nil
	case KindOrderFilled:
		if msg.OrderID == 0 {
			return Event{}, fmt.Errorf("order_filled needs order_id: %w", models.ErrInvalidPayload)
		}
		ev := OrderFilled(msg.BotID, msg.OrderID)
		ev.Timestamp = ts
		return ev, nil
	case KindPublicTrade:
		if msg.BotID == 0 || msg.Trade == nil {
			return Event{}, fmt.Errorf("public_trade needs bot_id and trade: %w", models.ErrInvalidPayload)
		}
		return PublicTrade(msg.BotID, *msg.Trade), nil
	case KindCommand:
		cmd, err := processor.ParseCommand(msg.Command)
		if err != nil {
			return Event{}, err
		}
		if msg.BotID == 0 {
			return Event{}, fmt.Errorf("command needs bot_id: %w", models.ErrInvalidPayload)
		}
		ev := CommandEvent(msg.BotID, cmd)
		ev.Timestamp = ts
		return ev, nil
	}
	return Event{}, fmt.Errorf("unknown trigger type %q: %w", msg.Type, models.ErrInvalidPayload)
}
