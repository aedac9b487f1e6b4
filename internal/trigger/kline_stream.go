package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smart-trade-bot-go/internal/models"
)

// Sink receives events produced by a trigger source. *Queue is a Sink.
type Sink interface {
	Dispatch(ctx context.Context, ev Event) error
}

// Subscription binds a bot to the candles of its symbol and timeframe.
type Subscription struct {
	BotID    int64
	Symbol   string // BTC/USDT
	Interval string // 1m, 1h...
}

func (s Subscription) stream() string {
	return strings.ToLower(strings.ReplaceAll(s.Symbol, "/", "")) + "@kline_" + s.Interval
}

const (
	defaultPongWait  = 60 * time.Second
	reconnectDelay   = 5 * time.Second
	candleHistoryLen = 100
)

// KlineStream listens to the exchange's combined kline stream and emits a
// CandleClosed event for every subscribed bot when a candle closes.
type KlineStream struct {
	baseURL    string
	pingPeriod time.Duration
	pongWait   time.Duration
	reconnect  time.Duration
	sink       Sink
	logger     *zap.Logger

	subs map[string][]int64 // stream name -> bot ids

	mu      sync.Mutex
	history map[string][]models.Candle
}

// NewKlineStream creates a stream source. Zero intervals in cfg fall back
// to a 60s pong timeout with pings at 9/10 of it.
func NewKlineStream(cfg models.StreamConfig, subs []Subscription, sink Sink, logger *zap.Logger) *KlineStream {
	pongWait := time.Duration(cfg.WebSocketPongTimeoutSec) * time.Second
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	pingPeriod := time.Duration(cfg.WebSocketPingIntervalSec) * time.Second
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = (pongWait * 9) / 10
	}

	k := &KlineStream{
		baseURL:    strings.TrimRight(cfg.WSBaseURL, "/"),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		reconnect:  reconnectDelay,
		sink:       sink,
		logger:     logger,
		subs:       make(map[string][]int64),
		history:    make(map[string][]models.Candle),
	}
	for _, s := range subs {
		name := s.stream()
		k.subs[name] = append(k.subs[name], s.BotID)
	}
	return k
}

// URL is the combined stream address for all subscriptions.
func (k *KlineStream) URL() string {
	names := make([]string, 0, len(k.subs))
	for name := range k.subs {
		names = append(names, name)
	}
	return fmt.Sprintf("%s/stream?streams=%s", k.baseURL, strings.Join(names, "/"))
}

// Run keeps the connection alive until ctx is canceled, reconnecting after
// every failure.
func (k *KlineStream) Run(ctx context.Context) error {
	if len(k.subs) == 0 {
		k.logger.Info("No kline subscriptions, stream not started")
		return nil
	}
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, k.URL(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger.Warn("WebSocket connection failed, retrying", zap.Error(err), zap.Duration("delay", k.reconnect))
		} else {
			k.logger.Info("WebSocket connected", zap.Int("streams", len(k.subs)))
			if err := k.handle(ctx, conn); err != nil {
				k.logger.Warn("WebSocket disconnected", zap.Error(err))
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			k.logger.Info("Kline stream stopped")
			return nil
		case <-time.After(k.reconnect):
		}
	}
}

// handle reads messages from one connection until it breaks or ctx ends.
func (k *KlineStream) handle(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(k.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(k.pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(k.pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					k.logger.Warn("Failed to send ping", zap.Error(err))
					return
				}
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(k.pongWait))
		stream, candle, closed, err := parseKline(message)
		if err != nil {
			k.logger.Warn("Failed to parse kline message", zap.Error(err))
			continue
		}
		if !closed {
			continue
		}
		if err := k.emit(ctx, stream, candle); err != nil {
			return err
		}
	}
}

func (k *KlineStream) emit(ctx context.Context, stream string, candle models.Candle) error {
	bots := k.subs[stream]
	if len(bots) == 0 {
		return nil
	}
	history := k.remember(stream, candle)
	for _, botID := range bots {
		if err := k.sink.Dispatch(ctx, CandleClosed(botID, candle, history)); err != nil {
			return fmt.Errorf("dispatch candle for bot %d: %w", botID, err)
		}
	}
	return nil
}

// remember appends candle to the stream's history and returns a copy of the
// last candleHistoryLen closed candles, oldest first.
func (k *KlineStream) remember(stream string, candle models.Candle) []models.Candle {
	k.mu.Lock()
	defer k.mu.Unlock()
	h := append(k.history[stream], candle)
	if len(h) > candleHistoryLen {
		h = h[len(h)-candleHistoryLen:]
	}
	k.history[stream] = h
	out := make([]models.Candle, len(h))
	copy(out, h)
	return out
}

type klineEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Kline  struct {
			StartTime int64           `json:"t"`
			CloseTime int64           `json:"T"`
			Interval  string          `json:"i"`
			Open      decimal.Decimal `json:"o"`
			Close     decimal.Decimal `json:"c"`
			High      decimal.Decimal `json:"h"`
			Low       decimal.Decimal `json:"l"`
			Volume    decimal.Decimal `json:"v"`
			Closed    bool            `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// parseKline decodes one combined-stream kline message.
func parseKline(message []byte) (string, models.Candle, bool, error) {
	var env klineEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return "", models.Candle{}, false, err
	}
	if env.Data.Event != "kline" {
		return "", models.Candle{}, false, fmt.Errorf("unexpected event %q", env.Data.Event)
	}
	k := env.Data.Kline
	candle := models.Candle{
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
	}
	stream := env.Stream
	if stream == "" {
		stream = strings.ToLower(env.Data.Symbol) + "@kline_" + k.Interval
	}
	return stream, candle, k.Closed, nil
}
