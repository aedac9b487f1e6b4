package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/money"
)

const binanceSpotTestnetURL = "https://testnet.binance.vision"

// 表示订单永远不会被接受或订单不存在的币安错误码
var (
	binanceRejectCodes   = map[int64]bool{-1013: true, -1111: true, -2010: true, -1100: true, -1102: true}
	binanceNotFoundCodes = map[int64]bool{-2011: true, -2013: true}
)

// BinanceExchange 基于 go-binance SDK 的现货交易所实现
type BinanceExchange struct {
	client *binance.Client
}

// NewBinanceExchange 使用给定的密钥创建现货客户端
func NewBinanceExchange(apiKey, secretKey string, testnet bool) *BinanceExchange {
	client := binance.NewClient(apiKey, secretKey)
	if testnet {
		client.BaseURL = binanceSpotTestnetURL
	}
	return &BinanceExchange{client: client}
}

// Code 实现 Exchange 接口
func (e *BinanceExchange) Code() models.ExchangeCode { return models.ExchangeBinance }

// toBinanceSymbol 将 "BTC/USDT" 转换为 "BTCUSDT"，已是交易所格式的代码原样返回
func toBinanceSymbol(symbol string) string {
	base, quote, ok := models.DecomposeSymbol(symbol)
	if !ok {
		return symbol
	}
	return base + quote
}

// GetCandlesticks 获取K线数据。币安单次请求最多返回 1000 根。
func (e *BinanceExchange) GetCandlesticks(ctx context.Context, req CandleRequest) ([]models.Candle, error) {
	svc := e.client.NewKlinesService().
		Symbol(toBinanceSymbol(req.Symbol)).
		Interval(req.Interval)
	if req.Limit > 0 {
		svc = svc.Limit(req.Limit)
	}
	if !req.StartTime.IsZero() {
		svc = svc.StartTime(req.StartTime.UnixMilli())
	}
	if !req.EndTime.IsZero() {
		svc = svc.EndTime(req.EndTime.UnixMilli())
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapBinanceError("get klines", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := candleFromKline(k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func candleFromKline(k *binance.Kline) (models.Candle, error) {
	var (
		c   models.Candle
		err error
	)
	c.OpenTime = time.UnixMilli(k.OpenTime)
	c.CloseTime = time.UnixMilli(k.CloseTime)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&c.Open, k.Open}, {&c.High, k.High}, {&c.Low, k.Low}, {&c.Close, k.Close}, {&c.Volume, k.Volume},
	} {
		if *f.dst, err = money.Parse(f.src); err != nil {
			return models.Candle{}, fmt.Errorf("kline: %w", err)
		}
	}
	return c, nil
}

// PlaceOrder 下单。
func (e *BinanceExchange) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	svc := e.client.NewCreateOrderService().
		Symbol(toBinanceSymbol(req.Symbol)).
		Side(binanceSide(req.Side)).
		Quantity(money.Format(req.Quantity))
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	switch req.Type {
	case models.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	default:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(money.Format(req.Price))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapBinanceError("create order", err)
	}

	return buildResult(
		resp.OrderID, resp.ClientOrderID, string(resp.Status),
		resp.Price, resp.OrigQuantity, resp.ExecutedQuantity, resp.CummulativeQuoteQuantity,
		resp.TransactTime,
	)
}

// CancelOrder 取消订单。
func (e *BinanceExchange) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance order id %q: %w", exchangeOrderID, ErrOrderNotFound)
	}
	_, err = e.client.NewCancelOrderService().
		Symbol(toBinanceSymbol(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return wrapBinanceError("cancel order", err)
	}
	return nil
}

// GetOrder 按交易所订单 ID 查询订单。
func (e *BinanceExchange) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (*OrderResult, error) {
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("binance order id %q: %w", exchangeOrderID, ErrOrderNotFound)
	}
	o, err := e.client.NewGetOrderService().
		Symbol(toBinanceSymbol(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, wrapBinanceError("get order", err)
	}
	return fromBinanceOrder(o)
}

// GetOrderByClientID 按客户端订单 ID 查询订单。
func (e *BinanceExchange) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*OrderResult, error) {
	o, err := e.client.NewGetOrderService().
		Symbol(toBinanceSymbol(symbol)).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, wrapBinanceError("get order by client id", err)
	}
	return fromBinanceOrder(o)
}

func fromBinanceOrder(o *binance.Order) (*OrderResult, error) {
	return buildResult(
		o.OrderID, o.ClientOrderID, string(o.Status),
		o.Price, o.OrigQuantity, o.ExecutedQuantity, o.CummulativeQuoteQuantity,
		o.UpdateTime,
	)
}

func buildResult(orderID int64, clientID, status, price, qty, executed, cumQuote string, updateMillis int64) (*OrderResult, error) {
	r := &OrderResult{
		ExchangeOrderID: strconv.FormatInt(orderID, 10),
		ClientOrderID:   clientID,
		Status:          mapBinanceStatus(status),
		UpdatedAt:       time.UnixMilli(updateMillis),
	}
	var quote decimal.Decimal
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&r.Price, price}, {&r.Quantity, qty}, {&r.ExecutedQty, executed}, {&quote, cumQuote},
	} {
		var err error
		if *f.dst, err = money.Parse(f.src); err != nil {
			return nil, fmt.Errorf("binance order %d: %w", orderID, err)
		}
	}
	if r.ExecutedQty.IsPositive() {
		r.FilledPrice = quote.Div(r.ExecutedQty)
	}
	return r, nil
}

// mapBinanceStatus 将交易所订单状态映射为统一状态。
// PENDING_CANCEL 仍可能成交，按挂单处理
func mapBinanceStatus(s string) ExecStatus {
	switch binance.OrderStatusType(s) {
	case binance.OrderStatusTypeFilled:
		return ExecFilled
	case binance.OrderStatusTypePartiallyFilled:
		return ExecPartiallyFilled
	case binance.OrderStatusTypeCanceled:
		return ExecCanceled
	case binance.OrderStatusTypeRejected:
		return ExecRejected
	case binance.OrderStatusTypeExpired:
		return ExecExpired
	default:
		return ExecNew
	}
}

func binanceSide(side models.Side) binance.SideType {
	if side == models.Sell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

// wrapBinanceError 将 API 错误码映射为本包定义的错误
func wrapBinanceError(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case binanceNotFoundCodes[apiErr.Code]:
			return fmt.Errorf("binance %s: %s: %w", op, apiErr.Message, ErrOrderNotFound)
		case binanceRejectCodes[apiErr.Code]:
			return fmt.Errorf("binance %s: %s: %w", op, apiErr.Message, ErrOrderRejected)
		}
	}
	return fmt.Errorf("binance %s: %v: %w", op, err, models.ErrExternal)
}
