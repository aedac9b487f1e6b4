package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"smart-trade-bot-go/internal/models"
)

var (
	// ErrOrderNotFound 表示交易所查无此订单
	ErrOrderNotFound = errors.New("order not found on exchange")
	// ErrOrderRejected 表示交易所直接拒绝了订单，重试同样的请求也不会成功
	ErrOrderRejected = errors.New("order rejected by exchange")
)

// ExecStatus 交易所侧的订单状态
type ExecStatus string

const (
	ExecNew             ExecStatus = "NEW"
	ExecPartiallyFilled ExecStatus = "PARTIALLY_FILLED"
	ExecFilled          ExecStatus = "FILLED"
	ExecCanceled        ExecStatus = "CANCELED"
	ExecRejected        ExecStatus = "REJECTED"
	ExecExpired         ExecStatus = "EXPIRED"
)

// OrderRequest 是一次下单请求，Symbol 使用 BASE/QUOTE 格式
type OrderRequest struct {
	Symbol        string
	Side          models.Side
	Type          models.OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

// OrderResult 是交易所视角下的订单状态
type OrderResult struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          ExecStatus
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	ExecutedQty     decimal.Decimal
	FilledPrice     decimal.Decimal // 平均成交价, 未成交时为零
	UpdatedAt       time.Time
}

// CandleRequest 指定要获取的K线范围
type CandleRequest struct {
	Symbol    string
	Interval  string
	Limit     int
	StartTime time.Time
	EndTime   time.Time
}

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得机器人可以在真实交易和模拟交易之间轻松切换。
type Exchange interface {
	Code() models.ExchangeCode
	GetCandlesticks(ctx context.Context, req CandleRequest) ([]models.Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOrder(ctx context.Context, symbol, exchangeOrderID string) (*OrderResult, error)
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*OrderResult, error)
}
