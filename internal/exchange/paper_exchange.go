package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"smart-trade-bot-go/internal/models"
)

// PaperExchange 实现了 Exchange 接口，在内存中模拟撮合，用于模拟交易和测试。
type PaperExchange struct {
	mu sync.Mutex

	prices      map[string]decimal.Decimal
	candles     map[string][]models.Candle
	orders      map[int64]*paperOrder
	byClientID  map[string]int64
	NextOrderID int64
	now         func() time.Time

	MakerFeeRate     decimal.Decimal // 挂单手续费率
	TakerFeeRate     decimal.Decimal // 吃单手续费率
	MinNotionalValue decimal.Decimal // 最小名义价值, 低于该值的订单被拒绝
	TotalFees        decimal.Decimal // 累积总手续费
}

type paperOrder struct {
	symbol string
	req    OrderRequest
	result OrderResult
}

// PaperOption 用于定制 PaperExchange
type PaperOption func(*PaperExchange)

// WithFees 设置挂单和吃单手续费率
func WithFees(maker, taker decimal.Decimal) PaperOption {
	return func(e *PaperExchange) {
		e.MakerFeeRate = maker
		e.TakerFeeRate = taker
	}
}

// WithMinNotional 拒绝名义价值（价格*数量）低于 minimum 的订单
func WithMinNotional(minimum decimal.Decimal) PaperOption {
	return func(e *PaperExchange) { e.MinNotionalValue = minimum }
}

// WithPaperClock 替换时间源
func WithPaperClock(now func() time.Time) PaperOption {
	return func(e *PaperExchange) { e.now = now }
}

// NewPaperExchange 创建一个新的 PaperExchange 实例
func NewPaperExchange(opts ...PaperOption) *PaperExchange {
	e := &PaperExchange{
		prices:      make(map[string]decimal.Decimal),
		candles:     make(map[string][]models.Candle),
		orders:      make(map[int64]*paperOrder),
		byClientID:  make(map[string]int64),
		NextOrderID: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Code 实现 Exchange 接口
func (e *PaperExchange) Code() models.ExchangeCode { return models.ExchangePaper }

// SetPrice 模拟一根K线的价格变动并触发订单成交检查。
// 按 O->L->H->C 的路径检查挂单，并把该K线加入历史。
func (e *PaperExchange) SetPrice(symbol string, candle models.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range []decimal.Decimal{candle.Open, candle.Low, candle.High, candle.Close} {
		e.checkLimitOrdersAtPrice(symbol, p)
	}
	e.prices[symbol] = candle.Close
	e.candles[symbol] = append(e.candles[symbol], candle)
}

// Price 返回交易对最新的收盘价
func (e *PaperExchange) Price(symbol string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[symbol]
	return p, ok
}

// checkLimitOrdersAtPrice 遍历所有挂单，检查是否可以在指定价格点成交。必须在持有锁的情况下调用。
func (e *PaperExchange) checkLimitOrdersAtPrice(symbol string, price decimal.Decimal) {
	ids := make([]int64, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o := e.orders[id]
		if o.symbol != symbol || o.result.Status != ExecNew || o.req.Type != models.OrderTypeLimit {
			continue
		}
		if (o.req.Side == models.Buy && price.LessThanOrEqual(o.req.Price)) ||
			(o.req.Side == models.Sell && price.GreaterThanOrEqual(o.req.Price)) {
			e.fill(o, o.req.Price, e.MakerFeeRate)
		}
	}
}

// fill 处理一个已成交的订单。必须在持有锁的情况下调用。
func (e *PaperExchange) fill(o *paperOrder, price, feeRate decimal.Decimal) {
	o.result.Status = ExecFilled
	o.result.ExecutedQty = o.req.Quantity
	o.result.FilledPrice = price
	o.result.UpdatedAt = e.now()
	e.TotalFees = e.TotalFees.Add(price.Mul(o.req.Quantity).Mul(feeRate))
}

// PlaceOrder 下单。与真实交易所一致，重复的客户端订单 ID 会被拒绝。
func (e *PaperExchange) PlaceOrder(_ context.Context, req OrderRequest) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ClientOrderID != "" {
		if _, dup := e.byClientID[req.ClientOrderID]; dup {
			return nil, fmt.Errorf("duplicate client order id %s: %w", req.ClientOrderID, ErrOrderRejected)
		}
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("quantity %s: %w", req.Quantity, ErrOrderRejected)
	}

	current, hasPrice := e.prices[req.Symbol]
	notionalPrice := req.Price
	if req.Type == models.OrderTypeMarket {
		if !hasPrice {
			return nil, fmt.Errorf("no market price for %s: %w", req.Symbol, ErrOrderRejected)
		}
		notionalPrice = current
	}
	if e.MinNotionalValue.IsPositive() && notionalPrice.Mul(req.Quantity).LessThan(e.MinNotionalValue) {
		return nil, fmt.Errorf("notional %s below minimum %s: %w",
			notionalPrice.Mul(req.Quantity), e.MinNotionalValue, ErrOrderRejected)
	}

	id := e.NextOrderID
	e.NextOrderID++
	o := &paperOrder{
		symbol: req.Symbol,
		req:    req,
		result: OrderResult{
			ExchangeOrderID: strconv.FormatInt(id, 10),
			ClientOrderID:   req.ClientOrderID,
			Status:          ExecNew,
			Price:           req.Price,
			Quantity:        req.Quantity,
			UpdatedAt:       e.now(),
		},
	}
	e.orders[id] = o
	if req.ClientOrderID != "" {
		e.byClientID[req.ClientOrderID] = id
	}

	if req.Type == models.OrderTypeMarket {
		e.fill(o, current, e.TakerFeeRate)
	} else if hasPrice {
		// 限价单可能立即成交
		e.checkOne(o, current)
	}

	out := o.result
	return &out, nil
}

func (e *PaperExchange) checkOne(o *paperOrder, price decimal.Decimal) {
	if (o.req.Side == models.Buy && price.LessThanOrEqual(o.req.Price)) ||
		(o.req.Side == models.Sell && price.GreaterThanOrEqual(o.req.Price)) {
		e.fill(o, o.req.Price, e.TakerFeeRate)
	}
}

func (e *PaperExchange) lookup(exchangeOrderID string) (*paperOrder, error) {
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("order id %q: %w", exchangeOrderID, ErrOrderNotFound)
	}
	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("order id %s: %w", exchangeOrderID, ErrOrderNotFound)
	}
	return o, nil
}

// CancelOrder 取消订单，只有未成交的挂单可以取消
func (e *PaperExchange) CancelOrder(_ context.Context, _ string, exchangeOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.lookup(exchangeOrderID)
	if err != nil {
		return err
	}
	if o.result.Status != ExecNew {
		return fmt.Errorf("cancel order %s in status %s: %w", exchangeOrderID, o.result.Status, ErrOrderRejected)
	}
	o.result.Status = ExecCanceled
	o.result.UpdatedAt = e.now()
	return nil
}

// GetOrder 按交易所订单 ID 查询订单
func (e *PaperExchange) GetOrder(_ context.Context, _ string, exchangeOrderID string) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.lookup(exchangeOrderID)
	if err != nil {
		return nil, err
	}
	out := o.result
	return &out, nil
}

// GetOrderByClientID 按客户端订单 ID 查询订单
func (e *PaperExchange) GetOrderByClientID(_ context.Context, _ string, clientOrderID string) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.byClientID[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("client order id %s: %w", clientOrderID, ErrOrderNotFound)
	}
	out := e.orders[id].result
	return &out, nil
}

// GetCandlesticks 返回通过 SetPrice 输入的K线
func (e *PaperExchange) GetCandlesticks(_ context.Context, req CandleRequest) ([]models.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.Candle
	for _, c := range e.candles[req.Symbol] {
		if !req.StartTime.IsZero() && c.OpenTime.Before(req.StartTime) {
			continue
		}
		if !req.EndTime.IsZero() && c.OpenTime.After(req.EndTime) {
			continue
		}
		out = append(out, c)
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return out, nil
}

// OpenOrders 返回仍在挂单中的订单数量
func (e *PaperExchange) OpenOrders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.orders {
		if o.result.Status == ExecNew {
			n++
		}
	}
	return n
}
