package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SmartTradeType 智能交易类型
type SmartTradeType string

const (
	SmartTradeTypeTrade SmartTradeType = "Trade"
	SmartTradeTypeDCA   SmartTradeType = "DCA"
)

// EntryType 入场结构: 单笔或阶梯
type EntryType string

const (
	EntryTypeOrder  EntryType = "Order"
	EntryTypeLadder EntryType = "Ladder"
)

// TakeProfitType 止盈结构
type TakeProfitType string

const (
	TakeProfitTypeNone   TakeProfitType = "None"
	TakeProfitTypeOrder  TakeProfitType = "Order"
	TakeProfitTypeLadder TakeProfitType = "Ladder"
)

// OrderRole 订单在智能交易中的角色
type OrderRole string

const (
	RoleEntry      OrderRole = "EntryOrder"
	RoleTakeProfit OrderRole = "TakeProfitOrder"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusIdle     OrderStatus = "Idle"     // 尚未提交到交易所
	StatusPlaced   OrderStatus = "Placed"   // 已挂单
	StatusFilled   OrderStatus = "Filled"   // 已成交
	StatusCanceled OrderStatus = "Canceled" // 已撤销
	StatusRejected OrderStatus = "Rejected" // 被交易所拒绝
)

// Terminal 判断状态是否为终态
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// Order 是智能交易中的一条腿
type Order struct {
	ID              int64           `json:"id"`
	Role            OrderRole       `json:"role"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"type"`
	Status          OrderStatus     `json:"status"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	FilledPrice     decimal.Decimal `json:"filled_price"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	ClientOrderID   string          `json:"client_order_id,omitempty"`
	PlacedAt        *time.Time      `json:"placed_at,omitempty"`
	FilledAt        *time.Time      `json:"filled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderVersion 是条件写入时比对的订单腿字段。
type OrderVersion struct {
	Status        OrderStatus
	ClientOrderID string
}

// Version 返回订单腿当前的版本。
func (o Order) Version() OrderVersion {
	return OrderVersion{Status: o.Status, ClientOrderID: o.ClientOrderID}
}

// SmartTrade 是由若干订单组成的多腿交易单元。
// Ref 为空表示已被替换或释放，不再被策略引用。
type SmartTrade struct {
	ID                int64          `json:"id"`
	Ref               string         `json:"ref,omitempty"`
	Type              SmartTradeType `json:"type"`
	EntryType         EntryType      `json:"entry_type"`
	TakeProfitType    TakeProfitType `json:"take_profit_type"`
	BotID             int64          `json:"bot_id"`
	ExchangeAccountID int64          `json:"exchange_account_id"`
	Symbol            string         `json:"symbol"`
	BaseCurrency      string         `json:"base_currency"`
	QuoteCurrency     string         `json:"quote_currency"`
	Orders            []Order        `json:"orders"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// OrdersByRole 按插入顺序返回指定角色的订单腿副本
func (st *SmartTrade) OrdersByRole(role OrderRole) []Order {
	var out []Order
	for _, o := range st.Orders {
		if o.Role == role {
			out = append(out, o)
		}
	}
	return out
}

// Order 返回指定 ID 的订单腿指针，不存在时返回 nil
func (st *SmartTrade) Order(id int64) *Order {
	for i := range st.Orders {
		if st.Orders[i].ID == id {
			return &st.Orders[i]
		}
	}
	return nil
}

// HasActiveOrders 判断是否仍有处于 Idle 或 Placed 状态的订单腿
func (st *SmartTrade) HasActiveOrders() bool {
	for _, o := range st.Orders {
		if o.Status == StatusIdle || o.Status == StatusPlaced {
			return true
		}
	}
	return false
}

// Clone 返回可安全修改的深拷贝
func (st *SmartTrade) Clone() *SmartTrade {
	if st == nil {
		return nil
	}
	c := *st
	c.Orders = make([]Order, len(st.Orders))
	copy(c.Orders, st.Orders)
	return &c
}

// ComposeSymbol 拼接 "BASE/QUOTE" 格式的交易对
func ComposeSymbol(base, quote string) string {
	return base + "/" + quote
}

// DecomposeSymbol 拆分 "BASE/QUOTE" 格式的交易对，格式错误时 ok 为 false
func DecomposeSymbol(symbol string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}
