package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle K线数据
type Candle struct {
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// PublicTrade 公开成交
type PublicTrade struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketData 随 process 命令传入策略的行情数据。
// Candles 始终非 nil，没有行情时为空切片。
type MarketData struct {
	Candle  *Candle      `json:"candle,omitempty"`
	Candles []Candle     `json:"candles"`
	Trade   *PublicTrade `json:"trade,omitempty"`
}

// EmptyMarketData 返回默认的行情数据
func EmptyMarketData() MarketData {
	return MarketData{Candles: []Candle{}}
}
