// Package grid holds calculations over grid levels, a pair of buy and sell
// legs per price step.
package grid

import (
	"github.com/shopspring/decimal"

	"smart-trade-bot-go/internal/models"
)

// Leg is one side of a grid level.
type Leg struct {
	Status   models.OrderStatus `json:"status"`
	Price    decimal.Decimal    `json:"price"`
	Quantity decimal.Decimal    `json:"quantity"`
}

// Level pairs a buy leg with the sell leg that closes it.
type Level struct {
	Buy  Leg `json:"buy"`
	Sell Leg `json:"sell"`
}

// Investment is the capital a grid still needs to hold.
type Investment struct {
	Base  decimal.Decimal `json:"base"`  // base currency reserved for pending sells
	Quote decimal.Decimal `json:"quote"` // quote currency reserved for pending buys
}

// CalculateInvestment sums what the grid has committed but not yet used:
// base for levels whose buy filled and whose sell is still Idle, quote for
// levels where neither side has been placed. levels is not modified.
func CalculateInvestment(levels []Level) Investment {
	inv := Investment{Base: decimal.Zero, Quote: decimal.Zero}
	for _, l := range levels {
		if l.Buy.Status == models.StatusFilled && l.Sell.Status == models.StatusIdle {
			inv.Base = inv.Base.Add(l.Sell.Quantity)
		}
		if l.Buy.Status == models.StatusIdle && l.Sell.Status == models.StatusIdle {
			inv.Quote = inv.Quote.Add(l.Buy.Quantity.Mul(l.Buy.Price))
		}
	}
	return inv
}
