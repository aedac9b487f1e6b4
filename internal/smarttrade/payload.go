package smarttrade

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smart-trade-bot-go/internal/models"
)

// Leg is one order requested by a strategy.
type Leg struct {
	Type     models.OrderType `json:"type"`
	Price    decimal.Decimal  `json:"price"`
	Quantity decimal.Decimal  `json:"quantity"`
}

// Payload describes the smart trade a strategy wants to exist.
// A single take-profit leg with zero quantity closes the whole entry.
type Payload struct {
	EntryType      models.EntryType      `json:"entry_type"`
	TakeProfitType models.TakeProfitType `json:"take_profit_type"`
	Entry          []Leg                 `json:"entry"`
	TakeProfit     []Leg                 `json:"take_profit"`
}

// SellPayload is the take profit attached to an existing Order/None trade.
type SellPayload struct {
	Type  models.OrderType `json:"type"`
	Price decimal.Decimal  `json:"price"`
}

// NewOrder is a convenience constructor for the common single limit buy
// with an optional single limit take profit.
func NewOrder(price, quantity decimal.Decimal, takeProfit *decimal.Decimal) Payload {
	p := Payload{
		EntryType:      models.EntryTypeOrder,
		TakeProfitType: models.TakeProfitTypeNone,
		Entry:          []Leg{{Type: models.OrderTypeLimit, Price: price, Quantity: quantity}},
	}
	if takeProfit != nil {
		p.TakeProfitType = models.TakeProfitTypeOrder
		p.TakeProfit = []Leg{{Type: models.OrderTypeLimit, Price: *takeProfit}}
	}
	return p
}

// Validate checks the payload against the five legal structures.
func (p Payload) Validate() error {
	switch p.EntryType {
	case models.EntryTypeOrder:
		if len(p.Entry) != 1 {
			return fmt.Errorf("entry type Order needs exactly one leg, got %d: %w", len(p.Entry), models.ErrInvalidPayload)
		}
	case models.EntryTypeLadder:
		if len(p.Entry) < 1 {
			return fmt.Errorf("entry type Ladder needs at least one leg: %w", models.ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("entry type %q: %w", p.EntryType, models.ErrUnsupportedStructure)
	}

	switch p.TakeProfitType {
	case models.TakeProfitTypeNone, "":
		if len(p.TakeProfit) != 0 {
			return fmt.Errorf("take profit type None with %d legs: %w", len(p.TakeProfit), models.ErrInvalidPayload)
		}
	case models.TakeProfitTypeOrder:
		if len(p.TakeProfit) != 1 {
			return fmt.Errorf("take profit type Order needs exactly one leg, got %d: %w", len(p.TakeProfit), models.ErrInvalidPayload)
		}
	case models.TakeProfitTypeLadder:
		if len(p.TakeProfit) < 1 {
			return fmt.Errorf("take profit type Ladder needs at least one leg: %w", models.ErrInvalidPayload)
		}
		for i, leg := range p.TakeProfit {
			if !leg.Quantity.IsPositive() {
				return fmt.Errorf("take profit leg %d needs a positive quantity: %w", i, models.ErrInvalidPayload)
			}
		}
	default:
		return fmt.Errorf("take profit type %q: %w", p.TakeProfitType, models.ErrUnsupportedStructure)
	}

	for i, leg := range append(append([]Leg{}, p.Entry...), p.TakeProfit...) {
		if err := leg.validate(); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
	}
	for i, leg := range p.Entry {
		if !leg.Quantity.IsPositive() {
			return fmt.Errorf("entry leg %d needs a positive quantity: %w", i, models.ErrInvalidPayload)
		}
	}
	return nil
}

func (l Leg) validate() error {
	switch l.Type {
	case models.OrderTypeLimit:
		if !l.Price.IsPositive() {
			return fmt.Errorf("limit order needs a positive price: %w", models.ErrInvalidPayload)
		}
	case models.OrderTypeMarket:
	default:
		return fmt.Errorf("order type %q: %w", l.Type, models.ErrInvalidPayload)
	}
	if l.Quantity.IsNegative() {
		return fmt.Errorf("negative quantity: %w", models.ErrInvalidPayload)
	}
	return nil
}

// TotalEntryQuantity sums the entry legs.
func (p Payload) TotalEntryQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Entry {
		total = total.Add(l.Quantity)
	}
	return total
}

// Orders expands a validated payload into Idle legs. Entries buy, take
// profits sell. Ids are left zero for the repository to assign.
func (p Payload) Orders(now time.Time) []models.Order {
	orders := make([]models.Order, 0, len(p.Entry)+len(p.TakeProfit))
	for _, l := range p.Entry {
		orders = append(orders, newIdleOrder(models.RoleEntry, models.Buy, l, now))
	}
	total := p.TotalEntryQuantity()
	for _, l := range p.TakeProfit {
		if l.Quantity.IsZero() {
			l.Quantity = total
		}
		orders = append(orders, newIdleOrder(models.RoleTakeProfit, models.Sell, l, now))
	}
	return orders
}

// TakeProfitOrder builds the single sell leg closing entryQuantity.
func (s SellPayload) TakeProfitOrder(entryQuantity decimal.Decimal, now time.Time) models.Order {
	t := s.Type
	if t == "" {
		t = models.OrderTypeLimit
	}
	return newIdleOrder(models.RoleTakeProfit, models.Sell, Leg{Type: t, Price: s.Price, Quantity: entryQuantity}, now)
}

func newIdleOrder(role models.OrderRole, side models.Side, l Leg, now time.Time) models.Order {
	return models.Order{
		Role:      role,
		Side:      side,
		Type:      l.Type,
		Status:    models.StatusIdle,
		Price:     l.Price,
		Quantity:  l.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewRecord builds the record persisted for a payload. The payload must
// already be validated.
func NewRecord(ref string, p Payload, bot *models.Bot, now time.Time) *models.SmartTrade {
	tpType := p.TakeProfitType
	if tpType == "" {
		tpType = models.TakeProfitTypeNone
	}
	return &models.SmartTrade{
		Ref:               ref,
		Type:              models.SmartTradeTypeTrade,
		EntryType:         p.EntryType,
		TakeProfitType:    tpType,
		BotID:             bot.ID,
		ExchangeAccountID: bot.ExchangeAccountID,
		Symbol:            bot.Symbol(),
		BaseCurrency:      bot.BaseCurrency,
		QuoteCurrency:     bot.QuoteCurrency,
		Orders:            p.Orders(now),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
