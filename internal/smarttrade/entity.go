// Package smarttrade turns persisted smart-trade records into one of the
// five supported order structures and validates strategy payloads.
package smarttrade

import (
	"fmt"

	"smart-trade-bot-go/internal/models"
)

// Entity is a smart trade narrowed to a legal (entry, take-profit)
// structure. The interface is sealed: only this package implements it.
type Entity interface {
	Record() *models.SmartTrade
	EntryOrders() []models.Order
	TakeProfitOrders() []models.Order
	Accept(v Visitor)
	sealed()
}

// Visitor handles every structure. Adding a structure breaks every
// visitor at compile time.
type Visitor interface {
	VisitOrderNone(*OrderNone)
	VisitOrderOrder(*OrderOrder)
	VisitOrderLadder(*OrderLadder)
	VisitLadderOrder(*LadderOrder)
	VisitLadderLadder(*LadderLadder)
}

type base struct {
	rec *models.SmartTrade
}

func (b base) Record() *models.SmartTrade { return b.rec }
func (b base) EntryOrders() []models.Order {
	return b.rec.OrdersByRole(models.RoleEntry)
}
func (b base) TakeProfitOrders() []models.Order {
	return b.rec.OrdersByRole(models.RoleTakeProfit)
}
func (base) sealed() {}

// OrderNone is a single entry order without a take profit.
type OrderNone struct {
	base
	Entry models.Order
}

// OrderOrder is a single entry order with a single take-profit order.
type OrderOrder struct {
	base
	Entry      models.Order
	TakeProfit models.Order
}

// OrderLadder is a single entry order with several take-profit orders.
type OrderLadder struct {
	base
	Entry      models.Order
	TakeProfit []models.Order
}

// LadderOrder is several entry orders closed by one take-profit order.
type LadderOrder struct {
	base
	Entry      []models.Order
	TakeProfit models.Order
}

// LadderLadder has several entry and several take-profit orders.
type LadderLadder struct {
	base
	Entry      []models.Order
	TakeProfit []models.Order
}

func (e *OrderNone) Accept(v Visitor)    { v.VisitOrderNone(e) }
func (e *OrderOrder) Accept(v Visitor)   { v.VisitOrderOrder(e) }
func (e *OrderLadder) Accept(v Visitor)  { v.VisitOrderLadder(e) }
func (e *LadderOrder) Accept(v Visitor)  { v.VisitLadderOrder(e) }
func (e *LadderLadder) Accept(v Visitor) { v.VisitLadderLadder(e) }

// FromRecord converts a stored smart trade into its entity.
// DCA trades, unknown structures and records whose legs do not match the
// declared structure fail with models.ErrUnsupportedStructure.
func FromRecord(rec *models.SmartTrade) (Entity, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil smart trade record: %w", models.ErrUnsupportedStructure)
	}
	if rec.Type != models.SmartTradeTypeTrade {
		return nil, fmt.Errorf("smart trade %d: unsupported type %s: %w", rec.ID, rec.Type, models.ErrUnsupportedStructure)
	}

	b := base{rec: rec}
	entries := rec.OrdersByRole(models.RoleEntry)
	tps := rec.OrdersByRole(models.RoleTakeProfit)

	switch {
	case rec.EntryType == models.EntryTypeOrder && rec.TakeProfitType == models.TakeProfitTypeNone:
		if err := expectLegs(rec, "entry", entries, 1, 1); err != nil {
			return nil, err
		}
		return &OrderNone{base: b, Entry: entries[0]}, nil

	case rec.EntryType == models.EntryTypeOrder && rec.TakeProfitType == models.TakeProfitTypeOrder:
		if err := expectLegs(rec, "entry", entries, 1, 1); err != nil {
			return nil, err
		}
		if err := expectLegs(rec, "take profit", tps, 1, 1); err != nil {
			return nil, err
		}
		return &OrderOrder{base: b, Entry: entries[0], TakeProfit: tps[0]}, nil

	case rec.EntryType == models.EntryTypeOrder && rec.TakeProfitType == models.TakeProfitTypeLadder:
		if err := expectLegs(rec, "entry", entries, 1, 1); err != nil {
			return nil, err
		}
		if err := expectLegs(rec, "take profit", tps, 1, -1); err != nil {
			return nil, err
		}
		return &OrderLadder{base: b, Entry: entries[0], TakeProfit: tps}, nil

	case rec.EntryType == models.EntryTypeLadder && rec.TakeProfitType == models.TakeProfitTypeOrder:
		if err := expectLegs(rec, "entry", entries, 1, -1); err != nil {
			return nil, err
		}
		if err := expectLegs(rec, "take profit", tps, 1, 1); err != nil {
			return nil, err
		}
		return &LadderOrder{base: b, Entry: entries, TakeProfit: tps[0]}, nil

	case rec.EntryType == models.EntryTypeLadder && rec.TakeProfitType == models.TakeProfitTypeLadder:
		if err := expectLegs(rec, "entry", entries, 1, -1); err != nil {
			return nil, err
		}
		if err := expectLegs(rec, "take profit", tps, 1, -1); err != nil {
			return nil, err
		}
		return &LadderLadder{base: b, Entry: entries, TakeProfit: tps}, nil
	}

	return nil, fmt.Errorf("smart trade %d: unsupported structure %s/%s: %w",
		rec.ID, rec.EntryType, rec.TakeProfitType, models.ErrUnsupportedStructure)
}

// expectLegs checks lo <= len(legs) <= hi; hi < 0 means unbounded.
func expectLegs(rec *models.SmartTrade, what string, legs []models.Order, lo, hi int) error {
	n := len(legs)
	if n < lo || (hi >= 0 && n > hi) {
		return fmt.Errorf("smart trade %d (%s/%s): %d %s orders: %w",
			rec.ID, rec.EntryType, rec.TakeProfitType, n, what, models.ErrUnsupportedStructure)
	}
	return nil
}
