package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v3"

	"smart-trade-bot-go/internal/models"
)

// CreateSmartTrade inserts st and its legs, releasing the ref from any
// older trade of the same bot in the same transaction.
func (r *BadgerRepository) CreateSmartTrade(st *models.SmartTrade) (*models.SmartTrade, error) {
	var rec *models.SmartTrade
	err := r.update(func(txn *badger.Txn) error {
		rec = st.Clone()
		now := r.now()

		if rec.Ref != "" {
			if err := r.releaseRef(txn, rec.BotID, rec.Ref, now); err != nil {
				return err
			}
		}

		id, err := nextID(txn, seqSmartTrade)
		if err != nil {
			return err
		}
		rec.ID = id
		rec.CreatedAt = now
		rec.UpdatedAt = now
		for i := range rec.Orders {
			orderID, err := nextID(txn, seqOrder)
			if err != nil {
				return err
			}
			rec.Orders[i].ID = orderID
			if rec.Orders[i].CreatedAt.IsZero() {
				rec.Orders[i].CreatedAt = now
			}
			rec.Orders[i].UpdatedAt = now
			if err := setID(txn, orderKey(orderID), id); err != nil {
				return err
			}
		}

		if err := setJSON(txn, stKey(id), rec); err != nil {
			return err
		}
		if err := txn.Set(stBotKey(rec.BotID, id), nil); err != nil {
			return err
		}
		if rec.Ref != "" {
			return setID(txn, stRefKey(rec.BotID, rec.Ref), id)
		}
		return nil
	})
	if err != nil {
		return nil, models.NewOpError("create", "smart trade", st.Ref, err)
	}
	return rec, nil
}

// releaseRef clears the ref of the trade currently holding (botID, ref).
func (r *BadgerRepository) releaseRef(txn *badger.Txn, botID int64, ref string, now time.Time) error {
	oldID, err := getID(txn, stRefKey(botID, ref))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var old models.SmartTrade
	if err := getJSON(txn, stKey(oldID), &old); err != nil {
		return fmt.Errorf("load smart trade %d holding ref %q: %w", oldID, ref, err)
	}
	old.Ref = ""
	old.UpdatedAt = now
	if err := setJSON(txn, stKey(oldID), &old); err != nil {
		return err
	}
	return txn.Delete(stRefKey(botID, ref))
}

// GetSmartTrade loads a smart trade by id.
func (r *BadgerRepository) GetSmartTrade(id int64) (*models.SmartTrade, error) {
	var st models.SmartTrade
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, stKey(id), &st)
	})
	if err := notFound(err, "get", "smart trade", id); err != nil {
		return nil, err
	}
	return &st, nil
}

// FindSmartTradeByRef loads the trade currently holding ref for the bot.
func (r *BadgerRepository) FindSmartTradeByRef(botID int64, ref string) (*models.SmartTrade, error) {
	var st models.SmartTrade
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, stRefKey(botID, ref))
		if err != nil {
			return err
		}
		return getJSON(txn, stKey(id), &st)
	})
	if err := notFound(err, "find", "smart trade", ref); err != nil {
		return nil, err
	}
	return &st, nil
}

// FindSmartTradeByOrderID loads the trade owning a leg.
func (r *BadgerRepository) FindSmartTradeByOrderID(orderID int64) (*models.SmartTrade, error) {
	var st models.SmartTrade
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, orderKey(orderID))
		if err != nil {
			return err
		}
		return getJSON(txn, stKey(id), &st)
	})
	if err := notFound(err, "find", "order", orderID); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListSmartTrades returns every trade of a bot ordered by id, including
// released ones.
func (r *BadgerRepository) ListSmartTrades(botID int64) ([]*models.SmartTrade, error) {
	var trades []*models.SmartTrade
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := stBotPrefix(botID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			stID, err := strconv.ParseInt(string(key[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("bad index key %q: %w", key, err)
			}
			var st models.SmartTrade
			if err := getJSON(txn, stKey(stID), &st); err != nil {
				return err
			}
			trades = append(trades, &st)
		}
		return nil
	})
	if err != nil {
		return nil, models.NewOpError("list", "smart trades of bot", botID, err)
	}
	return trades, nil
}

// ListActiveSmartTrades returns the bot's trades with an Idle or Placed leg.
func (r *BadgerRepository) ListActiveSmartTrades(botID int64) ([]*models.SmartTrade, error) {
	all, err := r.ListSmartTrades(botID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, st := range all {
		if st.HasActiveOrders() {
			active = append(active, st)
		}
	}
	return active, nil
}

// AttachTakeProfit adds order as the take-profit leg unless one exists.
func (r *BadgerRepository) AttachTakeProfit(id int64, order models.Order) (*models.SmartTrade, bool, error) {
	var (
		out      models.SmartTrade
		attached bool
	)
	err := r.update(func(txn *badger.Txn) error {
		attached = false
		out = models.SmartTrade{}
		if err := getJSON(txn, stKey(id), &out); err != nil {
			return err
		}
		if len(out.OrdersByRole(models.RoleTakeProfit)) > 0 {
			return nil
		}
		orderID, err := nextID(txn, seqOrder)
		if err != nil {
			return err
		}
		now := r.now()
		order.ID = orderID
		order.Role = models.RoleTakeProfit
		order.CreatedAt = now
		order.UpdatedAt = now
		out.Orders = append(out.Orders, order)
		out.TakeProfitType = models.TakeProfitTypeOrder
		out.UpdatedAt = now
		if err := setID(txn, orderKey(orderID), id); err != nil {
			return err
		}
		attached = true
		return setJSON(txn, stKey(id), &out)
	})
	if err := notFound(err, "attach take profit", "smart trade", id); err != nil {
		return nil, false, err
	}
	return &out, attached, nil
}

// SaveOrder overwrites the leg with order.ID if the stored leg still has
// version from. Otherwise it fails with models.ErrConflict.
func (r *BadgerRepository) SaveOrder(smartTradeID int64, order models.Order, from models.OrderVersion) error {
	err := r.update(func(txn *badger.Txn) error {
		var st models.SmartTrade
		if err := getJSON(txn, stKey(smartTradeID), &st); err != nil {
			return err
		}
		leg := st.Order(order.ID)
		if leg == nil {
			return models.NotFound("save", "order", order.ID)
		}
		if got := leg.Version(); got != from {
			return models.NewOpError("save", "order", order.ID,
				fmt.Errorf("stored %s/%q, expected %s/%q: %w",
					got.Status, got.ClientOrderID, from.Status, from.ClientOrderID, models.ErrConflict))
		}
		order.UpdatedAt = r.now()
		*leg = order
		st.UpdatedAt = order.UpdatedAt
		data, err := json.Marshal(&st)
		if err != nil {
			return err
		}
		return txn.Set(stKey(smartTradeID), data)
	})
	return notFound(err, "save order of", "smart trade", smartTradeID)
}
