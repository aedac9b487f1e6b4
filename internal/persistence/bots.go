package persistence

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v3"

	"smart-trade-bot-go/internal/models"
)

// CreateBot inserts a bot and assigns its id.
func (r *BadgerRepository) CreateBot(bot *models.Bot) error {
	if bot.State == nil {
		bot.State = models.BotState{}
	}
	return r.update(func(txn *badger.Txn) error {
		if bot.Name != "" {
			if _, err := txn.Get(botNameKey(bot.Name)); err == nil {
				return models.NewOpError("create", "bot", bot.Name, models.ErrConflict)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		id, err := nextID(txn, seqBot)
		if err != nil {
			return err
		}
		now := r.now()
		bot.ID = id
		bot.CreatedAt = now
		bot.UpdatedAt = now
		if bot.Name != "" {
			if err := setID(txn, botNameKey(bot.Name), id); err != nil {
				return err
			}
		}
		return setJSON(txn, botKey(id), bot)
	})
}

// GetBot loads a bot by id.
func (r *BadgerRepository) GetBot(id int64) (*models.Bot, error) {
	var bot models.Bot
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, botKey(id), &bot)
	})
	if err := notFound(err, "get", "bot", id); err != nil {
		return nil, err
	}
	return &bot, nil
}

// FindBotByName loads a bot by its unique name.
func (r *BadgerRepository) FindBotByName(name string) (*models.Bot, error) {
	var bot models.Bot
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, botNameKey(name))
		if err != nil {
			return err
		}
		return getJSON(txn, botKey(id), &bot)
	})
	if err := notFound(err, "find", "bot", name); err != nil {
		return nil, err
	}
	return &bot, nil
}

// ListBots returns every bot ordered by id.
func (r *BadgerRepository) ListBots() ([]*models.Bot, error) {
	var bots []*models.Bot
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("bot/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var bot models.Bot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &bot)
			}); err != nil {
				return err
			}
			bots = append(bots, &bot)
		}
		return nil
	})
	if err != nil {
		return nil, models.NewOpError("list", "bots", "", err)
	}
	return bots, nil
}

// mutateBot applies fn to the stored bot inside one transaction.
func (r *BadgerRepository) mutateBot(op string, id int64, fn func(bot *models.Bot) error) (*models.Bot, error) {
	var out models.Bot
	err := r.update(func(txn *badger.Txn) error {
		var bot models.Bot
		if err := getJSON(txn, botKey(id), &bot); err != nil {
			return err
		}
		if err := fn(&bot); err != nil {
			return err
		}
		bot.UpdatedAt = r.now()
		out = bot
		return setJSON(txn, botKey(id), &bot)
	})
	if err := notFound(err, op, "bot", id); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetEnabled toggles whether a bot is running.
func (r *BadgerRepository) SetEnabled(id int64, enabled bool) error {
	_, err := r.mutateBot("set enabled", id, func(bot *models.Bot) error {
		bot.Enabled = enabled
		return nil
	})
	return err
}

// AcquireProcessing is a conditional update: it only succeeds when the
// processing flag is clear.
func (r *BadgerRepository) AcquireProcessing(id int64) (*models.Bot, error) {
	return r.mutateBot("acquire processing", id, func(bot *models.Bot) error {
		if bot.Processing {
			return models.ErrBusy
		}
		bot.Processing = true
		return nil
	})
}

// ReleaseProcessing clears the processing flag and stores state if given.
func (r *BadgerRepository) ReleaseProcessing(id int64, state models.BotState) error {
	_, err := r.mutateBot("release processing", id, func(bot *models.Bot) error {
		bot.Processing = false
		if state != nil {
			bot.State = state
		}
		return nil
	})
	return err
}
