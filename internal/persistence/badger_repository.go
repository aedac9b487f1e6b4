package persistence

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v3"

	"smart-trade-bot-go/internal/models"
)

const maxTxnRetries = 5

const (
	seqBot        = "bot"
	seqAccount    = "account"
	seqSmartTrade = "st"
	seqOrder      = "order"
)

// BadgerRepository is the BadgerDB implementation of Repository.
//
// Key layout:
//
//	seq/{name}                  -> uint64 counter
//	bot/{id}                    -> models.Bot
//	bot-name/{name}             -> bot id
//	account/{id}                -> models.ExchangeAccount
//	account-label/{label}       -> account id
//	st/{id}                     -> models.SmartTrade (legs embedded)
//	st-ref/{botID}/{ref}        -> smart trade id
//	st-bot/{botID}/{stID}       -> empty
//	order/{orderID}             -> smart trade id
//	meta/client-id-salt         -> salt for exchange client order ids
type BadgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

// Option customises a BadgerRepository.
type Option func(*BadgerRepository)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *BadgerRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string, opts ...Option) (*BadgerRepository, error) {
	bopts := badger.DefaultOptions(dbPath)
	// Badger's own logging would interleave with ours; errors are still returned.
	bopts.Logger = nil
	return open(bopts, opts...)
}

// NewInMemoryRepository opens a throwaway in-memory database. Used by tests
// and by the paper trading mode when no db path is configured.
func NewInMemoryRepository(opts ...Option) (*BadgerRepository, error) {
	bopts := badger.DefaultOptions("").WithInMemory(true)
	bopts.Logger = nil
	return open(bopts, opts...)
}

func open(bopts badger.Options, opts ...Option) (*BadgerRepository, error) {
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	r := &BadgerRepository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close gracefully closes the connection to the database.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (r *BadgerRepository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction conflict after %d attempts: %w", maxTxnRetries, err)
}

// --- keys ---

func seqKey(name string) []byte          { return []byte("seq/" + name) }
func botKey(id int64) []byte             { return []byte(fmt.Sprintf("bot/%020d", id)) }
func botNameKey(name string) []byte      { return []byte("bot-name/" + name) }
func accountKey(id int64) []byte         { return []byte(fmt.Sprintf("account/%020d", id)) }
func accountLabelKey(label string) []byte { return []byte("account-label/" + label) }
func stKey(id int64) []byte              { return []byte(fmt.Sprintf("st/%020d", id)) }
func stRefKey(botID int64, ref string) []byte {
	return []byte(fmt.Sprintf("st-ref/%020d/%s", botID, ref))
}
func stBotPrefix(botID int64) []byte { return []byte(fmt.Sprintf("st-bot/%020d/", botID)) }
func stBotKey(botID, stID int64) []byte {
	return []byte(fmt.Sprintf("st-bot/%020d/%020d", botID, stID))
}
func orderKey(id int64) []byte { return []byte(fmt.Sprintf("order/%020d", id)) }

// --- generic helpers ---

// nextID increments a named counter inside txn, so the id is only
// consumed if the surrounding transaction commits.
func nextID(txn *badger.Txn, name string) (int64, error) {
	var current uint64
	item, err := txn.Get(seqKey(name))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt sequence %q", name)
			}
			current = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	}
	current++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, current)
	if err := txn.Set(seqKey(name), buf); err != nil {
		return 0, err
	}
	return int64(current), nil
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if len(val) == 0 {
			return fmt.Errorf("value for %s is empty in database", key)
		}
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getID(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return id, err
}

func setID(txn *badger.Txn, key []byte, id int64) error {
	return txn.Set(key, []byte(strconv.FormatInt(id, 10)))
}

// notFound maps badger's missing key error onto the domain sentinel.
func notFound(err error, op, entity string, id any) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.NotFound(op, entity, id)
	}
	if err != nil {
		return models.NewOpError(op, entity, id, err)
	}
	return nil
}
