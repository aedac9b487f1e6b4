package persistence

import (
	"errors"

	"github.com/dgraph-io/badger/v3"

	"smart-trade-bot-go/internal/models"
)

// CreateAccount inserts an exchange account. Labels are unique.
func (r *BadgerRepository) CreateAccount(account *models.ExchangeAccount) error {
	return r.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(accountLabelKey(account.Label)); err == nil {
			return models.NewOpError("create", "account", account.Label, models.ErrConflict)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		id, err := nextID(txn, seqAccount)
		if err != nil {
			return err
		}
		account.ID = id
		account.CreatedAt = r.now()
		if err := setID(txn, accountLabelKey(account.Label), id); err != nil {
			return err
		}
		return setJSON(txn, accountKey(id), account)
	})
}

// GetAccount loads an account by id.
func (r *BadgerRepository) GetAccount(id int64) (*models.ExchangeAccount, error) {
	var account models.ExchangeAccount
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, accountKey(id), &account)
	})
	if err := notFound(err, "get", "account", id); err != nil {
		return nil, err
	}
	return &account, nil
}

// FindAccountByLabel loads an account by its label.
func (r *BadgerRepository) FindAccountByLabel(label string) (*models.ExchangeAccount, error) {
	var account models.ExchangeAccount
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, accountLabelKey(label))
		if err != nil {
			return err
		}
		return getJSON(txn, accountKey(id), &account)
	})
	if err := notFound(err, "find", "account", label); err != nil {
		return nil, err
	}
	return &account, nil
}
