package persistence

import (
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

var clientIDSaltKey = []byte("meta/client-id-salt")

// ClientIDSalt returns the salt this database prefixes to exchange client
// order ids. It is generated on first use and never changes afterwards, so
// two databases trading on the same account do not produce the same ids.
func (r *BadgerRepository) ClientIDSalt() (string, error) {
	var salt string
	err := r.update(func(txn *badger.Txn) error {
		item, err := txn.Get(clientIDSaltKey)
		switch {
		case err == nil:
			return item.Value(func(val []byte) error {
				salt = string(val)
				return nil
			})
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		id := uuid.New()
		salt = string(base62.FormatInt(int64(binary.BigEndian.Uint32(id[:4]))))
		return txn.Set(clientIDSaltKey, []byte(salt))
	})
	return salt, err
}
