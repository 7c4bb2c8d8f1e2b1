package badger

import (
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/sparklane/sparklane/registry"
)

// txn adapts a Badger transaction to registry.Txn, validating every key.
type txn struct {
	tx *badgerdb.Txn
}

func (t *txn) Exists(key string) (bool, error) {
	if err := registry.ValidateKey(key); err != nil {
		return false, err
	}
	_, err := t.tx.Get([]byte(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("get %s: %w", key, err)
	}
}

func (t *txn) Get(key string) ([]byte, error) {
	if err := registry.ValidateKey(key); err != nil {
		return nil, err
	}
	item, err := t.tx.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, registry.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return item.ValueCopy(nil)
}

func (t *txn) Set(key string, value []byte) error {
	if err := registry.ValidateKey(key); err != nil {
		return err
	}
	return t.tx.Set([]byte(key), value)
}

func (t *txn) Delete(key string) error {
	if err := registry.ValidateKey(key); err != nil {
		return err
	}
	return t.tx.Delete([]byte(key))
}
