// Package badger implements registry.Registry on an embedded Badger database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/projecteru2/core/log"

	"github.com/sparklane/sparklane/registry"
)

const (
	// maxConflictRetries bounds how often Update re-runs a transaction that
	// lost a commit race.
	maxConflictRetries = 5
	baseBackoff        = 5 * time.Millisecond
)

// compile-time interface check.
var _ registry.Registry = (*Store)(nil)

// Store is a registry backed by Badger's serializable transactions.
type Store struct {
	db *badgerdb.DB
}

// Open opens (or creates) a registry rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(filepath.Clean(dir)).
		WithLogger(logger{}).
		WithValueLogFileSize(64 << 20) //nolint:mnd
	return open(opts)
}

// OpenInMemory opens a volatile registry, used by tests and dry runs.
func OpenInMemory() (*Store, error) {
	return open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badgerdb.Options) (*Store, error) {
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	return ok, s.view(ctx, func(t *txn) error {
		var err error
		ok, err = t.Exists(key)
		return err
	})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	return out, s.view(ctx, func(t *txn) error {
		var err error
		out, err = t.Get(key)
		return err
	})
}

func (s *Store) Insert(ctx context.Context, key string, value []byte) error {
	return s.Update(ctx, func(t registry.Txn) error {
		return t.Set(key, value)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(t registry.Txn) error {
		return t.Delete(key)
	})
}

// ScanPrefix returns every key/value under prefix in key order.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]registry.KV, error) {
	if err := registry.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	var out []registry.KV
	return out, s.view(ctx, func(t *txn) error {
		it := t.tx.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", item.Key(), err)
			}
			out = append(out, registry.KV{Key: string(item.KeyCopy(nil)), Value: v})
		}
		return nil
	})
}

// Update runs fn in a read-write transaction. Commit conflicts re-run fn
// from scratch with exponential backoff; after maxConflictRetries the
// conflict is returned as registry.ErrConflict.
func (s *Store) Update(ctx context.Context, fn func(registry.Txn) error) error {
	var lastErr error
	for i := 0; i <= maxConflictRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.db.Update(func(tx *badgerdb.Txn) error {
			return fn(&txn{tx: tx})
		})
		if !errors.Is(lastErr, badgerdb.ErrConflict) {
			return translate(lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseBackoff * time.Duration(1<<i)):
		}
	}
	log.WithFunc("registry.badger.Update").Warnf(ctx, "giving up after %d conflicts", maxConflictRetries+1)
	return fmt.Errorf("%w: %w", registry.ErrConflict, lastErr)
}

func (s *Store) view(ctx context.Context, fn func(*txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translate(s.db.View(func(tx *badgerdb.Txn) error {
		return fn(&txn{tx: tx})
	}))
}

// translate maps Badger's definitional errors onto the registry taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerdb.ErrEmptyKey), errors.Is(err, badgerdb.ErrInvalidKey):
		return fmt.Errorf("%w: %w", registry.ErrInvalidKey, err)
	case errors.Is(err, badgerdb.ErrConflict):
		return fmt.Errorf("%w: %w", registry.ErrConflict, err)
	default:
		return err
	}
}
