// Package registry is the durable, transactional record of instances.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrExists is returned when a reservation finds its key already taken.
	ErrExists = errors.New("key already exists")
	// ErrSubdomainTaken is the ErrExists a reservation returns when only the
	// subdomain collided: another deploy won the name between allocation
	// and insert.
	ErrSubdomainTaken = fmt.Errorf("subdomain %w", ErrExists)
	// ErrConflict means the transaction kept losing to concurrent writers.
	// The operation had no effect and may be retried.
	ErrConflict = errors.New("transaction conflict")
	// ErrInvalidKey marks a malformed key. Retrying will not help.
	ErrInvalidKey = errors.New("invalid key")
)

// Key prefixes. Each prefix owns a disjoint keyspace.
const (
	InstancePrefix  = "instance:"
	VMPrefix        = "vm:"
	SubdomainPrefix = "subdomain:"
)

func InstanceKey(id string) string    { return InstancePrefix + id }
func VMKey(id string) string          { return VMPrefix + id }
func SubdomainKey(name string) string { return SubdomainPrefix + name }

// KV is one entry returned by a prefix scan.
type KV struct {
	Key   string
	Value []byte
}

// Txn is the view of the store inside a single transaction.
// Reads made through a Txn participate in its conflict detection.
type Txn interface {
	Exists(key string) (bool, error)
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Registry provides single-key operations, each in its own transaction,
// plus Update for multi-key atomic units.
type Registry interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Insert(ctx context.Context, key string, value []byte) error
	ScanPrefix(ctx context.Context, prefix string) ([]KV, error)
	Delete(ctx context.Context, key string) error

	// Update runs fn in one read-write transaction and commits it if fn
	// returns nil. Implementations retry fn on commit conflicts and return
	// ErrConflict once retries are exhausted.
	Update(ctx context.Context, fn func(Txn) error) error

	Close() error
}

// ValidateKey rejects empty keys, unknown prefixes and prefixes with no
// name after them.
func ValidateKey(key string) error {
	for _, p := range []string{InstancePrefix, VMPrefix, SubdomainPrefix} {
		if rest, ok := strings.CutPrefix(key, p); ok {
			if rest == "" {
				return fmt.Errorf("%w: %q has no name", ErrInvalidKey, key)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q has no known prefix", ErrInvalidKey, key)
}

// ValidatePrefix accepts exactly the known prefixes, optionally followed by
// a partial name.
func ValidatePrefix(prefix string) error {
	for _, p := range []string{InstancePrefix, VMPrefix, SubdomainPrefix} {
		if strings.HasPrefix(prefix, p) {
			return nil
		}
	}
	return fmt.Errorf("%w: prefix %q is not a known keyspace", ErrInvalidKey, prefix)
}

// IsRetryable reports whether err is a transient registry failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
