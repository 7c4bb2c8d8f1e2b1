// Package naming allocates short two-word subdomains.
package naming

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync"

	"github.com/projecteru2/core/log"

	"github.com/sparklane/sparklane/registry"
)

// ErrExhausted is returned when every sampled candidate was taken.
var ErrExhausted = errors.New("no identifier available")

// DefaultAttempts is one initial sample plus ten retries.
const DefaultAttempts = 11

var (
	// DefaultAdjectives and DefaultNouns are the stock word lists.
	DefaultAdjectives = []string{
		"impeccable", "ubiquitous", "catchy", "slippery", "overbearing",
		"quick", "nimble", "simple", "complex", "golden", "cooked",
	}
	DefaultNouns = []string{
		"octopus", "project", "waste", "fox", "car", "place",
		"gold", "silver", "diamond", "slinky",
	}

	labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

// Checker is the part of the registry the allocator needs.
type Checker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Allocator samples "<adjective>-<noun>" candidates and keeps the first
// one absent from the registry. The check is advisory: registry.Reserve
// re-validates the name inside the insert transaction.
type Allocator struct {
	adjectives []string
	nouns      []string
	mu         sync.Mutex // guards rng
	rng        *rand.Rand
	attempts   int
	checker    Checker
}

// Option customizes an Allocator.
type Option func(*Allocator)

// WithWords replaces the word lists.
func WithWords(adjectives, nouns []string) Option {
	return func(a *Allocator) {
		a.adjectives = adjectives
		a.nouns = nouns
	}
}

// WithRand injects the random source, e.g. a seeded PCG in tests.
func WithRand(rng *rand.Rand) Option {
	return func(a *Allocator) { a.rng = rng }
}

// WithAttempts sets the number of candidates sampled before giving up.
func WithAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// New creates an Allocator over checker.
func New(checker Checker, opts ...Option) *Allocator {
	a := &Allocator{
		adjectives: DefaultAdjectives,
		nouns:      DefaultNouns,
		attempts:   DefaultAttempts,
		checker:    checker,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // names, not secrets
	}
	return a
}

// Allocate returns a free subdomain. A valid, free preferred name wins over
// the generated one; an invalid or taken preferred name is ignored.
// Registry errors are returned as-is so callers can tell them from
// exhaustion.
func (a *Allocator) Allocate(ctx context.Context, preferred string) (string, error) {
	logger := log.WithFunc("naming.Allocate")
	if preferred != "" {
		if !ValidLabel(preferred) {
			logger.Infof(ctx, "preferred subdomain %q is not a DNS label, generating one", preferred)
		} else {
			free, err := a.free(ctx, preferred)
			if err != nil {
				return "", err
			}
			if free {
				return preferred, nil
			}
			logger.Infof(ctx, "preferred subdomain %q is taken, generating one", preferred)
		}
	}

	if len(a.adjectives) == 0 || len(a.nouns) == 0 {
		return "", fmt.Errorf("%w: empty word list", ErrExhausted)
	}
	for range a.attempts {
		candidate := a.candidate()
		free, err := a.free(ctx, candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrExhausted, a.attempts)
}

func (a *Allocator) candidate() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	adj := a.adjectives[a.rng.IntN(len(a.adjectives))]
	noun := a.nouns[a.rng.IntN(len(a.nouns))]
	return adj + "-" + noun
}

func (a *Allocator) free(ctx context.Context, name string) (bool, error) {
	taken, err := a.checker.Exists(ctx, registry.SubdomainKey(name))
	if err != nil {
		return false, fmt.Errorf("check subdomain %s: %w", name, err)
	}
	return !taken, nil
}

// ValidLabel reports whether name is a lowercase DNS label.
func ValidLabel(name string) bool {
	return labelRe.MatchString(name)
}
