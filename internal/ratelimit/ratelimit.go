// Package ratelimit implements fixed-window request limiting keyed by client.
//
// A [Store] keeps one counter per key. The first request in a window starts
// the counter at one and fixes the reset time to now plus the window length.
// Requests are allowed while the counter is below the limit; a request that
// finds the counter at the limit is denied without incrementing it. Expired
// entries behave as absent.
//
// Two stores are provided: [Memory] for single-instance deployments and
// [Redis] for sharing limits across replicas.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// Limit is the budget of one limiter.
type Limit struct {
	Max    int
	Window time.Duration
}

// Decision is the outcome of a [Store.Check].
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Entry is the live counter of one key.
type Entry struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// Store holds rate-limit counters. Implementations are safe for concurrent
// use.
type Store interface {
	// Check counts one request against key and reports whether it is allowed.
	Check(ctx context.Context, key string, limit Limit) (Decision, error)

	// Clear forgets key.
	Clear(ctx context.Context, key string) error

	// Status returns the live entry for key. The boolean is false when key
	// has no entry or its window has passed.
	Status(ctx context.Context, key string) (Entry, bool, error)

	// ListActive returns every unexpired entry.
	ListActive(ctx context.Context) ([]Entry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Limiter applies one named [Limit] on top of a shared [Store]. Keys are
// qualified with the limiter name, so limiters never share counters. The
// limit may be replaced at runtime with [Limiter.SetLimit].
type Limiter struct {
	name  string
	store Store
	limit atomic.Pointer[Limit]
}

// NewLimiter returns a [Limiter] called name enforcing limit on store.
func NewLimiter(name string, store Store, limit Limit) *Limiter {
	l := &Limiter{name: name, store: store}
	l.limit.Store(&limit)
	return l
}

// Name returns the limiter name.
func (l *Limiter) Name() string { return l.name }

// Limit returns the current budget.
func (l *Limiter) Limit() Limit { return *l.limit.Load() }

// SetLimit replaces the budget. Existing windows keep their reset time.
func (l *Limiter) SetLimit(limit Limit) { l.limit.Store(&limit) }

// Check counts one request from client.
func (l *Limiter) Check(ctx context.Context, client string) (Decision, error) {
	return l.store.Check(ctx, l.key(client), l.Limit())
}

// Clear resets client's counter.
func (l *Limiter) Clear(ctx context.Context, client string) error {
	return l.store.Clear(ctx, l.key(client))
}

// Status returns client's live entry.
func (l *Limiter) Status(ctx context.Context, client string) (Entry, bool, error) {
	return l.store.Status(ctx, l.key(client))
}

func (l *Limiter) key(client string) string { return l.name + ":" + client }
