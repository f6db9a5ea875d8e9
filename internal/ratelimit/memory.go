package ratelimit

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Compile-time assertion.
var _ Store = (*Memory)(nil)

// Memory is an in-process [Store]. Expired entries are purged on every
// [Memory.Check].
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemory returns an empty [Memory] store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Check implements [Store].
func (m *Memory) Check(_ context.Context, key string, limit Limit) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if e.ResetAt.Before(now) {
			delete(m.entries, k)
		}
	}

	e, ok := m.entries[key]
	if !ok {
		e = &Entry{Key: key, Count: 1, ResetAt: now.Add(limit.Window)}
		m.entries[key] = e
		return Decision{Allowed: true, Limit: limit.Max, Remaining: max(limit.Max-1, 0), ResetAt: e.ResetAt}, nil
	}
	if e.Count >= limit.Max {
		return Decision{Allowed: false, Limit: limit.Max, Remaining: 0, ResetAt: e.ResetAt}, nil
	}
	e.Count++
	return Decision{Allowed: true, Limit: limit.Max, Remaining: limit.Max - e.Count, ResetAt: e.ResetAt}, nil
}

// Clear implements [Store].
func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Status implements [Store].
func (m *Memory) Status(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.ResetAt.Before(m.now()) {
		return Entry{}, false, nil
	}
	return *e, true, nil
}

// ListActive implements [Store]. Entries are sorted by key.
func (m *Memory) ListActive(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if !e.ResetAt.Before(now) {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *Memory) Close() error { return nil }
