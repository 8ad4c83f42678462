// Package lock provides the mutual-exclusion capability used to keep a
// single worker instance active at a time.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is an external key/value store with atomic set-if-absent semantics.
type Store interface {
	// SetIfAbsent stores value under key with ttl only if key does not exist.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// CompareAndDelete removes key only if it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Key() string
	Token() string
	Release(ctx context.Context) error
}

// Mutex acquires leases without blocking.
type Mutex interface {
	// TryLock returns ok=false without error when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
	// Holder returns the token of the current holder of key, if any.
	Holder(ctx context.Context, key string) (token string, held bool, err error)
	// Distributed reports whether the lock is shared across processes.
	Distributed() bool
}

// StoreMutex is a Mutex backed by a shared Store.
type StoreMutex struct {
	store Store
}

func NewStoreMutex(store Store) *StoreMutex {
	return &StoreMutex{store: store}
}

func (m *StoreMutex) Distributed() bool { return true }

func (m *StoreMutex) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	ok, err := m.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &storeLease{store: m.store, key: key, token: token}, true, nil
}

func (m *StoreMutex) Holder(ctx context.Context, key string) (string, bool, error) {
	return m.store.Get(ctx, key)
}

type storeLease struct {
	store    Store
	key      string
	token    string
	mu       sync.Mutex
	released bool
}

func (l *storeLease) Key() string   { return l.key }
func (l *storeLease) Token() string { return l.token }

// Release deletes the key only while it still carries this lease's token,
// so a lock re-acquired by someone else after expiry is left alone.
func (l *storeLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.token); err != nil {
		return err
	}
	l.released = true
	return nil
}

// LocalMutex is the single-instance variant used when no shared store is
// configured. It only excludes holders within this process.
type LocalMutex struct {
	mu   sync.Mutex
	held map[string]localHold
	now  func() time.Time
}

type localHold struct {
	token   string
	expires time.Time
}

func NewLocalMutex() *LocalMutex {
	return &LocalMutex{held: make(map[string]localHold), now: time.Now}
}

func (m *LocalMutex) Distributed() bool { return false }

func (m *LocalMutex) TryLock(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	m.held[key] = localHold{token: token, expires: now.Add(ttl)}
	return &localLease{m: m, key: key, token: token}, true, nil
}

func (m *LocalMutex) Holder(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.held[key]; ok && m.now().Before(h.expires) {
		return h.token, true, nil
	}
	return "", false, nil
}

type localLease struct {
	m     *LocalMutex
	key   string
	token string
}

func (l *localLease) Key() string   { return l.key }
func (l *localLease) Token() string { return l.token }

func (l *localLease) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if h, ok := l.m.held[l.key]; ok && h.token == l.token {
		delete(l.m.held, l.key)
	}
	return nil
}
