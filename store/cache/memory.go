package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	Capacity        int           // Maximum number of entries (default: 10000)
	CleanupInterval time.Duration // Interval for expired entry cleanup (default: 1 minute)
}

// Memory is an in-process LRU backend with TTL support.
// All operations, including the generation checks of SetIfCurrent, run under one mutex.
type Memory struct {
	capacity int
	mu       sync.Mutex

	entries map[string]*entry
	byUser  map[int64]map[string]*entry
	order   *list.List // Doubly linked list for LRU ordering

	// seq hands out generations, so a stale stamp can never match again.
	// userGen and keyGen are bounded: pruning them bumps globalGen, which
	// fences every fill stamped before the prune.
	seq       uint64
	globalGen uint64
	userGen   map[int64]uint64
	keyGen    map[string]uint64

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	key       string
	userID    int64
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// NewMemory creates an in-process backend and starts its cleanup loop.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		capacity: cfg.Capacity,
		entries:  make(map[string]*entry),
		byUser:   make(map[int64]map[string]*entry),
		order:    list.New(),
		userGen:  make(map[int64]uint64),
		keyGen:   make(map[string]uint64),
		now:      time.Now,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.cleanupLoop(ctx, cfg.CleanupInterval)
	return m
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key.String()]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		m.removeEntry(e)
		return nil, false, nil
	}
	m.order.MoveToFront(e.element)
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, value, ttl)
	return nil
}

func (m *Memory) Stamp(_ context.Context, key Key) (Stamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stampLocked(key), nil
}

func (m *Memory) SetIfCurrent(_ context.Context, key Key, stamp Stamp, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stampLocked(key) != stamp {
		return false, nil
	}
	m.store(key, value, ttl)
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	m.seq++
	m.keyGen[k] = m.seq
	if e, ok := m.entries[k]; ok {
		m.removeEntry(e)
	}
	m.pruneIfFullLocked()
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.userGen[userID] = m.seq
	for _, e := range m.byUser[userID] {
		m.removeEntry(e)
	}
	m.pruneIfFullLocked()
	return nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.globalGen = m.seq
	m.userGen = make(map[int64]uint64)
	m.keyGen = make(map[string]uint64)
	m.entries = make(map[string]*entry)
	m.byUser = make(map[int64]map[string]*entry)
	m.order.Init()
	return nil
}

// Close stops the cleanup loop.
func (m *Memory) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

// Size returns the number of entries in the cache.
func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// CleanupExpired removes all expired entries.
// Returns the number of entries removed.
func (m *Memory) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toDelete []*entry
	now := m.now()
	for _, e := range m.entries {
		if now.After(e.expiresAt) {
			toDelete = append(toDelete, e)
		}
	}
	for _, e := range toDelete {
		m.removeEntry(e)
	}
	return len(toDelete)
}

// PruneGenerations forgets per-user and per-key invalidation generations.
// Fills stamped before the call are discarded.
func (m *Memory) PruneGenerations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
}

// Must be called with lock held.
func (m *Memory) pruneIfFullLocked() {
	if len(m.userGen)+len(m.keyGen) > m.capacity {
		m.pruneLocked()
	}
}

// Must be called with lock held.
func (m *Memory) pruneLocked() {
	if len(m.userGen) == 0 && len(m.keyGen) == 0 {
		return
	}
	m.seq++
	m.globalGen = m.seq
	m.userGen = make(map[int64]uint64)
	m.keyGen = make(map[string]uint64)
}

// Must be called with lock held.
func (m *Memory) stampLocked(key Key) Stamp {
	return Stamp{
		Global: m.globalGen,
		User:   m.userGen[key.UserID],
		Key:    m.keyGen[key.String()],
	}
}

// store inserts or replaces an entry.
// Must be called with lock held.
func (m *Memory) store(key Key, value []byte, ttl time.Duration) {
	k := key.String()
	expiresAt := m.now().Add(ttl)

	if e, ok := m.entries[k]; ok {
		e.value = value
		e.expiresAt = expiresAt
		m.order.MoveToFront(e.element)
		return
	}

	for len(m.entries) >= m.capacity {
		m.evictOldest()
	}

	e := &entry{
		key:       k,
		userID:    key.UserID,
		value:     value,
		expiresAt: expiresAt,
	}
	e.element = m.order.PushFront(e)
	m.entries[k] = e
	if m.byUser[key.UserID] == nil {
		m.byUser[key.UserID] = make(map[string]*entry)
	}
	m.byUser[key.UserID][k] = e
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (m *Memory) evictOldest() {
	oldest := m.order.Back()
	if oldest == nil {
		return
	}
	m.removeEntry(oldest.Value.(*entry))
}

// Must be called with lock held.
func (m *Memory) removeEntry(e *entry) {
	m.order.Remove(e.element)
	delete(m.entries, e.key)
	if userEntries := m.byUser[e.userID]; userEntries != nil {
		delete(userEntries, e.key)
		if len(userEntries) == 0 {
			delete(m.byUser, e.userID)
		}
	}
}

// cleanupLoop periodically removes expired entries.
func (m *Memory) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired()
			m.PruneGenerations()
		}
	}
}

var _ Backend = (*Memory)(nil)
