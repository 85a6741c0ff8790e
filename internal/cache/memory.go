package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/example/md-checkout/internal/clock"
)

// DefaultCapacity bounds the in-memory cache.
const DefaultCapacity = 1000

// Memory is an LRU ValidationCache. The least recently used entry is
// evicted once capacity is reached.
type Memory struct {
	mu       sync.Mutex
	clock    clock.Clock
	ttl      time.Duration
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

func NewMemory(clk clock.Clock, ttl time.Duration, capacity int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		clock:    clk,
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (m *Memory) Get(_ context.Context, productID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[productID]
	if !ok {
		return nil, ErrCacheMiss
	}
	entry := el.Value.(*Entry)
	if !fresh(entry, m.clock.Now(), m.ttl) {
		m.order.Remove(el)
		delete(m.items, productID)
		return nil, ErrCacheMiss
	}
	m.order.MoveToFront(el)

	cp := *entry
	return &cp, nil
}

func (m *Memory) Set(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	if cp.CachedAt.IsZero() {
		cp.CachedAt = m.clock.Now()
	}

	if el, ok := m.items[cp.ProductID]; ok {
		el.Value = &cp
		m.order.MoveToFront(el)
		return nil
	}

	m.items[cp.ProductID] = m.order.PushFront(&cp)
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*Entry).ProductID)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[productID]; ok {
		m.order.Remove(el)
		delete(m.items, productID)
	}
	return nil
}

// Len returns the number of entries currently held, fresh or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
