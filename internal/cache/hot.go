package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// HotTier is the fast lookup layer in front of the durable answer cache.
// Implementations are best effort: a failed lookup is a miss, a failed set
// is dropped.
type HotTier interface {
	Get(ctx context.Context, key string) (AnswerEntry, bool)
	Set(ctx context.Context, key string, entry AnswerEntry)
	Delete(ctx context.Context, key string)
}

type memoryItem struct {
	key       string
	entry     AnswerEntry
	expiresAt time.Time
}

// MemoryHotTier is a bounded in-process LRU with per-entry TTL. When full,
// the least recently used entry is evicted to make room.
type MemoryHotTier struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List
	items   map[string]*list.Element

	now func() time.Time
}

func NewMemoryHotTier(maxSize int, ttl time.Duration) *MemoryHotTier {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryHotTier{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   map[string]*list.Element{},
		now:     time.Now,
	}
}

func (m *MemoryHotTier) Get(_ context.Context, key string) (AnswerEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return AnswerEntry{}, false
	}
	item := el.Value.(*memoryItem)
	if m.now().After(item.expiresAt) {
		m.order.Remove(el)
		delete(m.items, key)
		return AnswerEntry{}, false
	}
	m.order.MoveToFront(el)
	return item.entry, true
}

func (m *MemoryHotTier) Set(_ context.Context, key string, entry AnswerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		item := el.Value.(*memoryItem)
		item.entry = entry
		item.expiresAt = m.now().Add(m.ttl)
		m.order.MoveToFront(el)
		return
	}
	for m.order.Len() >= m.maxSize {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*memoryItem).key)
	}
	m.items[key] = m.order.PushFront(&memoryItem{
		key:       key,
		entry:     entry,
		expiresAt: m.now().Add(m.ttl),
	})
}

func (m *MemoryHotTier) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.order.Remove(el)
		delete(m.items, key)
	}
}

// Len reports the number of live elements, including any not yet lazily
// expired.
func (m *MemoryHotTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
