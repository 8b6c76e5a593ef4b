package cache

import (
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	value  []byte
	expiry time.Time
}

// memoryTier is the in-process cache tier: a bounded concurrent map. Reads
// take the read lock only; writes to a single key are serialised by the
// writer lock so observers always see a consistent entry.
type memoryTier struct {
	mu       sync.RWMutex
	items    map[string]memEntry
	maxItems int
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

func newMemoryTier(maxItems int) *memoryTier {
	if maxItems <= 0 {
		maxItems = 1000
	}
	return &memoryTier{
		items:    make(map[string]memEntry),
		maxItems: maxItems,
		now:      time.Now,
	}
}

// get returns the value for key. Entries past expiry are treated as absent
// and reclaimed.
func (m *memoryTier) get(key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		m.misses++
		m.mu.Unlock()
		return nil, false
	}
	if m.now().After(entry.expiry) {
		m.mu.Lock()
		// Recheck under the writer lock; another goroutine may have replaced it.
		if cur, ok := m.items[key]; ok && m.now().After(cur.expiry) {
			delete(m.items, key)
		}
		m.misses++
		m.mu.Unlock()
		return nil, false
	}

	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
	return entry.value, true
}

func (m *memoryTier) set(key string, value []byte, expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxItems {
		m.evictLocked()
	}
	m.items[key] = memEntry{value: value, expiry: expiry}
}

// evictLocked frees space: expired entries first, then the oldest 20% by expiry.
func (m *memoryTier) evictLocked() {
	now := m.now()
	for key, entry := range m.items {
		if now.After(entry.expiry) {
			delete(m.items, key)
			m.evictions++
		}
	}
	if len(m.items) < m.maxItems {
		return
	}

	type keyed struct {
		key    string
		expiry time.Time
	}
	ordered := make([]keyed, 0, len(m.items))
	for key, entry := range m.items {
		ordered = append(ordered, keyed{key, entry.expiry})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].expiry.Before(ordered[j].expiry) })

	drop := len(ordered) / 5
	if drop < 1 {
		drop = 1
	}
	for _, k := range ordered[:drop] {
		delete(m.items, k.key)
		m.evictions++
	}
}

func (m *memoryTier) delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	m.items = make(map[string]memEntry)
	m.mu.Unlock()
}

// TierStats reports one tier's counters.
type TierStats struct {
	Items     int   `json:"items"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions,omitempty"`
	Healthy   bool  `json:"healthy"`
}

func (m *memoryTier) stats() TierStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TierStats{
		Items:     len(m.items),
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Healthy:   true,
	}
}
