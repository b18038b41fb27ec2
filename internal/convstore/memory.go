package convstore

import (
	"container/list"
	"sync"
	"time"
)

// MemoryRegistry is an LRU+TTL in-process registry, suitable for single
// instance deployments.
type MemoryRegistry struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	ll         *list.List
	items      map[string]*list.Element
}

type registryItem struct {
	key       string
	entry     Entry
	expiresAt time.Time
}

func NewMemoryRegistry(maxEntries int, ttl time.Duration) *MemoryRegistry {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &MemoryRegistry{
		maxEntries: maxEntries,
		ttl:        ttl,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (r *MemoryRegistry) Lookup(fingerprint string) (Entry, bool) {
	if r == nil || r.maxEntries <= 0 {
		return Entry{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.items[fingerprint]
	if !ok {
		return Entry{}, false
	}
	item := el.Value.(*registryItem)
	if r.ttl > 0 && time.Now().After(item.expiresAt) {
		r.removeElement(el)
		return Entry{}, false
	}
	r.ll.MoveToFront(el)
	return item.entry, true
}

func (r *MemoryRegistry) Register(fingerprint string, entry Entry) {
	if r == nil || r.maxEntries <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt := time.Now().Add(r.ttl)
	if el, ok := r.items[fingerprint]; ok {
		item := el.Value.(*registryItem)
		item.entry = entry
		item.expiresAt = expiresAt
		r.ll.MoveToFront(el)
		return
	}

	el := r.ll.PushFront(&registryItem{key: fingerprint, entry: entry, expiresAt: expiresAt})
	r.items[fingerprint] = el

	for r.ll.Len() > r.maxEntries {
		oldest := r.ll.Back()
		if oldest == nil {
			break
		}
		r.removeElement(oldest)
	}
}

func (r *MemoryRegistry) removeElement(el *list.Element) {
	item := el.Value.(*registryItem)
	delete(r.items, item.key)
	r.ll.Remove(el)
}
