package connection

import "sync"

// Registry maps keys to channel handles. A key holds at most one handle;
// Put on an existing key replaces it.
//
// One RWMutex guards the whole map. Operations are short and never call
// out while holding the lock.
type Registry[K comparable, H comparable] struct {
	mu      sync.RWMutex
	entries map[K]H
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, H comparable]() *Registry[K, H] {
	return &Registry[K, H]{entries: make(map[K]H)}
}

// Put associates key with h, returning the handle it replaced, if any.
func (r *Registry[K, H]) Put(key K, h H) (prev H, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, replaced = r.entries[key]
	r.entries[key] = h
	return prev, replaced
}

// Get returns the handle for key.
func (r *Registry[K, H]) Get(key K) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[key]
	return h, ok
}

// Remove deletes key and reports whether it was present.
func (r *Registry[K, H]) Remove(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	delete(r.entries, key)
	return ok
}

// RemoveByHandle deletes every entry whose handle equals h and returns the
// removed keys. A single channel may serve several keys.
func (r *Registry[K, H]) RemoveByHandle(h H) []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []K
	for k, cur := range r.entries {
		if cur == h {
			removed = append(removed, k)
			delete(r.entries, k)
		}
	}
	return removed
}

// Keys returns a snapshot of all keys in no particular order.
func (r *Registry[K, H]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Any reports whether some key satisfies match.
func (r *Registry[K, H]) Any(match func(K) bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := range r.entries {
		if match(k) {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (r *Registry[K, H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
