package store

import (
	"sort"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore provides thread-safe storage with a publish-subscribe mechanism
// for real-time updates. Values are keyed by entity and attribute name, with
// new values replacing previous ones.
//
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is dropped
// for that subscriber to prevent blocking the polling workers.
type MemoryStore struct {
	mu          sync.RWMutex
	values      map[Key]AttributeValue
	subscribers map[chan AttributeValue]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[Key]AttributeValue),
		subscribers: make(map[chan AttributeValue]struct{}),
	}
}

// Set stores an [AttributeValue] and notifies all subscribers.
func (m *MemoryStore) Set(value AttributeValue) {
	m.mu.Lock()
	m.values[value.Key()] = value
	m.mu.Unlock()

	m.notifySubscribers(value)
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(key Key) (AttributeValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	return v, ok
}

// GetAll returns a snapshot of all currently stored values, ordered by
// entity and then attribute name.
func (m *MemoryStore) GetAll() []AttributeValue {
	m.mu.RLock()
	results := make([]AttributeValue, 0, len(m.values))
	for _, v := range m.values {
		results = append(results, v)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Entity != results[j].Entity {
			return results[i].Entity < results[j].Entity
		}
		return results[i].Name < results[j].Name
	})
	return results
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan AttributeValue {
	ch := make(chan AttributeValue, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan AttributeValue) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the value to all active subscribers without blocking.
func (m *MemoryStore) notifySubscribers(value AttributeValue) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- value:
		default:
			// subscriber is slow, drop the update
		}
	}
}
