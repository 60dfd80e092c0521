package store

import "time"

// AttributeValue is the current value of one attribute of one entity.
//
// AttributeValue is the storage representation of the live attribute model,
// shaped for JSON serialization (used by the REST API and SSE).
type AttributeValue struct {
	// Entity is the ID of the owning entity.
	Entity string `json:"entity"`

	// Name is the attribute name.
	Name string `json:"name"`

	// Value is the coerced attribute value.
	Value any `json:"value"`

	// UpdatedAt is when the value was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Key identifies an attribute slot in a [Store].
type Key struct {
	Entity string
	Name   string
}

// Key returns the slot this value is stored under.
func (v AttributeValue) Key() Key {
	return Key{Entity: v.Entity, Name: v.Name}
}

// Store defines the interface for storing and subscribing to attribute values.
//
// Store implementations must be safe for concurrent Set calls from arbitrary
// goroutines. The pub/sub mechanism allows real-time updates to be pushed to
// connected clients (e.g., via Server-Sent Events).
type Store interface {
	// Set stores a value and notifies all subscribers.
	// Values are keyed by (Entity, Name); a later Set replaces an earlier one.
	Set(value AttributeValue)

	// Get returns the current value of an attribute slot.
	Get(key Key) (AttributeValue, bool)

	// GetAll returns all currently stored values.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []AttributeValue

	// Subscribe returns a channel that receives every subsequent Set.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan AttributeValue

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan AttributeValue)
}
