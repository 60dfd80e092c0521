package pulsefeed

// Result is the outcome of a transform: either a value to write to the
// target attribute or Keep, meaning "leave the attribute untouched this tick".
//
// The zero Result is Keep.
type Result[T any] struct {
	value T
	set   bool
}

// Keep returns a Result that leaves the target attribute unchanged.
func Keep[T any]() Result[T] {
	return Result[T]{}
}

// Value returns a Result that writes v to the target attribute.
func Value[T any](v T) Result[T] {
	return Result[T]{value: v, set: true}
}

// Get returns the value and true, or the zero value and false for Keep.
func (r Result[T]) Get() (T, bool) {
	return r.value, r.set
}

// IsKeep reports whether r leaves the attribute unchanged.
func (r Result[T]) IsKeep() bool {
	return !r.set
}
