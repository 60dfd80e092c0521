package pulsefeed

import (
	"fmt"
	"reflect"
)

// Attribute is a typed, named value slot on an [Entity].
//
// Attribute is a descriptor only; values live in the entity's attribute
// store. Attributes are immutable and comparable, so they are typically
// declared once as package-level variables:
//
//	var HTTPStatus = pulsefeed.NewAttribute[int]("http.status", "Last HTTP status code")
type Attribute[T any] struct {
	name        string
	description string
}

// NewAttribute declares an attribute of type T.
func NewAttribute[T any](name, description string) Attribute[T] {
	return Attribute[T]{name: name, description: description}
}

// Name returns the attribute name, unique within an entity.
func (a Attribute[T]) Name() string {
	return a.name
}

// Description returns the human-readable description.
func (a Attribute[T]) Description() string {
	return a.description
}

// Type returns the declared value type.
func (a Attribute[T]) Type() reflect.Type {
	return reflect.TypeFor[T]()
}

// String implements fmt.Stringer.
func (a Attribute[T]) String() string {
	return fmt.Sprintf("%s (%s)", a.name, a.Type())
}
