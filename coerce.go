package pulsefeed

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// converter is a type-erased conversion between one source and one target type.
type converter func(any) (any, error)

type typePair struct {
	from, to reflect.Type
}

// Coercions is a closed registry of converter functions keyed by
// (source type, target type).
//
// A SampleConfig resolves the converter it needs when it is built, so a
// missing conversion between two concrete types is reported at setup time
// rather than on every tick. Only raw samples of interface type (e.g. values
// decoded from JSON into any) are resolved per sample.
//
// Coercions is safe for concurrent use.
type Coercions struct {
	mu         sync.RWMutex
	converters map[typePair]converter
}

// NewCoercions returns an empty registry.
func NewCoercions() *Coercions {
	return &Coercions{converters: make(map[typePair]converter)}
}

// DefaultCoercions returns a registry preloaded with conversions between
// string, int, int64, float64, bool, []byte and time.Duration.
//
// Parsing conversions from string are strict: "42.5" does not become an int,
// and integers are always read in base 10, so "010" is 10 and "0x10" is an
// error. Numeric narrowing refuses lossy results instead of truncating.
// Integers convert to time.Duration as nanoseconds.
func DefaultCoercions() *Coercions {
	c := NewCoercions()

	RegisterCoercion(c, func(s string) (int, error) {
		i, err := parseInt(s)
		if err != nil {
			return 0, err
		}
		return int64ToInt(i)
	})
	RegisterCoercion(c, parseInt)
	RegisterCoercion(c, func(s string) (float64, error) { return cast.ToFloat64E(s) })
	RegisterCoercion(c, func(s string) (bool, error) { return cast.ToBoolE(s) })
	RegisterCoercion(c, func(s string) (time.Duration, error) { return cast.ToDurationE(s) })
	RegisterCoercion(c, func(b []byte) (string, error) { return string(b), nil })

	RegisterCoercion(c, func(i int) (int64, error) { return int64(i), nil })
	RegisterCoercion(c, func(i int) (float64, error) { return float64(i), nil })
	RegisterCoercion(c, func(i int) (string, error) { return strconv.Itoa(i), nil })
	RegisterCoercion(c, func(i int) (time.Duration, error) { return time.Duration(i), nil })
	RegisterCoercion(c, func(i int64) (int, error) { return int64ToInt(i) })
	RegisterCoercion(c, func(i int64) (float64, error) { return float64(i), nil })
	RegisterCoercion(c, func(i int64) (string, error) { return strconv.FormatInt(i, 10), nil })
	RegisterCoercion(c, func(i int64) (time.Duration, error) { return time.Duration(i), nil })

	RegisterCoercion(c, func(f float64) (int, error) {
		i, err := float64ToInt64(f)
		if err != nil {
			return 0, err
		}
		return int64ToInt(i)
	})
	RegisterCoercion(c, float64ToInt64)
	RegisterCoercion(c, func(f float64) (string, error) { return strconv.FormatFloat(f, 'f', -1, 64), nil })

	RegisterCoercion(c, func(b bool) (string, error) { return strconv.FormatBool(b), nil })
	RegisterCoercion(c, func(d time.Duration) (string, error) { return d.String(), nil })
	RegisterCoercion(c, func(d time.Duration) (float64, error) { return d.Seconds(), nil })

	return c
}

// defaultCoercions backs configs built without an explicit registry.
var defaultCoercions = DefaultCoercions()

// RegisterCoercion adds (or replaces) the converter from S to T.
func RegisterCoercion[S, T any](c *Coercions, fn func(S) (T, error)) {
	key := typePair{from: reflect.TypeFor[S](), to: reflect.TypeFor[T]()}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.converters[key] = func(raw any) (any, error) {
		return fn(raw.(S))
	}
}

func (c *Coercions) lookup(from, to reflect.Type) (converter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.converters[typePair{from: from, to: to}]
	return conv, ok
}

// Coerce converts raw to type to using the dynamic type of raw.
//
// nil coerces to the zero value of a nillable target and is an error
// otherwise. Values already of the target type, or assignable to it, pass
// through unchanged.
func (c *Coercions) Coerce(raw any, to reflect.Type) (any, error) {
	if raw == nil {
		if nillable(to) {
			return reflect.Zero(to).Interface(), nil
		}
		return nil, fmt.Errorf("%w: nil to %s", ErrNoCoercion, to)
	}

	from := reflect.TypeOf(raw)
	if from == to {
		return raw, nil
	}
	if conv, ok := c.lookup(from, to); ok {
		out, err := conv(raw)
		if err != nil {
			return nil, fmt.Errorf("coerce %s to %s: %w", from, to, err)
		}
		return out, nil
	}
	if from.AssignableTo(to) {
		return raw, nil
	}
	if from.Kind() == to.Kind() && from.ConvertibleTo(to) {
		return reflect.ValueOf(raw).Convert(to).Interface(), nil
	}
	return nil, fmt.Errorf("%w from %s to %s", ErrNoCoercion, from, to)
}

// CoerceTo converts raw to T using registry c.
func CoerceTo[T any](c *Coercions, raw any) (T, error) {
	var zero T
	out, err := c.Coerce(raw, reflect.TypeFor[T]())
	if err != nil || out == nil {
		return zero, err
	}
	t, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("%w: converter returned %T, want %s", ErrNoCoercion, out, reflect.TypeFor[T]())
	}
	return t, nil
}

// resolveCoercion picks the V to T conversion once, at config build time.
func resolveCoercion[V, T any](c *Coercions) (func(V) (T, error), error) {
	from, to := reflect.TypeFor[V](), reflect.TypeFor[T]()

	switch {
	case from == to:
		return func(v V) (T, error) {
			t, _ := any(v).(T)
			return t, nil
		}, nil

	case from.Kind() == reflect.Interface:
		return func(v V) (T, error) {
			return CoerceTo[T](c, any(v))
		}, nil
	}

	if conv, ok := c.lookup(from, to); ok {
		return func(v V) (T, error) {
			out, err := conv(v)
			if err != nil {
				var zero T
				return zero, fmt.Errorf("coerce %s to %s: %w", from, to, err)
			}
			return out.(T), nil
		}, nil
	}

	if from.AssignableTo(to) || (from.Kind() == to.Kind() && from.ConvertibleTo(to)) {
		return func(v V) (T, error) {
			return CoerceTo[T](c, any(v))
		}, nil
	}

	return nil, fmt.Errorf("%w from %s to %s", ErrNoCoercion, from, to)
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// parseInt reads a base-10 integer, ignoring surrounding whitespace.
func parseInt(s string) (int64, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a base-10 integer", s)
	}
	return i, nil
}

func float64ToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

func int64ToInt(i int64) (int, error) {
	if int64(int(i)) != i {
		return 0, fmt.Errorf("%d overflows int", i)
	}
	return int(i), nil
}
