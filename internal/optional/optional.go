// Package optional provides a tagged-optional value type used throughout
// the data model wherever a field may be legitimately absent (as opposed
// to present-but-zero). A missing barometer reading and a barometer
// reading of exactly 0 hPa are different facts; a bare float64 cannot
// tell them apart.
package optional

import "encoding/json"

// Value is a tagged optional. The zero value is unset.
type Value[T any] struct {
	v     T
	isSet bool
}

// Of returns a set Value wrapping v.
func Of[T any](v T) Value[T] {
	return Value[T]{v: v, isSet: true}
}

// Get returns the wrapped value and whether it is set.
func (o Value[T]) Get() (T, bool) {
	return o.v, o.isSet
}

// IsSet reports whether the value is present.
func (o Value[T]) IsSet() bool {
	return o.isSet
}

// MustGet returns the wrapped value, panicking if unset. Callers must
// check IsSet first; this exists for call sites that already did.
func (o Value[T]) MustGet() T {
	if !o.isSet {
		panic("optional: MustGet on unset value")
	}
	return o.v
}

// OrElse returns the wrapped value, or fallback if unset.
func (o Value[T]) OrElse(fallback T) T {
	if !o.isSet {
		return fallback
	}
	return o.v
}

// MarshalJSON implements json.Marshaler. Unset values marshal to null so
// that struct fields tagged `omitempty` on a pointer-shaped alias still
// drop cleanly; callers that want the field omitted entirely should use
// a pointer alias of this type.
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.isSet {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		o.isSet = false
		var zero T
		o.v = zero
		return nil
	}
	if err := json.Unmarshal(data, &o.v); err != nil {
		return err
	}
	o.isSet = true
	return nil
}
