package search

type fieldState uint8

const (
	stateUnset fieldState = iota
	stateEmpty
	stateValue
)

// Field is a filter field with three states: unset (no constraint),
// empty (match records where the field is null or blank) and a concrete
// value. The zero Field is unset.
type Field[T any] struct {
	state fieldState
	value T
}

// Empty returns a field that matches missing values.
func Empty[T any]() Field[T] {
	return Field[T]{state: stateEmpty}
}

// Is returns a field constrained to v.
func Is[T any](v T) Field[T] {
	return Field[T]{state: stateValue, value: v}
}

// IsSet reports whether the field constrains the query at all.
func (f Field[T]) IsSet() bool { return f.state != stateUnset }

// IsEmpty reports whether the field asks for missing values.
func (f Field[T]) IsEmpty() bool { return f.state == stateEmpty }

// Value returns the concrete value, if the field holds one.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.state == stateValue
}

// ParseField maps command line input onto a field: a nil pointer is
// unset, "" is explicitly empty, and anything else is a value.
func ParseField(s *string) Field[string] {
	switch {
	case s == nil:
		return Field[string]{}
	case *s == "":
		return Empty[string]()
	default:
		return Is(*s)
	}
}
