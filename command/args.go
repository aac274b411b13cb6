package command

import (
	"fmt"
	"time"
)

// Args is the bound argument list of one call, positionally aligned with
// the command's parameters.
type Args struct {
	params []Parameter
	values []any
}

// Len returns the number of bound values.
func (a Args) Len() int { return len(a.values) }

// At returns the value at position i.
func (a Args) At(i int) any {
	if i < 0 || i >= len(a.values) {
		return nil
	}
	return a.values[i]
}

// Values returns a copy of the bound values.
func (a Args) Values() []any {
	return append([]any(nil), a.values...)
}

// Lookup returns the value bound to the named parameter.
func (a Args) Lookup(name string) (any, bool) {
	for i, p := range a.params {
		if p.name == name {
			return a.values[i], true
		}
	}
	return nil, false
}

// WithChannel returns a copy of a with ch injected at the channel
// parameter's position. It returns a unchanged when there is none.
func (a Args) WithChannel(ch Channel) Args {
	for i, p := range a.params {
		if p.kind == paramChannel {
			out := Args{params: a.params, values: a.Values()}
			out.values[i] = ch
			return out
		}
	}
	return a
}

// String returns the named string value, or "".
func (a Args) String(name string) string { return get[string](a, name) }

// Int returns the named int value, or 0.
func (a Args) Int(name string) int { return get[int](a, name) }

// Int64 returns the named int64 value, or 0.
func (a Args) Int64(name string) int64 { return get[int64](a, name) }

// Float returns the named float value, or 0.
func (a Args) Float(name string) float64 { return get[float64](a, name) }

// Bool returns the named bool value.
func (a Args) Bool(name string) bool { return get[bool](a, name) }

// Duration returns the named duration value.
func (a Args) Duration(name string) time.Duration { return get[time.Duration](a, name) }

// Strings returns the named list or set value.
func (a Args) Strings(name string) []string { return get[[]string](a, name) }

// Ints returns the named int list value.
func (a Args) Ints(name string) []int { return get[[]int](a, name) }

// Map returns the named key=value map.
func (a Args) Map(name string) map[string]string { return get[map[string]string](a, name) }

func get[V any](a Args, name string) V {
	var zero V
	v, ok := a.Lookup(name)
	if !ok {
		return zero
	}
	typed, ok := v.(V)
	if !ok {
		return zero
	}
	return typed
}

// StructArg returns the *T bound to a structured parameter.
func StructArg[T any](a Args, name string) (*T, error) {
	v, ok := a.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no parameter named %q", name)
	}
	typed, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("parameter %q is %T, not *%T", name, v, *new(T))
	}
	return typed, nil
}
