package command

import (
	"fmt"
	"reflect"
	"time"

	"pkt.systems/rshell/schema"
)

type paramKind int

const (
	paramSimple paramKind = iota
	paramStructured
	paramChannel
)

// Parameter is one declared argument of a command, in declaration order.
type Parameter struct {
	name   string
	kind   paramKind
	option Option
	schema *structSchema
}

// Simple declares a scalar or flat collection parameter bound from one option.
func Simple(name string, opt Option) Parameter {
	return Parameter{name: name, kind: paramSimple, option: opt}
}

// ChannelParam declares the live channel argument. Commands that take it
// stream output themselves and own completion of their frame.
func ChannelParam() Parameter {
	return Parameter{name: "channel", kind: paramChannel}
}

// Name returns the parameter name used by Args accessors.
func (p Parameter) Name() string { return p.name }

// IsChannel reports whether p is the injected channel.
func (p Parameter) IsChannel() bool { return p.kind == paramChannel }

// IsStructured reports whether p binds a value object.
func (p Parameter) IsStructured() bool { return p.kind == paramStructured }

// options lists the user-facing options introduced by p.
func (p Parameter) options() []Option {
	switch p.kind {
	case paramSimple:
		return []Option{p.option}
	case paramStructured:
		out := make([]Option, 0, len(p.schema.fields))
		for _, f := range p.schema.fields {
			out = append(out, f.option)
		}
		return out
	default:
		return nil
	}
}

func (p Parameter) meta() schema.ParameterMeta {
	switch p.kind {
	case paramStructured:
		m := schema.ParameterMeta{Name: p.name, Kind: schema.ParameterStructured, Type: p.schema.typeName}
		for _, f := range p.schema.fields {
			fm := optionMeta(f.name, f.option)
			m.Fields = append(m.Fields, fm)
		}
		return m
	case paramChannel:
		return schema.ParameterMeta{Name: p.name, Kind: schema.ParameterChannel}
	default:
		return optionMeta(p.name, p.option)
	}
}

func optionMeta(name string, opt Option) schema.ParameterMeta {
	return schema.ParameterMeta{
		Name:     name,
		Kind:     schema.ParameterSimple,
		Type:     opt.Kind.String(),
		Short:    opt.Short,
		Long:     opt.Long,
		Default:  opt.Default,
		Required: opt.Required,
		Help:     opt.Help,
	}
}

// structSchema is the type-erased descriptor of a structured parameter.
type structSchema struct {
	typeName string
	fields   []structField
	newValue func() any
}

type structField struct {
	name   string
	option Option
	set    func(dst any, v any)
}

// Field describes one option-bound field of a structured parameter of type T.
type Field[T any] struct {
	Name   string
	Option Option
	Set    func(dst *T, v any)
}

// Struct declares a structured parameter. Each bind allocates a fresh *T and
// applies the fields in order; Args.Value returns that *T.
func Struct[T any](name string, fields ...Field[T]) Parameter {
	s := &structSchema{
		typeName: reflect.TypeFor[T]().String(),
		newValue: func() any { return new(T) },
	}
	for _, f := range fields {
		set := f.Set
		s.fields = append(s.fields, structField{
			name:   f.Name,
			option: f.Option,
			set: func(dst any, v any) {
				if set != nil {
					set(dst.(*T), v)
				}
			},
		})
	}
	return Parameter{name: name, kind: paramStructured, schema: s}
}

// Embed lifts the fields of an embedded or parent type P into T through get,
// so descriptor sets compose the way embedded structs do.
func Embed[T, P any](get func(*T) *P, fields ...Field[P]) []Field[T] {
	out := make([]Field[T], 0, len(fields))
	for _, f := range fields {
		set := f.Set
		out = append(out, Field[T]{
			Name:   f.Name,
			Option: f.Option,
			Set: func(dst *T, v any) {
				if set != nil {
					set(get(dst), v)
				}
			},
		})
	}
	return out
}

func typed[T, V any](name string, opt Option, kind Kind, ptr func(*T) *V) Field[T] {
	opt.Kind = kind
	return Field[T]{
		Name:   name,
		Option: opt,
		Set: func(dst *T, v any) {
			if val, ok := v.(V); ok {
				*ptr(dst) = val
			}
		},
	}
}

// StringField binds a string field.
func StringField[T any](name string, opt Option, ptr func(*T) *string) Field[T] {
	return typed(name, opt, KindString, ptr)
}

// IntField binds an int field.
func IntField[T any](name string, opt Option, ptr func(*T) *int) Field[T] {
	return typed(name, opt, KindInt, ptr)
}

// Int64Field binds an int64 field.
func Int64Field[T any](name string, opt Option, ptr func(*T) *int64) Field[T] {
	return typed(name, opt, KindInt64, ptr)
}

// FloatField binds a float64 field.
func FloatField[T any](name string, opt Option, ptr func(*T) *float64) Field[T] {
	return typed(name, opt, KindFloat, ptr)
}

// BoolField binds a bool field.
func BoolField[T any](name string, opt Option, ptr func(*T) *bool) Field[T] {
	return typed(name, opt, KindBool, ptr)
}

// DurationField binds a time.Duration field.
func DurationField[T any](name string, opt Option, ptr func(*T) *time.Duration) Field[T] {
	return typed(name, opt, KindDuration, ptr)
}

// StringsField binds a comma separated list field.
func StringsField[T any](name string, opt Option, ptr func(*T) *[]string) Field[T] {
	return typed(name, opt, KindStrings, ptr)
}

// SetField binds a de-duplicated list field.
func SetField[T any](name string, opt Option, ptr func(*T) *[]string) Field[T] {
	return typed(name, opt, KindStringSet, ptr)
}

// IntsField binds a comma separated int list field.
func IntsField[T any](name string, opt Option, ptr func(*T) *[]int) Field[T] {
	return typed(name, opt, KindInts, ptr)
}

// MapField binds a key=value map field.
func MapField[T any](name string, opt Option, ptr func(*T) *map[string]string) Field[T] {
	return typed(name, opt, KindStringMap, ptr)
}

func (s *structSchema) validate(param string) error {
	if len(s.fields) == 0 {
		return fmt.Errorf("structured parameter %q declares no fields", param)
	}
	seen := make(map[string]struct{}, len(s.fields))
	for _, f := range s.fields {
		if f.name == "" {
			return fmt.Errorf("structured parameter %q has an unnamed field", param)
		}
		if _, ok := seen[f.name]; ok {
			return fmt.Errorf("structured parameter %q declares field %q twice", param, f.name)
		}
		seen[f.name] = struct{}{}
		if err := f.option.validate(); err != nil {
			return fmt.Errorf("structured parameter %q field %q: %w", param, f.name, err)
		}
	}
	return nil
}
