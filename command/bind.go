package command

import (
	"errors"
	"fmt"
	"strings"

	"pkt.systems/rshell/schema"
)

var (
	// ErrRequiredOption marks a required option that was not supplied.
	ErrRequiredOption = errors.New("is required")
	// ErrUnknownOption marks an option the command does not declare.
	ErrUnknownOption = errors.New("unknown option")
	// ErrRepeatedOption marks an option supplied more than once.
	ErrRepeatedOption = errors.New("given more than once")
	// ErrMissingValue marks a non-flag option supplied without a value.
	ErrMissingValue = errors.New("requires a value")
	// ErrUnexpectedArgument marks a word that does not belong to an option.
	ErrUnexpectedArgument = errors.New("unexpected argument")
)

// BindError is a user-facing failure to bind a line to a command.
type BindError struct {
	// Option is the declared label, e.g. "-a/--add1", or the name as typed
	// when the option is unknown.
	Option string
	Value  string
	Err    error
}

func (e *BindError) Error() string {
	switch {
	case errors.Is(e.Err, ErrRequiredOption), errors.Is(e.Err, ErrMissingValue), errors.Is(e.Err, ErrRepeatedOption):
		return fmt.Sprintf("option %s %v", e.Option, e.Err)
	case errors.Is(e.Err, ErrUnknownOption):
		return fmt.Sprintf("unknown option %s", e.Option)
	case errors.Is(e.Err, ErrUnexpectedArgument):
		return fmt.Sprintf("unexpected argument %q", e.Value)
	default:
		return fmt.Sprintf("option %s: %v", e.Option, e.Err)
	}
}

func (e *BindError) Unwrap() error { return e.Err }

// ErrorCode implements schema.CodedError.
func (e *BindError) ErrorCode() schema.ErrorCode { return schema.CodeBinding }

// BindLine tokenizes raw and binds it to spec.
func BindLine(spec *Spec, raw string) (Args, error) {
	line, err := ParseLine(raw)
	if err != nil {
		return Args{}, err
	}
	return Bind(spec, line)
}

// Bind resolves every declared parameter of spec from line, in declaration
// order. The channel parameter is left nil; see Args.WithChannel.
func Bind(spec *Spec, line Line) (Args, error) {
	if len(line.Positionals) > 0 {
		return Args{}, &BindError{Value: line.Positionals[0], Err: ErrUnexpectedArgument}
	}
	if err := checkTokens(spec, line); err != nil {
		return Args{}, err
	}
	args := Args{params: spec.Parameters, values: make([]any, len(spec.Parameters))}
	for i, p := range spec.Parameters {
		switch p.kind {
		case paramChannel:
			args.values[i] = nil
		case paramStructured:
			dst := p.schema.newValue()
			for _, f := range p.schema.fields {
				v, err := resolve(f.option, line)
				if err != nil {
					return Args{}, err
				}
				f.set(dst, v)
			}
			args.values[i] = dst
		default:
			v, err := resolve(p.option, line)
			if err != nil {
				return Args{}, err
			}
			args.values[i] = v
		}
	}
	return args, nil
}

// checkTokens rejects options that no parameter declares and options that
// appear twice under either of their names.
func checkTokens(spec *Spec, line Line) error {
	var declared []Option
	for _, p := range spec.Parameters {
		declared = append(declared, p.options()...)
	}
	seen := make(map[int]struct{}, len(line.Tokens))
	for _, tok := range line.Tokens {
		idx := -1
		for i, opt := range declared {
			if opt.matches(tok.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &BindError{Option: typedLabel(tok), Err: ErrUnknownOption}
		}
		if _, dup := seen[idx]; dup {
			return &BindError{Option: declared[idx].Label(), Err: ErrRepeatedOption}
		}
		seen[idx] = struct{}{}
	}
	return nil
}

func resolve(opt Option, line Line) (any, error) {
	tok, present := line.Option(opt)
	if !present {
		switch {
		case opt.Default != "":
			return convertOption(opt, opt.Default)
		case opt.Required:
			return nil, &BindError{Option: opt.Label(), Err: ErrRequiredOption}
		default:
			return opt.Kind.zero(), nil
		}
	}
	if strings.TrimSpace(tok.Value) == "" {
		switch {
		case opt.Kind.flag():
			return true, nil
		case opt.Default != "":
			return convertOption(opt, opt.Default)
		case opt.Kind == KindString:
			return "", nil
		default:
			return nil, &BindError{Option: opt.Label(), Err: ErrMissingValue}
		}
	}
	return convertOption(opt, tok.Value)
}

func convertOption(opt Option, raw string) (any, error) {
	v, err := opt.Kind.convert(raw)
	if err != nil {
		return nil, &BindError{Option: opt.Label(), Value: raw, Err: err}
	}
	return v, nil
}

func typedLabel(tok Token) string {
	if tok.Long {
		return "--" + tok.Name
	}
	return "-" + tok.Name
}
