package command

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Option declares how one value is supplied on the command line. Short and
// Long are written without leading dashes.
type Option struct {
	Short    string
	Long     string
	Default  string
	Required bool
	Help     string
	Kind     Kind
}

// Label renders the option the way users type it, e.g. "-a/--add1".
func (o Option) Label() string {
	switch {
	case o.Short != "" && o.Long != "":
		return "-" + o.Short + "/--" + o.Long
	case o.Long != "":
		return "--" + o.Long
	default:
		return "-" + o.Short
	}
}

func (o Option) validate() error {
	if o.Short == "" && o.Long == "" {
		return errors.New("option needs a short or long name")
	}
	for _, name := range []string{o.Short, o.Long} {
		if name == "" {
			continue
		}
		if err := validateOptionName(name); err != nil {
			return err
		}
	}
	if !o.Kind.valid() {
		return fmt.Errorf("option %s has unsupported kind %d", o.Label(), o.Kind)
	}
	if o.Default != "" {
		if _, err := o.Kind.convert(o.Default); err != nil {
			return fmt.Errorf("option %s default: %w", o.Label(), err)
		}
	}
	return nil
}

func validateOptionName(name string) error {
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("option name %q must be declared without dashes", name)
	}
	for i, r := range name {
		if i == 0 && !unicode.IsLetter(r) {
			return fmt.Errorf("option name %q must start with a letter", name)
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return fmt.Errorf("option name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

// matches reports whether a typed option name refers to o.
func (o Option) matches(name string) bool {
	return name != "" && (name == o.Short || name == o.Long)
}
