package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"pkt.systems/rshell/schema"
)

// Registry maps names and aliases to specs. Registration fails fast and the
// table is read-only once sealed.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Spec
	specs  []*Spec
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Spec)}
}

// Register validates spec and adds it under every name.
func (r *Registry) Register(spec Spec) error {
	normalized, err := normalizeSpec(spec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return schema.ErrRegistrySealed
	}
	for _, name := range normalized.Names {
		if existing, ok := r.byName[name]; ok {
			return fmt.Errorf("repeatedly defined shell command %q (already registered by %q)", name, existing.Name())
		}
	}
	stored := &normalized
	for _, name := range stored.Names {
		r.byName[name] = stored
	}
	r.specs = append(r.specs, stored)
	return nil
}

// MustRegister registers specs and panics on the first error. Intended for
// static tables built at init time.
func (r *Registry) MustRegister(specs ...Spec) {
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}
}

// Seal rejects further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup resolves a name or alias.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.byName[name]
	return spec, ok
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// Meta snapshots the registry for clients, sorted by group then name.
func (r *Registry) Meta() []schema.CommandMeta {
	r.mu.RLock()
	out := make([]schema.CommandMeta, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec.Meta())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

func normalizeSpec(spec Spec) (Spec, error) {
	if len(spec.Names) == 0 {
		return Spec{}, errors.New("command must declare at least one name")
	}
	names := make([]string, 0, len(spec.Names))
	seen := make(map[string]struct{}, len(spec.Names))
	for _, raw := range spec.Names {
		name := strings.TrimSpace(raw)
		if err := validateCommandName(name); err != nil {
			return Spec{}, err
		}
		if IsBuiltin(name) {
			return Spec{}, fmt.Errorf("command name %q conflicts with a built-in command", name)
		}
		if _, ok := seen[name]; ok {
			return Spec{}, fmt.Errorf("repeatedly defined shell command alias %q", name)
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	spec.Names = names
	if spec.Handler == nil {
		return Spec{}, fmt.Errorf("command %q has no handler", names[0])
	}
	if strings.TrimSpace(spec.Group) == "" {
		spec.Group = DefaultGroup
	}
	spec.Permissions = schema.NormalizePermissions(permissionStrings(spec.Permissions))
	if err := validateParameters(names[0], spec.Parameters); err != nil {
		return Spec{}, err
	}
	spec.Parameters = append([]Parameter(nil), spec.Parameters...)
	return spec, nil
}

func validateCommandName(name string) error {
	if name == "" {
		return errors.New("command name must not be empty")
	}
	for _, r := range name {
		if unicode.IsSpace(r) {
			return fmt.Errorf("command name %q must not contain whitespace", name)
		}
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("command name %q must not start with a dash", name)
	}
	return nil
}

func validateParameters(command string, params []Parameter) error {
	names := make(map[string]struct{}, len(params))
	options := make(map[string]string)
	channels := 0
	claim := func(opt Option, owner string) error {
		for _, n := range []string{opt.Short, opt.Long} {
			if n == "" {
				continue
			}
			if prev, ok := options[n]; ok {
				return fmt.Errorf("command %q: option %q of %s is already declared by %s", command, n, owner, prev)
			}
			options[n] = owner
		}
		return nil
	}
	for _, p := range params {
		if p.name == "" {
			return fmt.Errorf("command %q has an unnamed parameter", command)
		}
		if _, ok := names[p.name]; ok {
			return fmt.Errorf("command %q declares parameter %q twice", command, p.name)
		}
		names[p.name] = struct{}{}
		switch p.kind {
		case paramChannel:
			channels++
			if channels > 1 {
				return fmt.Errorf("command %q declares more than one channel parameter", command)
			}
		case paramStructured:
			if p.schema == nil {
				return fmt.Errorf("command %q parameter %q has no schema", command, p.name)
			}
			if err := p.schema.validate(p.name); err != nil {
				return fmt.Errorf("command %q: %w", command, err)
			}
			for _, f := range p.schema.fields {
				if err := claim(f.option, p.name+"."+f.name); err != nil {
					return err
				}
			}
		default:
			if err := p.option.validate(); err != nil {
				return fmt.Errorf("command %q parameter %q: %w", command, p.name, err)
			}
			if err := claim(p.option, p.name); err != nil {
				return err
			}
		}
	}
	return nil
}

func permissionStrings(perms []schema.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
