package schema

// ParameterMeta describes one declared parameter to clients.
// Structured parameters list their fields; simple ones carry the option directly.
type ParameterMeta struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Type     string          `json:"type,omitempty"`
	Short    string          `json:"short,omitempty"`
	Long     string          `json:"long,omitempty"`
	Default  string          `json:"default,omitempty"`
	Required bool            `json:"required,omitempty"`
	Help     string          `json:"help,omitempty"`
	Fields   []ParameterMeta `json:"fields,omitempty"`
}

// Parameter kinds carried in ParameterMeta.Kind.
const (
	ParameterSimple     = "simple"
	ParameterStructured = "structured"
	ParameterChannel    = "channel"
)

// CommandMeta is the registry snapshot entry for one command.
type CommandMeta struct {
	Names         []string        `json:"names"`
	Group         string          `json:"group,omitempty"`
	Help          string          `json:"help,omitempty"`
	Interruptible bool            `json:"interruptible,omitempty"`
	Permissions   []Permission    `json:"permissions,omitempty"`
	Lock          bool            `json:"lock,omitempty"`
	Parameters    []ParameterMeta `json:"parameters,omitempty"`
}

// Name returns the primary name of the command.
func (m CommandMeta) Name() string {
	if len(m.Names) == 0 {
		return ""
	}
	return m.Names[0]
}

// Options flattens simple parameters and structured fields into user-facing options.
func (m CommandMeta) Options() []ParameterMeta {
	var out []ParameterMeta
	for _, p := range m.Parameters {
		switch p.Kind {
		case ParameterStructured:
			out = append(out, p.Fields...)
		case ParameterChannel:
		default:
			out = append(out, p)
		}
	}
	return out
}
