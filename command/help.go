package command

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"pkt.systems/rshell/schema"
)

// FormatHelp writes a grouped command overview.
func FormatHelp(w io.Writer, metas []schema.CommandMeta) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	group := "\x00"
	for _, m := range metas {
		if m.Group != group {
			if group != "\x00" {
				fmt.Fprintln(tw)
			}
			group = m.Group
			fmt.Fprintf(tw, "%s:\n", group)
		}
		fmt.Fprintf(tw, "  %s\t%s\n", strings.Join(m.Names, ", "), firstLine(m.Help))
	}
	return tw.Flush()
}

// FormatCommandHelp writes the usage and options of one command.
func FormatCommandHelp(w io.Writer, m schema.CommandMeta) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s", m.Name())
	if len(m.Names) > 1 {
		fmt.Fprintf(tw, " (aliases: %s)", strings.Join(m.Names[1:], ", "))
	}
	fmt.Fprintln(tw)
	if m.Help != "" {
		fmt.Fprintf(tw, "  %s\n", m.Help)
	}
	var notes []string
	if m.Interruptible {
		notes = append(notes, "interruptible")
	}
	if m.Lock {
		notes = append(notes, "cluster locked")
	}
	if len(m.Permissions) > 0 {
		perms := make([]string, len(m.Permissions))
		for i, p := range m.Permissions {
			perms[i] = string(p)
		}
		notes = append(notes, "requires "+strings.Join(perms, "|"))
	}
	if len(notes) > 0 {
		fmt.Fprintf(tw, "  [%s]\n", strings.Join(notes, ", "))
	}
	opts := m.Options()
	if len(opts) > 0 {
		fmt.Fprintln(tw, "\nOptions:")
		for _, o := range opts {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", optionLabel(o), o.Type, optionHelp(o))
		}
	}
	return tw.Flush()
}

func optionLabel(o schema.ParameterMeta) string {
	switch {
	case o.Short != "" && o.Long != "":
		return "-" + o.Short + ", --" + o.Long
	case o.Long != "":
		return "--" + o.Long
	default:
		return "-" + o.Short
	}
}

func optionHelp(o schema.ParameterMeta) string {
	help := o.Help
	if o.Required {
		help = strings.TrimSpace(help + " (required)")
	}
	if o.Default != "" {
		help = strings.TrimSpace(fmt.Sprintf("%s (default %q)", help, o.Default))
	}
	return help
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
