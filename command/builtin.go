package command

import "pkt.systems/rshell/schema"

// BuiltinGroup labels the client-side commands in help output.
const BuiltinGroup = "Built-in"

// Built-in command names, implemented by the client and reserved on the server.
const (
	BuiltinLogin      = "login"
	BuiltinHelp       = "help"
	BuiltinExit       = "exit"
	BuiltinQuit       = "quit"
	BuiltinHistory    = "history"
	BuiltinClear      = "clear"
	BuiltinStacktrace = "stacktrace"
)

var builtins = []schema.CommandMeta{
	{Names: []string{BuiltinLogin, "lo"}, Group: BuiltinGroup, Help: "Authenticate the session with username and password."},
	{Names: []string{BuiltinHelp, "he"}, Group: BuiltinGroup, Help: "List commands, or describe one with help <command>."},
	{Names: []string{BuiltinExit, "ex"}, Group: BuiltinGroup, Help: "Close the console."},
	{Names: []string{BuiltinQuit, "qu"}, Group: BuiltinGroup, Help: "Close the console."},
	{Names: []string{BuiltinHistory, "his"}, Group: BuiltinGroup, Help: "Show previously entered commands."},
	{Names: []string{BuiltinClear, "cls"}, Group: BuiltinGroup, Help: "Clear the screen."},
	{Names: []string{BuiltinStacktrace, "st"}, Group: BuiltinGroup, Help: "Show the details of the last error."},
}

var builtinIndex = func() map[string]string {
	idx := make(map[string]string)
	for _, b := range builtins {
		for _, n := range b.Names {
			idx[n] = b.Names[0]
		}
	}
	return idx
}()

// Builtin resolves name or alias to its canonical built-in name.
func Builtin(name string) (string, bool) {
	canonical, ok := builtinIndex[name]
	return canonical, ok
}

// IsBuiltin reports whether name is reserved by a built-in command.
func IsBuiltin(name string) bool {
	_, ok := builtinIndex[name]
	return ok
}

// BuiltinMeta returns descriptions of the built-in commands.
func BuiltinMeta() []schema.CommandMeta {
	out := make([]schema.CommandMeta, len(builtins))
	copy(out, builtins)
	return out
}
