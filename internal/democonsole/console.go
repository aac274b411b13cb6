// Package democonsole is the example command set served by `rshell serve`.
// It exercises every kind of parameter and channel behaviour.
package democonsole

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/schema"
)

// Group labels the example commands in help output.
const Group = "Example commands"

// AdminPermission gates mustAcl.
const AdminPermission schema.Permission = "administrator"

// ErrDeliberate is returned by the error command.
var ErrDeliberate = errors.New("this is a deliberate error")

// SumArgument is the structured argument of sum.
type SumArgument struct {
	A int
	B int
}

// Sum returns A+B.
func (s SumArgument) Sum() int { return s.A + s.B }

// BaseArgument holds collection fields shared by mixed arguments.
type BaseArgument struct {
	List []string
	Map  map[string]string
}

// MixedArgument extends BaseArgument with more fields.
type MixedArgument struct {
	Base   BaseArgument
	Props  map[string]string
	Set    []string
	Enable bool
}

func (m MixedArgument) String() string {
	return fmt.Sprintf("list=%v map=%s props=%s set=%v enable=%t",
		m.Base.List, formatMap(m.Base.Map), formatMap(m.Props), m.Set, m.Enable)
}

func formatMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

var numOption = command.Option{Short: "n", Long: "num", Default: "5", Help: "Number of printed messages", Kind: command.KindInt}

var delayOption = command.Option{Short: "d", Long: "delay", Default: "200ms", Help: "Delay between messages", Kind: command.KindDuration}

func sumFields() []command.Field[SumArgument] {
	return []command.Field[SumArgument]{
		command.IntField("a", command.Option{Short: "a", Long: "add1", Required: true, Help: "Add number"}, func(s *SumArgument) *int { return &s.A }),
		command.IntField("b", command.Option{Short: "b", Long: "add2", Default: "1", Help: "Added number"}, func(s *SumArgument) *int { return &s.B }),
	}
}

func mixedFields() []command.Field[MixedArgument] {
	fields := command.Embed(func(m *MixedArgument) *BaseArgument { return &m.Base },
		command.StringsField("list", command.Option{Short: "l", Long: "list", Help: "List argument field"}, func(b *BaseArgument) *[]string { return &b.List }),
		command.MapField("map", command.Option{Short: "m", Long: "map", Help: "Map argument field"}, func(b *BaseArgument) *map[string]string { return &b.Map }),
	)
	return append(fields,
		command.MapField("props", command.Option{Short: "p", Long: "props", Help: "Properties argument field"}, func(m *MixedArgument) *map[string]string { return &m.Props }),
		command.SetField("set", command.Option{Short: "s", Long: "set", Help: "Set argument field"}, func(m *MixedArgument) *[]string { return &m.Set }),
		command.BoolField("enable", command.Option{Short: "e", Long: "enable", Help: "Enable flag"}, func(m *MixedArgument) *bool { return &m.Enable }),
	)
}

// Commands returns the example command specs.
func Commands() []command.Spec {
	return []command.Spec{
		{
			Names:      []string{"sum", "testSimple"},
			Group:      Group,
			Help:       "A simple summation command",
			Parameters: []command.Parameter{command.Struct("arg", sumFields()...)},
			Handler:    sum,
		},
		{
			Names: []string{"print", "testPrint"},
			Group: Group,
			Help:  "A simple summation command that prints the calculation",
			Parameters: []command.Parameter{
				command.ChannelParam(),
				command.Simple("a", command.Option{Short: "a", Long: "add1", Required: true, Help: "Add number", Kind: command.KindInt}),
				command.Simple("b", command.Option{Short: "b", Long: "add2", Default: "1", Help: "Added number", Kind: command.KindInt}),
			},
			Handler: printSum,
		},
		{
			Names: []string{"echo"},
			Group: Group,
			Help:  "Print the given text",
			Parameters: []command.Parameter{
				command.Simple("text", command.Option{Short: "t", Long: "text", Required: true, Help: "Text to print"}),
				command.Simple("upper", command.Option{Short: "u", Long: "upper", Help: "Upper-case the text", Kind: command.KindBool}),
			},
			Handler: func(_ context.Context, call *command.Call) (any, error) {
				text := call.Args.String("text")
				if call.Args.Bool("upper") {
					text = strings.ToUpper(text)
				}
				return text, nil
			},
		},
		{
			Names: []string{"injectArgs1", "testInjectArgs1"},
			Group: Group,
			Help:  "Print injected set, list, and map arguments",
			Parameters: []command.Parameter{
				command.Simple("set", command.Option{Short: "s", Long: "set", Help: "Set argument", Kind: command.KindStringSet}),
				command.Simple("list", command.Option{Short: "l", Long: "list", Help: "Integer list argument", Kind: command.KindInts}),
				command.Simple("map", command.Option{Short: "m", Long: "map", Help: "Map argument", Kind: command.KindStringMap}),
			},
			Handler: func(_ context.Context, call *command.Call) (any, error) {
				return fmt.Sprintf("set=%v list=%v map=%s", call.Args.Strings("set"), call.Args.Ints("list"), formatMap(call.Args.Map("map"))), nil
			},
		},
		{
			Names:      []string{"injectArgs2", "testInjectArgs2"},
			Group:      Group,
			Help:       "Print an injected structured argument with inherited fields",
			Parameters: []command.Parameter{command.Struct("arg", mixedFields()...)},
			Handler: func(_ context.Context, call *command.Call) (any, error) {
				arg, err := command.StructArg[MixedArgument](call.Args, "arg")
				if err != nil {
					return nil, err
				}
				return arg.String(), nil
			},
		},
		{
			Names:      []string{"asyncTask", "testAsyncTask"},
			Group:      Group,
			Help:       "Print messages asynchronously (not interruptible)",
			Parameters: []command.Parameter{command.Simple("num", numOption), command.Simple("delay", delayOption), command.ChannelParam()},
			Handler:    asyncTask,
		},
		{
			Names:         []string{"progressTask", "testProgressTask"},
			Group:         Group,
			Help:          "Report progress asynchronously (interruptible)",
			Interruptible: true,
			Parameters:    []command.Parameter{command.Simple("num", numOption), command.Simple("delay", delayOption), command.ChannelParam()},
			Handler:       progressTask,
		},
		{
			Names:      []string{"error", "testError"},
			Group:      Group,
			Help:       "Fail deliberately after printing",
			Parameters: []command.Parameter{command.ChannelParam()},
			Handler: func(_ context.Context, call *command.Call) (any, error) {
				_ = call.Channel.Println("error task starting ...")
				return nil, ErrDeliberate
			},
		},
		{
			Names: []string{"onlyAuth", "testOnlyAuth"},
			Group: Group,
			Help:  "Run by any authenticated user",
			Handler: func(_ context.Context, call *command.Call) (any, error) {
				return fmt.Sprintf("onlyAuth run by %q", call.Session.Username), nil
			},
		},
		{
			Names:       []string{"mustAcl", "testMustAcl"},
			Group:       Group,
			Help:        "Run by administrators only",
			Permissions: []schema.Permission{AdminPermission},
			Handler: func(_ context.Context, call *command.Call) (any, error) {
				return fmt.Sprintf("mustAcl run by %q", call.Session.Username), nil
			},
		},
		{
			Names:           []string{"lockTask", "testLockTask"},
			Group:           Group,
			Help:            "Hold the cluster-wide command lock while printing (interruptible)",
			Interruptible:   true,
			MutualExclusion: true,
			Parameters:      []command.Parameter{command.Simple("num", numOption), command.Simple("delay", delayOption), command.ChannelParam()},
			Handler:         lockTask,
		},
	}
}

// Register adds the example commands to reg.
func Register(reg *command.Registry) error {
	for _, spec := range Commands() {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func sum(_ context.Context, call *command.Call) (any, error) {
	arg, err := command.StructArg[SumArgument](call.Args, "arg")
	if err != nil {
		return nil, err
	}
	return arg.Sum(), nil
}

func printSum(_ context.Context, call *command.Call) (any, error) {
	arg := SumArgument{A: call.Args.Int("a"), B: call.Args.Int("b")}
	if err := call.Channel.Printf("%d + %d = %d\n", arg.A, arg.B, arg.Sum()); err != nil {
		return nil, err
	}
	return nil, call.Channel.Complete()
}

// stream prints num messages from a goroutine and completes the channel.
// When progress is set each message also reports i of num.
func stream(ctx context.Context, call *command.Call, name string, progress bool) {
	ch := call.Channel
	num := call.Args.Int("num")
	delay := call.Args.Duration("delay")
	log := pslog.Ctx(ctx)
	go func() {
		defer func() {
			if progress {
				_ = ch.CompleteWith(name + " finished!")
				return
			}
			_ = ch.Println(name + " finished!")
			_ = ch.Complete()
		}()
		_ = ch.Println(name + " starting ...")
		for i := 1; i <= num; i++ {
			if stop, err := ch.Interrupted(); err == nil && stop {
				log.Info("demo task interrupted", "task", name, "at", i)
				return
			}
			message := fmt.Sprintf("This is the %dth output of %s ...", i, name)
			log.Debug("demo task output", "task", name, "i", i)
			if progress {
				_ = ch.Progress(message, num, i)
			} else if err := ch.Println(message); err != nil {
				return
			}
			time.Sleep(delay)
		}
	}()
}

func asyncTask(ctx context.Context, call *command.Call) (any, error) {
	stream(ctx, call, "asyncTask", false)
	return nil, nil
}

func progressTask(ctx context.Context, call *command.Call) (any, error) {
	stream(ctx, call, "progressTask", true)
	return nil, nil
}

func lockTask(ctx context.Context, call *command.Call) (any, error) {
	stream(ctx, call, "lockTask", false)
	return nil, nil
}
