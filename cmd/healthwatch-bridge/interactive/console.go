// Package interactive provides the simulator console for healthwatch-bridge.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/healthwatch/healthwatch-go/pkg/capability"
	"github.com/healthwatch/healthwatch-go/pkg/datatype"
	"github.com/healthwatch/healthwatch-go/pkg/service"
)

// RelayStats exposes relay counters. *relay.Relay implements it.
type RelayStats interface {
	QueueDepth() int
	Delivered() uint64
	Failed() uint64
}

// Connections reports connected shells. *bridge.Server implements it.
type Connections interface {
	ConnectionCount() int
}

// Console drives the simulated capability source from a prompt.
type Console struct {
	sim   *capability.Simulator
	coord *service.Coordinator
	relay RelayStats
	conns Connections
	rl    *readline.Instance
	out   io.Writer
}

// Open creates a console reading from the terminal. Call Attach before Run.
func Open() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "healthwatch> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Attach binds the components the console drives.
func (c *Console) Attach(sim *capability.Simulator, coord *service.Coordinator, relay RelayStats, conns Connections) {
	c.sim = sim
	c.coord = coord
	c.relay = relay
	c.conns = conns
}

func newConsole(sim *capability.Simulator, coord *service.Coordinator, relay RelayStats, conns Connections, out io.Writer) *Console {
	c := &Console{out: out}
	c.Attach(sim, coord, relay, conns)
	return c
}

// Stdout returns a writer that coordinates with the prompt.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until EOF or ctx ends, then calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.Execute(ctx, line); quit {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status", "s":
		c.cmdStatus()
	case "authorize", "auth":
		c.cmdAuthorize(args)
	case "available":
		c.cmdAvailable(args)
	case "fail":
		c.cmdFail(args)
	case "hold":
		c.cmdHold(args, true)
	case "release":
		c.cmdHold(args, false)
	case "fire", "f":
		c.cmdFire(ctx, args)
	case "fire-error":
		c.cmdFireError(ctx, args)
	case "setup":
		c.cmdSetup(ctx)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  status                       Show coordinator, units and relay state
  authorize on|off|error [msg] Set the authorization answer
  available on|off             Set platform availability
  fail <type> [msg]            Fail enable for type (no msg clears)
  hold <type>                  Block enable calls for type
  release <type>               Unblock enable calls for type
  fire <type> [n]              Deliver n updates (default 1)
  fire-error <type> <msg>      Deliver a failed update
  setup                        Run observer setup locally
  quit                         Exit`)
}

func (c *Console) cmdStatus() {
	fmt.Fprintf(c.out, "Coordinator: %s (invocation %d)\n", c.coord.State(), c.coord.Invocation())
	if out, ok := c.coord.LastOutcome(); ok {
		fmt.Fprintf(c.out, "Last result: %v in %s", out.OK, out.Duration)
		if out.Err != nil {
			fmt.Fprintf(c.out, " (%v)", out.Err)
		}
		fmt.Fprintln(c.out)
	}

	units := c.coord.Units()
	if len(units) > 0 {
		fmt.Fprintln(c.out, "Units:")
		for _, u := range units {
			line := fmt.Sprintf("  %-28s %s", u.Type(), u.State())
			if err := u.LastError(); err != nil {
				line += "  " + err.Error()
			}
			fmt.Fprintln(c.out, line)
		}
	}

	fmt.Fprintf(c.out, "Relay: queued=%d delivered=%d failed=%d\n",
		c.relay.QueueDepth(), c.relay.Delivered(), c.relay.Failed())
	fmt.Fprintf(c.out, "Shells connected: %d\n", c.conns.ConnectionCount())
}

func (c *Console) cmdAuthorize(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: authorize on|off|error [msg]")
		return
	}
	switch strings.ToLower(args[0]) {
	case "on":
		c.sim.SetAuthorization(true, nil)
	case "off":
		c.sim.SetAuthorization(false, nil)
	case "error":
		msg := "authorization failed"
		if len(args) > 1 {
			msg = strings.Join(args[1:], " ")
		}
		c.sim.SetAuthorization(false, errors.New(msg))
	default:
		fmt.Fprintln(c.out, "Usage: authorize on|off|error [msg]")
		return
	}
	fmt.Fprintf(c.out, "Authorization: %s\n", args[0])
}

func (c *Console) cmdAvailable(args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintln(c.out, "Usage: available on|off")
		return
	}
	c.sim.SetAvailable(args[0] == "on")
	fmt.Fprintf(c.out, "Available: %s\n", args[0])
}

func (c *Console) cmdFail(args []string) {
	t, ok := c.parseType(args, "fail <type> [msg]")
	if !ok {
		return
	}
	if len(args) == 1 {
		c.sim.FailEnable(t, nil)
		fmt.Fprintf(c.out, "Enable for %s will succeed\n", t)
		return
	}
	msg := strings.Join(args[1:], " ")
	c.sim.FailEnable(t, errors.New(msg))
	fmt.Fprintf(c.out, "Enable for %s will fail: %s\n", t, msg)
}

func (c *Console) cmdHold(args []string, hold bool) {
	usage := "release <type>"
	if hold {
		usage = "hold <type>"
	}
	t, ok := c.parseType(args, usage)
	if !ok {
		return
	}
	if hold {
		c.sim.Hold(t)
		fmt.Fprintf(c.out, "Holding enable calls for %s\n", t)
	} else {
		c.sim.Release(t)
		fmt.Fprintf(c.out, "Released %s\n", t)
	}
}

func (c *Console) cmdFire(ctx context.Context, args []string) {
	t, ok := c.parseType(args, "fire <type> [n]")
	if !ok {
		return
	}
	n := 1
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 1 {
			fmt.Fprintf(c.out, "Invalid count: %s\n", args[1])
			return
		}
		n = v
	}
	for i := 0; i < n; i++ {
		if err := c.sim.Fire(ctx, t); err != nil {
			fmt.Fprintf(c.out, "Fire failed: %v\n", err)
			return
		}
	}
	fmt.Fprintf(c.out, "Delivered %d update(s) for %s\n", n, t)
}

func (c *Console) cmdFireError(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: fire-error <type> <msg>")
		return
	}
	t, ok := c.parseType(args, "fire-error <type> <msg>")
	if !ok {
		return
	}
	if err := c.sim.FireError(ctx, t, errors.New(strings.Join(args[1:], " "))); err != nil {
		fmt.Fprintf(c.out, "Fire failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Delivered failed update for %s\n", t)
}

func (c *Console) cmdSetup(ctx context.Context) {
	ok, err := c.coord.Setup(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Setup: %v (%v)\n", ok, err)
		return
	}
	fmt.Fprintf(c.out, "Setup: %v\n", ok)
}

func (c *Console) parseType(args []string, usage string) (datatype.ID, bool) {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "Usage: %s\n", usage)
		return 0, false
	}
	t, err := datatype.Parse(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "%v\n", err)
		return 0, false
	}
	return t, true
}

func completer() *readline.PrefixCompleter {
	types := make([]readline.PrefixCompleterInterface, 0, len(datatype.All()))
	for _, t := range datatype.All() {
		types = append(types, readline.PcItem(t.String()))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("status"),
		readline.PcItem("authorize", readline.PcItem("on"), readline.PcItem("off"), readline.PcItem("error")),
		readline.PcItem("available", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("fail", types...),
		readline.PcItem("hold", types...),
		readline.PcItem("release", types...),
		readline.PcItem("fire", types...),
		readline.PcItem("fire-error", types...),
		readline.PcItem("setup"),
		readline.PcItem("quit"),
	)
}
