// Package console implements the operator commands for inspecting and
// driving a module registry: vminfo, vmprofile and the load, call,
// restart and free helpers the interactive runner exposes.
package console

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/vm"
)

// Options configures a Console.
type Options struct {
	// Handler services syscalls of modules loaded by the console.
	Handler vm.SyscallHandler
	// Mode picks the backend for a module loaded without an explicit mode.
	Mode func(name string) vm.Mode

	Logger *zap.Logger
}

// Command is one console command.
type Command struct {
	Name  string
	Usage string
	Help  string
	run   func(ctx context.Context, c *Console, args []string) error
}

// Console runs commands against a registry and writes their output to out.
type Console struct {
	reg  *vm.Registry
	out  io.Writer
	opts Options
	log  *zap.Logger
	cmds map[string]*Command
}

// New creates a console over reg.
func New(reg *vm.Registry, out io.Writer, opts Options) *Console {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Mode == nil {
		opts.Mode = func(string) vm.Mode { return vm.ModeCompiled }
	}
	c := &Console{
		reg:  reg,
		out:  out,
		opts: opts,
		log:  log.Named("console"),
		cmds: make(map[string]*Command, len(commands)),
	}
	for i := range commands {
		c.cmds[commands[i].Name] = &commands[i]
	}
	return c
}

// Registry returns the registry the console drives.
func (c *Console) Registry() *vm.Registry { return c.reg }

// Commands returns the command table sorted by name.
func (c *Console) Commands() []Command {
	out := make([]Command, 0, len(c.cmds))
	for _, cmd := range c.cmds {
		out = append(out, *cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one command line. A Drop or Fatal error unloads every
// module before it is returned, as the host would when aborting a session.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := c.cmds[strings.ToLower(fields[0])]
	if !ok {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown command %q", fields[0]))
	}

	err := cmd.run(ctx, c, fields[1:])
	if err != nil && errors.SeverityOf(err) >= errors.Drop {
		c.log.Error("unloading modules", zap.String("command", cmd.Name), zap.Error(err))
		return c.reg.Unwind(ctx, err)
	}
	return err
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) lookup(name string) (*vm.VM, error) {
	v := c.reg.Lookup(name)
	if v == nil {
		return nil, errors.NotFound(errors.PhaseCall, "module", name)
	}
	return v, nil
}

func (c *Console) usage(name string) error {
	return errors.InvalidInput(errors.PhaseConfig, "usage: "+name+" "+c.cmds[name].Usage)
}

// parseInt accepts decimal, 0x hex and negative values.
func parseInt(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("bad number %q", s))
	}
	return int32(v), nil
}

var commands = []Command{
	{Name: "help", Help: "list commands", run: runHelp},
	{Name: "vminfo", Help: "list registered modules", run: runInfo},
	{Name: "vmprofile", Help: "print and reset the profile of the last called module", run: runProfile},
	{Name: "load", Usage: "<name> [native|compiled|interpreted]", Help: "create a module", run: runLoad},
	{Name: "call", Usage: "<name> <callnum> [args...]", Help: "call vmMain", run: runCall},
	{Name: "restart", Usage: "<name> [unpure]", Help: "reset a module's data segment", run: runRestart},
	{Name: "free", Usage: "<name> [force]", Help: "unload a module", run: runFree},
	{Name: "clear", Help: "unload every module", run: runClear},
	{Name: "symbol", Usage: "<name> <offset>", Help: "name a code offset", run: runSymbol},
	{Name: "value", Usage: "<name> <symbol>", Help: "look up a symbol's code offset", run: runValue},
	{Name: "debug", Usage: "[level]", Help: "show or set the call logging level", run: runDebug},
	{Name: "developer", Usage: "[on|off]", Help: "show or set symbol map loading", run: runDeveloper},
	{Name: "hunk", Help: "show arena usage", run: runHunk},
}

func runHelp(_ context.Context, c *Console, _ []string) error {
	for _, cmd := range c.Commands() {
		c.printf("%-10s %-40s %s\n", cmd.Name, cmd.Usage, cmd.Help)
	}
	return nil
}

func runInfo(_ context.Context, c *Console, _ []string) error {
	return WriteInfo(c.out, c.reg.Info())
}

func runProfile(_ context.Context, c *Console, _ []string) error {
	return c.reg.ProfileReport(c.out)
}

func runLoad(ctx context.Context, c *Console, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return c.usage("load")
	}
	mode := c.opts.Mode(args[0])
	if len(args) == 2 {
		m, err := vm.ParseMode(args[1])
		if err != nil {
			return err
		}
		mode = m
	}
	if c.opts.Handler == nil {
		return errors.NotInitialized(errors.PhaseCreate, "syscall handler")
	}
	v, err := c.reg.Create(ctx, args[0], c.opts.Handler, mode)
	if err != nil {
		return err
	}
	c.printf("%s loaded %s from %s\n", v.Name(), v.Mode(), v.Path())
	return nil
}

func runCall(ctx context.Context, c *Console, args []string) error {
	if len(args) < 2 {
		return c.usage("call")
	}
	v, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	nums := make([]int32, len(args)-1)
	for i, s := range args[1:] {
		if nums[i], err = parseInt(s); err != nil {
			return err
		}
	}
	r, err := c.reg.Call(ctx, v, nums[0], nums[1:]...)
	if err != nil {
		return err
	}
	c.printf("%d\n", r)
	return nil
}

func runRestart(ctx context.Context, c *Console, args []string) error {
	if len(args) < 1 || len(args) > 2 || (len(args) == 2 && args[1] != "unpure") {
		return c.usage("restart")
	}
	v, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	v, err = c.reg.Restart(ctx, v, len(args) == 2)
	if err != nil {
		return err
	}
	c.printf("%s restarted\n", v.Name())
	return nil
}

func runFree(ctx context.Context, c *Console, args []string) error {
	if len(args) < 1 || len(args) > 2 || (len(args) == 2 && args[1] != "force") {
		return c.usage("free")
	}
	v, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	return c.reg.Unload(ctx, v, len(args) == 2)
}

// runClear unloads every module and, once none remain, starts a new arena
// epoch so the next loads reuse the hunk from the start.
func runClear(ctx context.Context, c *Console, _ []string) error {
	if err := c.reg.Clear(ctx); err != nil {
		return err
	}
	if len(c.reg.VMs()) > 0 {
		return nil
	}
	if h, ok := c.reg.Arena().(interface{ Reset() }); ok {
		h.Reset()
		c.log.Debug("hunk reset")
	}
	return nil
}

func runSymbol(_ context.Context, c *Console, args []string) error {
	if len(args) != 2 {
		return c.usage("symbol")
	}
	v, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	addr, err := parseInt(args[1])
	if err != nil {
		return err
	}
	c.printf("%s\n", vm.Resolve(v, addr))
	return nil
}

func runValue(_ context.Context, c *Console, args []string) error {
	if len(args) != 2 {
		return c.usage("value")
	}
	v, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	addr, ok := vm.ValueOf(v, args[1])
	if !ok {
		return errors.NotFound(errors.PhaseSymbols, "symbol", args[1])
	}
	c.printf("%#x\n", addr)
	return nil
}

func runDebug(_ context.Context, c *Console, args []string) error {
	switch len(args) {
	case 0:
	case 1:
		level, err := parseInt(args[0])
		if err != nil {
			return err
		}
		c.reg.SetDebug(int(level))
	default:
		return c.usage("debug")
	}
	c.printf("debug %d\n", c.reg.Debug())
	return nil
}

func runDeveloper(_ context.Context, c *Console, args []string) error {
	switch {
	case len(args) == 0:
	case len(args) == 1 && args[0] == "on":
		c.reg.SetDeveloper(true)
	case len(args) == 1 && args[0] == "off":
		c.reg.SetDeveloper(false)
	default:
		return c.usage("developer")
	}
	c.printf("developer %t\n", c.reg.Developer())
	return nil
}

func runHunk(_ context.Context, c *Console, _ []string) error {
	a := c.reg.Arena()
	c.printf("hunk: %d bytes used, %d bytes free\n", a.Used(), a.Remaining())
	return nil
}
