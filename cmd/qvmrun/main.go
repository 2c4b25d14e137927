package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/qvm/config"
	"github.com/wippyai/qvm/console"
	"github.com/wippyai/qvm/engine"
	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/fsys"
	"github.com/wippyai/qvm/symbols"
	"github.com/wippyai/qvm/vm"
)

type options struct {
	configFile  string
	searchPath  string
	logLevel    string
	logFile     string
	syscallLog  string
	load        string
	commands    string
	developer   bool
	debug       int
	interactive bool
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "pack" {
		if err := runPack(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Path to qvm.toml (default: search upward from the working directory)")
	flag.StringVar(&opts.searchPath, "path", "", "Search path entries, highest priority first (comma-separated)")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	flag.StringVar(&opts.syscallLog, "syscall-log", "", "Write one line per syscall to this file")
	flag.StringVar(&opts.load, "load", "", "Modules to load at start (comma-separated)")
	flag.StringVar(&opts.commands, "c", "", "Console commands to run and exit (semicolon-separated)")
	flag.BoolVar(&opts.developer, "developer", false, "Load symbol maps")
	flag.IntVar(&opts.debug, "debug", 0, "Log every call into a module when > 0")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: qvmrun [flags]                  console on stdin")
		fmt.Fprintln(os.Stderr, "       qvmrun -c 'load game; vminfo'  run commands and exit")
		fmt.Fprintln(os.Stderr, "       qvmrun -i                       interactive mode")
		fmt.Fprintln(os.Stderr, "       qvmrun pack -o assets.db <files or dirs>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx := context.Background()

	tui := opts.commands == "" && (opts.interactive || term.IsTerminal(int(os.Stdin.Fd())))

	log, err := newLogger(opts.logLevel, opts.logFile, tui)
	if err != nil {
		return err
	}
	defer log.Sync()

	out := io.Writer(os.Stdout)
	var buf *syncBuffer
	if tui {
		buf = &syncBuffer{}
		out = buf
	}

	s, err := openSession(ctx, opts, log, out)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	for _, name := range splitList(opts.load, ",") {
		if err := s.con.Execute(ctx, "load "+name); err != nil {
			return err
		}
	}

	switch {
	case opts.commands != "":
		for _, line := range splitList(opts.commands, ";") {
			if err := s.con.Execute(ctx, line); err != nil {
				return err
			}
		}
		return nil
	case tui:
		return runInteractive(ctx, s.con, buf)
	default:
		return runLines(ctx, s.con, os.Stdin, os.Stderr)
	}
}

// session owns everything a console needs and releases it on Close.
type session struct {
	cfg    *config.Config
	search *fsys.SearchPath
	loader *engine.WazeroLoader
	reg    *vm.Registry
	con    *console.Console
	logOut *os.File
}

func openSession(ctx context.Context, opts options, log *zap.Logger, out io.Writer) (*session, error) {
	var cfg *config.Config
	var err error
	if opts.configFile != "" {
		cfg, err = config.Load(opts.configFile)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if opts.searchPath != "" {
		cfg.Paths.Search = splitList(opts.searchPath, ",")
	}
	if opts.developer {
		cfg.VM.Developer = true
	}
	if opts.debug > 0 {
		cfg.VM.Debug = opts.debug
	}

	search, err := fsys.Open(cfg.Paths.Search, cfg.Paths.Pure...)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, search: search, loader: engine.NewWazeroLoader(cfg.Wazero())}

	vmOpts := cfg.Options(search.Sources())
	vmOpts.Native = s.loader
	vmOpts.Compiler = engine.Compiler{}
	vmOpts.Interpreter = engine.Interpreter{}
	vmOpts.Logger = log
	if opts.syscallLog != "" {
		f, err := os.Create(opts.syscallLog)
		if err != nil {
			s.Close(ctx)
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "open syscall log")
		}
		s.logOut = f
		vmOpts.SyscallLog = f
	}
	s.reg = vm.NewRegistry(vmOpts)

	s.con = console.New(s.reg, out, console.Options{
		Handler: console.NewHost(out, log),
		Mode:    cfg.Mode,
		Logger:  log,
	})

	log.Info("session ready",
		zap.Strings("search", cfg.Paths.Search),
		zap.Int("max_vms", s.reg.Capacity()),
		zap.Int("hunk_bytes", cfg.HunkSize()),
		zap.Stringer("native_engine", cfg.Wazero().Runtime))
	return s, nil
}

func (s *session) Close(ctx context.Context) {
	if s.reg != nil {
		s.reg.BeginForcedUnload()
		_ = s.reg.Clear(ctx)
		s.reg.EndForcedUnload()
	}
	if s.loader != nil {
		_ = s.loader.Close(ctx)
	}
	if s.search != nil {
		_ = s.search.Close()
	}
	if s.logOut != nil {
		_ = s.logOut.Close()
	}
}

// runLines reads one command per line until EOF. Recoverable errors are
// reported and the console continues; a Fatal error ends the session.
func runLines(ctx context.Context, con *console.Console, in io.Reader, errOut io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := con.Execute(ctx, line); err != nil {
			if errors.SeverityOf(err) == errors.Fatal {
				return err
			}
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
	return sc.Err()
}

func newLogger(level, file string, tui bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	switch {
	case file != "":
		cfg.OutputPaths = []string{file}
		cfg.ErrorOutputPaths = []string{file}
	case tui:
		// stderr would draw over the alternate screen
		return zap.NewNop(), nil
	default:
		cfg.OutputPaths = []string{"stderr"}
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	vm.SetLogger(log)
	engine.SetLogger(log)
	symbols.SetLogger(log)
	config.SetLogger(log)
	return log, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
