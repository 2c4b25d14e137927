// Package config handles qvm.toml host configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/arena"
	"github.com/wippyai/qvm/engine"
	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/vm"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "qvm.toml"

// Config represents a qvm.toml host configuration.
type Config struct {
	VM      VM                `toml:"vm"`
	Modules map[string]Module `toml:"modules"`
	Paths   Paths             `toml:"paths"`

	// Dir is the directory containing the configuration file (set at load time).
	Dir string `toml:"-"`
}

// VM holds registry-wide settings.
type VM struct {
	Developer    bool   `toml:"developer"`
	Debug        int    `toml:"debug"`
	MaxVMs       int    `toml:"max_vms"`
	HunkMegs     int    `toml:"hunk_megs"`
	Pure         bool   `toml:"pure"`
	NativeEngine string `toml:"native_engine"`

	// NativeMemoryPages caps native module memory in 64KiB pages.
	NativeMemoryPages uint32 `toml:"native_memory_pages"`
}

// Module holds per-module settings, keyed by module name.
type Module struct {
	Source    string `toml:"source"`
	Interpret string `toml:"interpret"`
}

// Paths configures the search path.
type Paths struct {
	// Search lists directories, .pk3 archives and .db asset stores,
	// highest priority first.
	Search []string `toml:"search"`
	// Pure lists archives that count as official packages.
	Pure []string `toml:"pure"`
}

// Defaults returns the configuration used when no file is present: the
// three standard modules run compiled and the search path is "baseq3".
func Defaults() *Config {
	return &Config{
		VM: VM{
			MaxVMs:       vm.DefaultMaxVMs,
			HunkMegs:     vm.DefaultHunkSize >> 20,
			NativeEngine: engine.RuntimeAuto.String(),
		},
		Modules: map[string]Module{
			"cgame": {Interpret: "compiled"},
			"game":  {Interpret: "compiled"},
			"ui":    {Interpret: "compiled"},
		},
		Paths: Paths{Search: []string{"baseq3"}},
	}
}

// Load parses a configuration file. Unset values keep their defaults and
// relative search entries are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, fmt.Sprintf("cannot read %s", path))
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, fmt.Sprintf("cannot resolve path %s", path))
	}
	return Parse(string(data), dir)
}

// Parse decodes configuration text. dir anchors relative search entries;
// an empty dir leaves them as written.
func Parse(text, dir string) (*Config, error) {
	c := Defaults()
	c.Paths.Search = nil
	c.Modules = nil

	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse error")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		Logger().Warn("unknown configuration keys", zap.Stringers("keys", undecoded))
	}

	c.Dir = dir
	if len(c.Paths.Search) == 0 {
		c.Paths.Search = Defaults().Paths.Search
	}
	c.Paths.Search = c.resolve(c.Paths.Search)
	c.Paths.Pure = c.resolve(c.Paths.Pure)

	modules := Defaults().Modules
	for name, m := range c.Modules {
		modules[vm.FoldName(name)] = m
	}
	c.Modules = modules

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) resolve(entries []string) []string {
	if c.Dir == "" {
		return entries
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		if filepath.IsAbs(e) {
			out[i] = e
		} else {
			out[i] = filepath.Join(c.Dir, e)
		}
	}
	return out
}

// FindAndLoad walks up from startDir to find a qvm.toml file, then loads
// and returns it. Returns Defaults when no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Defaults(), nil
		}
		dir = parent
	}
}

// Validate checks every enumerated value and limit.
func (c *Config) Validate() error {
	if c.VM.MaxVMs < 0 {
		return invalid([]string{"vm", "max_vms"}, "max_vms = %d must not be negative", c.VM.MaxVMs)
	}
	if c.VM.HunkMegs < 0 {
		return invalid([]string{"vm", "hunk_megs"}, "hunk_megs = %d must not be negative", c.VM.HunkMegs)
	}
	if _, err := engine.ParseRuntime(c.VM.NativeEngine); err != nil {
		return withPath(err, "vm", "native_engine")
	}
	for _, name := range c.ModuleNames() {
		m := c.Modules[name]
		if m.Source != "" {
			if _, err := vm.ParseSourcePolicy(m.Source); err != nil {
				return withPath(err, "modules", name, "source")
			}
		}
		if _, err := vm.ParseMode(m.Interpret); err != nil {
			return withPath(err, "modules", name, "interpret")
		}
	}
	return nil
}

func invalid(path []string, format string, args ...any) error {
	return errors.InvalidData(errors.PhaseConfig, path, fmt.Sprintf(format, args...))
}

func withPath(err error, path ...string) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = path
		return e
	}
	return err
}

// ModuleNames returns the configured module names in sorted order.
func (c *Config) ModuleNames() []string {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mode returns the backend configured for a module. Unconfigured modules
// run compiled.
func (c *Config) Mode(name string) vm.Mode {
	m, err := vm.ParseMode(c.Modules[vm.FoldName(name)].Interpret)
	if err != nil {
		return vm.ModeCompiled
	}
	return m
}

// Policy reports the configured source policy for a module. It has the
// shape of vm.Options.Policy.
func (c *Config) Policy(name string) (vm.SourcePolicy, bool) {
	m, ok := c.Modules[vm.FoldName(name)]
	if !ok || m.Source == "" {
		return 0, false
	}
	p, err := vm.ParseSourcePolicy(m.Source)
	if err != nil {
		return 0, false
	}
	return p, true
}

// HunkSize returns the arena size in bytes.
func (c *Config) HunkSize() int {
	if c.VM.HunkMegs <= 0 {
		return vm.DefaultHunkSize
	}
	return c.VM.HunkMegs << 20
}

// Wazero returns the native loader configuration.
func (c *Config) Wazero() engine.WazeroConfig {
	rt, _ := engine.ParseRuntime(c.VM.NativeEngine)
	return engine.WazeroConfig{
		Runtime:            rt,
		MemoryLimitPages:   c.VM.NativeMemoryPages,
		CloseOnContextDone: true,
	}
}

// Options builds registry options over sources. Backends and loggers are
// left for the caller to fill in.
func (c *Config) Options(sources []qvm.Source) vm.Options {
	return vm.Options{
		Sources:   sources,
		Arena:     arena.New(c.HunkSize()),
		MaxVMs:    c.VM.MaxVMs,
		Developer: c.VM.Developer,
		Debug:     c.VM.Debug,
		Pure:      c.VM.Pure,
		Policy:    c.Policy,
	}
}
