package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/vm"
)

// Native module ABI.
const (
	// HostModule is the import module native modules take the syscall from.
	HostModule = "env"
	// SyscallImport takes MaxSyscallArgs i64 values and returns an i64.
	SyscallImport = "syscall"
	// EntryPoint takes MaxVMMainArgs i32 values (the call number first) and
	// returns an i32.
	EntryPoint = "vmMain"
	// MemoryExport is the linear memory pointer arguments refer to.
	MemoryExport = "memory"
)

// Runtime selects the wazero execution engine for native modules.
type Runtime int

const (
	// RuntimeAuto uses the compiler where wazero supports it.
	RuntimeAuto Runtime = iota
	RuntimeCompiler
	RuntimeInterpreter
)

var runtimeNames = [...]string{"auto", "compiler", "interpreter"}

func (r Runtime) String() string {
	if r >= 0 && int(r) < len(runtimeNames) {
		return runtimeNames[r]
	}
	return fmt.Sprintf("runtime(%d)", int(r))
}

// ParseRuntime parses "auto", "compiler" or "interpreter". The empty string
// is auto.
func ParseRuntime(s string) (Runtime, error) {
	if s == "" {
		return RuntimeAuto, nil
	}
	for i, name := range runtimeNames {
		if name == s {
			return Runtime(i), nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown native engine %q", s))
}

// WazeroConfig holds configuration for the native module loader.
type WazeroConfig struct {
	Runtime Runtime

	// MemoryLimitPages caps each module's linear memory in 64KiB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// CloseOnContextDone aborts a running module call when its context is
	// cancelled.
	CloseOnContextDone bool
}

// WazeroLoader loads native modules with wazero. Each module gets its own
// runtime so its syscall import is bound to the registry that loaded it;
// compiled code is shared through a compilation cache.
type WazeroLoader struct {
	cfg   WazeroConfig
	cache wazero.CompilationCache
}

// NewWazeroLoader creates a loader. Close releases the compilation cache.
func NewWazeroLoader(cfg WazeroConfig) *WazeroLoader {
	return &WazeroLoader{cfg: cfg, cache: wazero.NewCompilationCache()}
}

// Extension implements vm.NativeLoader.
func (l *WazeroLoader) Extension() string { return ".wasm" }

// Close releases compiled code shared between modules.
func (l *WazeroLoader) Close(ctx context.Context) error {
	return l.cache.Close(ctx)
}

func (l *WazeroLoader) runtimeConfig() wazero.RuntimeConfig {
	var rc wazero.RuntimeConfig
	switch l.cfg.Runtime {
	case RuntimeCompiler:
		rc = wazero.NewRuntimeConfigCompiler()
	case RuntimeInterpreter:
		rc = wazero.NewRuntimeConfigInterpreter()
	default:
		rc = wazero.NewRuntimeConfig()
	}
	rc = rc.WithCompilationCache(l.cache)
	if l.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(l.cfg.MemoryLimitPages)
	}
	if l.cfg.CloseOnContextDone {
		rc = rc.WithCloseOnContextDone(true)
	}
	return rc
}

// Load compiles and instantiates a native module, binding its syscall
// import to host.
func (l *WazeroLoader) Load(ctx context.Context, name string, bin []byte, host vm.NativeHost) (vm.NativeModule, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, l.runtimeConfig())

	mod, err := l.instantiate(ctx, rt, name, bin, host)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Instantiation(name, err)
	}

	Logger().Debug("native module loaded",
		zap.String("module", name),
		zap.Stringer("runtime", l.cfg.Runtime),
		zap.Uint32("memory_bytes", mod.memory.Size()))
	return mod, nil
}

func (l *WazeroLoader) instantiate(ctx context.Context, rt wazero.Runtime, name string, bin []byte, host vm.NativeHost) (*nativeModule, error) {
	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	if err := checkABI(compiled); err != nil {
		return nil, err
	}

	m := &nativeModule{name: name, runtime: rt, host: host}

	_, err = rt.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(m.syscall), syscallParams(), []api.ValueType{api.ValueTypeI64}).
		Export(SyscallImport).
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", HostModule, err)
	}

	inst, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	m.entry = inst.ExportedFunction(EntryPoint)
	m.memory = inst.ExportedMemory(MemoryExport)
	return m, nil
}

func syscallParams() []api.ValueType {
	params := make([]api.ValueType, vm.MaxSyscallArgs)
	for i := range params {
		params[i] = api.ValueTypeI64
	}
	return params
}

func sameTypes(got []api.ValueType, want api.ValueType, n int) bool {
	if len(got) != n {
		return false
	}
	for _, t := range got {
		if t != want {
			return false
		}
	}
	return true
}

// checkABI verifies the module's imports and exports before instantiation.
func checkABI(compiled wazero.CompiledModule) error {
	entry, ok := compiled.ExportedFunctions()[EntryPoint]
	if !ok {
		return fmt.Errorf("missing export %q", EntryPoint)
	}
	if !sameTypes(entry.ParamTypes(), api.ValueTypeI32, vm.MaxVMMainArgs) ||
		!sameTypes(entry.ResultTypes(), api.ValueTypeI32, 1) {
		return fmt.Errorf("export %q must take %d i32 and return i32", EntryPoint, vm.MaxVMMainArgs)
	}
	if _, ok := compiled.ExportedMemories()[MemoryExport]; !ok {
		return fmt.Errorf("missing memory export %q", MemoryExport)
	}
	for _, imp := range compiled.ImportedFunctions() {
		module, fn, _ := imp.Import()
		if module != HostModule || fn != SyscallImport {
			return fmt.Errorf("unsupported import %s.%s", module, fn)
		}
		if !sameTypes(imp.ParamTypes(), api.ValueTypeI64, vm.MaxSyscallArgs) ||
			!sameTypes(imp.ResultTypes(), api.ValueTypeI64, 1) {
			return fmt.Errorf("import %s.%s must take %d i64 and return i64", module, fn, vm.MaxSyscallArgs)
		}
	}
	return nil
}

// nativeModule is an instantiated native module.
type nativeModule struct {
	name    string
	runtime wazero.Runtime
	host    vm.NativeHost
	entry   api.Function
	memory  api.Memory

	// fault holds the error a syscall failed with while the guest unwinds.
	fault error
}

func (m *nativeModule) syscall(ctx context.Context, _ api.Module, stack []uint64) {
	var rest [vm.MaxSyscallArgs - 1]int64
	for i := range rest {
		rest[i] = int64(stack[i+1])
	}
	r, err := m.host.DllSyscall(ctx, int64(stack[0]), rest[:]...)
	if err != nil {
		m.fault = err
		panic(err)
	}
	stack[0] = uint64(r)
}

// Call implements vm.NativeModule.
func (m *nativeModule) Call(ctx context.Context, callnum int32, args [vm.MaxVMMainArgs - 1]int32) (int32, error) {
	var stack [vm.MaxVMMainArgs]uint64
	stack[0] = api.EncodeI32(callnum)
	for i, a := range args {
		stack[i+1] = api.EncodeI32(a)
	}

	if err := m.entry.CallWithStack(ctx, stack[:]); err != nil {
		if fault := m.fault; fault != nil {
			m.fault = nil
			return 0, fault
		}
		return 0, errors.New(errors.PhaseCall, errors.KindInvalidData).
			Severity(errors.Drop).
			Module(m.name).
			Detail("native module trapped").
			Cause(err).
			Build()
	}
	return api.DecodeI32(stack[0]), nil
}

// Memory implements vm.NativeModule. The returned slice aliases the
// module's linear memory and is invalidated when the memory grows.
func (m *nativeModule) Memory() []byte {
	if m.memory == nil {
		return nil
	}
	buf, _ := m.memory.Read(0, m.memory.Size())
	return buf
}

// Close implements vm.NativeModule.
func (m *nativeModule) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}
