package vm

import (
	"context"
	stderrors "errors"
	"io"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/arena"
	"github.com/wippyai/qvm/errors"
)

// DefaultHunkSize is the arena size used when Options.Arena is nil.
const DefaultHunkSize = 16 << 20

// Options configures a Registry.
type Options struct {
	// Sources is the search path, highest priority first.
	Sources []qvm.Source
	// Arena backs data segments and tables. Defaults to a DefaultHunkSize hunk.
	Arena qvm.Arena

	Native      NativeLoader
	Compiler    Compiler
	Interpreter Interpreter

	// MaxVMs is the registry capacity. Defaults to DefaultMaxVMs.
	MaxVMs int
	// Developer enables loading of debug symbol maps.
	Developer bool
	// Debug > 0 logs every call into a module.
	Debug int
	// Pure restricts loading to sources that report Pure.
	Pure bool
	// Policy returns the configured source policy for a module. When it
	// reports false, DefaultPolicy applies.
	Policy func(name string) (SourcePolicy, bool)
	// SyscallLog receives one line per syscall when set.
	SyscallLog io.Writer

	Logger *zap.Logger
}

// execContext tracks the module currently executing and the module most
// recently entered.
type execContext struct {
	current *VM
	last    *VM
}

// Registry is a fixed-capacity table of loaded modules.
type Registry struct {
	opts   Options
	slots  []*VM
	exec   execContext
	forced bool
	log    *zap.Logger

	syscalls int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.MaxVMs <= 0 {
		opts.MaxVMs = DefaultMaxVMs
	}
	if opts.Arena == nil {
		opts.Arena = arena.New(DefaultHunkSize)
	}
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	return &Registry{
		opts:  opts,
		slots: make([]*VM, opts.MaxVMs),
		log:   log.Named("vm"),
	}
}

// Capacity returns the number of slots.
func (r *Registry) Capacity() int { return len(r.slots) }

// Arena returns the allocator backing the registry's modules.
func (r *Registry) Arena() qvm.Arena { return r.opts.Arena }

// Sources returns the search path.
func (r *Registry) Sources() []qvm.Source { return r.opts.Sources }

// Current returns the module currently executing, or nil.
func (r *Registry) Current() *VM { return r.exec.current }

// Last returns the module most recently called, or nil.
func (r *Registry) Last() *VM { return r.exec.last }

// Developer reports whether debug symbols are loaded.
func (r *Registry) Developer() bool { return r.opts.Developer }

// SetDeveloper toggles symbol loading for modules created afterwards.
func (r *Registry) SetDeveloper(on bool) { r.opts.Developer = on }

// Debug returns the call logging level.
func (r *Registry) Debug() int { return r.opts.Debug }

// SetDebug sets the call logging level.
func (r *Registry) SetDebug(level int) { r.opts.Debug = level }

// SetSyscallLog directs syscall tracing to w, or disables it when w is nil.
func (r *Registry) SetSyscallLog(w io.Writer) { r.opts.SyscallLog = w }

// FoldName returns the key module names are compared by. Lookup and the
// host configuration both match names through it.
func FoldName(name string) string {
	return cases.Fold().String(name)
}

// Lookup returns the registered module with the given name, compared
// case-insensitively.
func (r *Registry) Lookup(name string) *VM {
	key := FoldName(name)
	for _, vm := range r.slots {
		if vm != nil && FoldName(vm.name) == key {
			return vm
		}
	}
	return nil
}

// VMs returns the registered modules in slot order.
func (r *Registry) VMs() []*VM {
	out := make([]*VM, 0, len(r.slots))
	for _, vm := range r.slots {
		if vm != nil {
			out = append(out, vm)
		}
	}
	return out
}

func (r *Registry) registered(vm *VM) bool {
	if vm == nil || vm.dead {
		return false
	}
	for _, s := range r.slots {
		if s == vm {
			return true
		}
	}
	return false
}

// fail logs err at a level matching its severity and returns it.
func (r *Registry) fail(err error) error {
	switch errors.SeverityOf(err) {
	case errors.Fatal:
		r.log.Error("fatal error", zap.Error(err))
	case errors.Drop:
		r.log.Error("drop error", zap.Error(err))
	default:
		r.log.Info("recoverable error", zap.Error(err))
	}
	return err
}

func (r *Registry) policy(name string, mode Mode) SourcePolicy {
	if r.opts.Policy != nil {
		if p, ok := r.opts.Policy(name); ok {
			return p
		}
	}
	return DefaultPolicy(mode)
}

// Create returns the module registered under name, loading it into the first
// free slot if it is not loaded yet. An existing module is returned
// unchanged whatever handler and mode are passed.
//
// Create fails with a Fatal error on bad arguments or a full registry, and
// with a Recoverable not-found error when no candidate source holds the
// module. Malformed images abort the search with their own error.
func (r *Registry) Create(ctx context.Context, name string, handler SyscallHandler, mode Mode) (*VM, error) {
	if name == "" || handler == nil {
		return nil, r.fail(errors.BadParms(errors.PhaseCreate, "VM_Create: bad parms"))
	}

	if vm := r.Lookup(name); vm != nil {
		return vm, nil
	}

	slot := -1
	for i, s := range r.slots {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, r.fail(errors.NoFreeSlot(name, len(r.slots)))
	}

	remaining := r.opts.Arena.Remaining()
	vm := &VM{name: name, mode: mode, handler: handler, reg: r}
	r.slots[slot] = vm

	if err := r.locate(ctx, vm); err != nil {
		r.slots[slot] = nil
		vm.dead = true
		return nil, r.fail(err)
	}

	vm.hunkBytes = remaining - r.opts.Arena.Remaining()
	r.log.Info("vm loaded",
		zap.String("module", name),
		zap.Stringer("mode", vm.mode),
		zap.String("source", vm.source.Name()),
		zap.Int("hunk_bytes", vm.hunkBytes))
	return vm, nil
}

// Restart reloads a module's data without changing its allocation. Native
// modules are freed and created again, so the returned handle replaces vm.
// allowUnpure permits reloading from an unpure source on a pure registry.
func (r *Registry) Restart(ctx context.Context, vm *VM, allowUnpure bool) (*VM, error) {
	if !r.registered(vm) {
		return nil, r.fail(errors.Unregistered(errors.PhaseRestart, nameOf(vm)))
	}

	if vm.native != nil {
		name, handler := vm.name, vm.handler
		if err := r.Free(ctx, vm); err != nil {
			return nil, err
		}
		return r.Create(ctx, name, handler, ModeNative)
	}

	r.log.Info("VM_Restart", zap.String("module", vm.name))

	if r.opts.Pure && !allowUnpure && !vm.source.Pure() {
		return nil, r.fail(restartFailed(vm.name, errors.New(errors.PhaseRestart, errors.KindNotFound).
			Path(vm.source.Name(), vm.path).
			Detail("unpure source not allowed").
			Build()))
	}

	if err := r.loadImage(vm, vm.source, false); err != nil {
		return nil, r.fail(restartFailed(vm.name, err))
	}
	return vm, nil
}

func restartFailed(name string, cause error) error {
	kind := errors.KindInvalidData
	var e *errors.Error
	if stderrors.As(cause, &e) {
		kind = e.Kind
	}
	return errors.New(errors.PhaseRestart, kind).
		Module(name).
		Severity(errors.Drop).
		Detail("VM_Restart failed").
		Cause(cause).
		Build()
}

// Free unloads vm. Freeing a module that is executing is a Fatal error
// unless forced unload is active.
func (r *Registry) Free(ctx context.Context, vm *VM) error {
	return r.Unload(ctx, vm, r.forced)
}

// Unload unloads vm. force permits unloading a module whose call is still
// in progress, which happens when an error unwinds out of a module call.
func (r *Registry) Unload(ctx context.Context, vm *VM, force bool) error {
	if vm == nil || vm.dead {
		return nil
	}

	if vm.callLevel > 0 {
		if !force {
			return r.fail(errors.Running(vm.name, vm.callLevel))
		}
		r.log.Warn("forcefully unloading vm", zap.String("module", vm.name), zap.Int("call_level", vm.callLevel))
	}

	if vm.backend != nil {
		vm.backend.Destroy()
	}

	var err error
	if vm.native != nil {
		if cerr := vm.native.Close(ctx); cerr != nil {
			err = errors.New(errors.PhaseFree, errors.KindInvalidData).
				Module(vm.name).
				Detail("close native module").
				Cause(cerr).
				Build()
			r.log.Warn("close native module", zap.String("module", vm.name), zap.Error(cerr))
		}
	}

	for i, s := range r.slots {
		if s == vm {
			r.slots[i] = nil
		}
	}

	*vm = VM{name: vm.name, reg: r, dead: true}

	r.exec.current = nil
	r.exec.last = nil
	return err
}

// BeginForcedUnload lets Free unload modules that are still executing.
func (r *Registry) BeginForcedUnload() { r.forced = true }

// EndForcedUnload restores the normal Free check.
func (r *Registry) EndForcedUnload() { r.forced = false }

// ForcedUnload reports whether forced unload is active.
func (r *Registry) ForcedUnload() bool { return r.forced }

// Clear frees every registered module.
func (r *Registry) Clear(ctx context.Context) error {
	var errs []error
	for _, vm := range r.VMs() {
		if err := r.Free(ctx, vm); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Unwind frees every module with forced unload active and returns cause.
// Hosts call it when a Fatal or Drop error aborts the current operation.
func (r *Registry) Unwind(ctx context.Context, cause error) error {
	r.BeginForcedUnload()
	defer r.EndForcedUnload()
	if err := r.Clear(ctx); err != nil {
		r.log.Warn("unwind", zap.Error(err))
	}
	return cause
}

func nameOf(vm *VM) string {
	if vm == nil {
		return ""
	}
	return vm.name
}
