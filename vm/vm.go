// Package vm hosts sandboxed game-logic modules: the registry and lifecycle,
// the image loader, the masked memory model, call dispatch and the syscall
// bridge.
package vm

import (
	"context"
	"fmt"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/arena"
	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/symbols"
)

const (
	// DefaultMaxVMs is the registry capacity when Options.MaxVMs is zero.
	DefaultMaxVMs = 3

	// MaxSyscallArgs is the width of the syscall argument vector, syscall
	// number included.
	MaxSyscallArgs = 16

	// MaxVMMainArgs is the width of the entry point argument block, call
	// number included.
	MaxVMMainArgs = 13

	// ProgramStackSize is the part of the data segment reserved for the
	// program stack.
	ProgramStackSize = 0x10000
)

// Mode is the backend executing a module.
type Mode int

const (
	ModeNative Mode = iota
	ModeCompiled
	ModeInterpreted
)

func (m Mode) String() string {
	switch m {
	case ModeNative:
		return "native"
	case ModeCompiled:
		return "compiled"
	case ModeInterpreted:
		return "interpreted"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "native", "compiled" or "interpreted".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "native":
		return ModeNative, nil
	case "compiled", "":
		return ModeCompiled, nil
	case "interpreted", "bytecode":
		return ModeInterpreted, nil
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown interpret mode %q", s))
}

// Backend executes a prepared bytecode module. Call runs vmMain with the
// argument frame already written at programStack.
type Backend interface {
	Call(ctx context.Context, vm *VM, programStack int32) (int32, error)
	Destroy()
}

// Compiler translates bytecode into a faster backend. A failed compile
// demotes the module to the interpreter.
type Compiler interface {
	Compile(ctx context.Context, vm *VM, code []byte) (Backend, error)
}

// Interpreter prepares bytecode for interpretation.
type Interpreter interface {
	Prepare(ctx context.Context, vm *VM, code []byte) (Backend, error)
}

// NativeHost is the syscall trampoline handed to native modules.
type NativeHost interface {
	DllSyscall(ctx context.Context, arg0 int64, rest ...int64) (int64, error)
}

// NativeModule is a loaded native module.
type NativeModule interface {
	// Call invokes the entry point with the call number and a zero-filled
	// argument block.
	Call(ctx context.Context, callnum int32, args [MaxVMMainArgs - 1]int32) (int32, error)
	// Memory returns the module's address space, or nil if it exports none.
	Memory() []byte
	Close(ctx context.Context) error
}

// NativeLoader loads native modules.
type NativeLoader interface {
	// Extension is the file suffix of native modules, e.g. ".wasm".
	Extension() string
	Load(ctx context.Context, name string, binary []byte, host NativeHost) (NativeModule, error)
}

// VM is one loaded module. A VM handle stays valid until the module is freed;
// after that every operation on it fails.
type VM struct {
	name    string
	mode    Mode
	handler SyscallHandler
	reg     *Registry
	dead    bool

	source qvm.Source
	path   string

	dataBase  []byte
	dataMask  uint32
	dataAlloc int

	codeLength          int32
	instructionCount    int32
	instructionPointers arena.Words
	jumpTableTargets    arena.Words

	native      NativeModule
	backend     Backend
	pendingCode []byte

	symbols *symbols.Table

	callLevel    int
	programStack int32
	stackBottom  int32

	checksum  [32]byte
	hunkBytes int
}

// Name returns the module name.
func (vm *VM) Name() string { return vm.name }

// Mode returns the active backend kind.
func (vm *VM) Mode() Mode { return vm.mode }

// Registry returns the owning registry.
func (vm *VM) Registry() *Registry { return vm.reg }

// Alive reports whether the handle still refers to a registered module.
func (vm *VM) Alive() bool { return vm != nil && !vm.dead }

// Source returns the search path entry the module was loaded from.
func (vm *VM) Source() qvm.Source { return vm.source }

// Path returns the file the module was loaded from.
func (vm *VM) Path() string { return vm.path }

// Data returns the whole data allocation, guard bytes included.
func (vm *VM) Data() []byte { return vm.dataBase }

// DataMask returns the segment mask.
func (vm *VM) DataMask() uint32 { return vm.dataMask }

// DataAlloc returns the allocation size, mask+1 plus guard bytes.
func (vm *VM) DataAlloc() int { return vm.dataAlloc }

// CodeLength returns the length of the code section.
func (vm *VM) CodeLength() int32 { return vm.codeLength }

// InstructionCount returns the number of bytecode instructions.
func (vm *VM) InstructionCount() int32 { return vm.instructionCount }

// InstructionPointer returns the code offset of instruction i.
func (vm *VM) InstructionPointer(i int32) int32 {
	return vm.instructionPointers.At(int(i))
}

// JumpTargets returns the indirect jump targets of a version 2 image.
func (vm *VM) JumpTargets() arena.Words { return vm.jumpTableTargets }

// Native returns the native module, or nil for bytecode modules.
func (vm *VM) Native() NativeModule { return vm.native }

// Backend returns the bytecode backend, or nil for native modules.
func (vm *VM) Backend() Backend { return vm.backend }

// CallLevel returns the number of calls into the module currently in progress.
func (vm *VM) CallLevel() int { return vm.callLevel }

// ProgramStack returns the current program stack pointer.
func (vm *VM) ProgramStack() int32 { return vm.programStack }

// SetProgramStack records the program stack pointer before a syscall so a
// nested call builds its frame below the caller's.
func (vm *VM) SetProgramStack(ps int32) { vm.programStack = ps }

// StackBottom returns the lowest valid program stack address.
func (vm *VM) StackBottom() int32 { return vm.stackBottom }

// Checksum returns the blake3 digest of the image the module was loaded from.
func (vm *VM) Checksum() [32]byte { return vm.checksum }

// HunkBytes returns the arena bytes consumed by loading the module.
func (vm *VM) HunkBytes() int { return vm.hunkBytes }

// Symbols returns the debug symbol table, which may be empty.
func (vm *VM) Symbols() *symbols.Table { return vm.symbols }
