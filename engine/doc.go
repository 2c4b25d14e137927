// Package engine provides the backends that execute module code.
//
// # Bytecode Backends
//
// Both bytecode backends share one execution loop and differ in how they
// address code:
//
//	Interpreter  - decodes instructions in place, addressed by code offset
//	Compiler     - decodes the code section once into an instruction table
//
// The Compiler refuses code it cannot translate (undefined instructions,
// out of range jump tables); the registry then falls back to the
// Interpreter. Either backend reports sandbox violations, stack exhaustion
// and division by zero as Drop errors.
//
// Calls into the host are CALLs to negative addresses. The syscall number
// is -1-address and the argument vector is read from the stack frame by
// vm.Registry.SyscallFromStack.
//
// # Native Modules
//
// WazeroLoader runs native modules as WebAssembly binaries. A module must
// export:
//
//	vmMain  (func (param i32 x13) (result i32))  call number and arguments
//	memory  linear memory pointer arguments refer to
//
// and may import:
//
//	env.syscall  (func (param i64 x16) (result i64))
//
// which is routed to vm.Registry.DllSyscall. Each module runs in its own
// wazero runtime; compiled code is shared through a compilation cache owned
// by the loader.
//
// # Thread Safety
//
// Backends are driven by the registry that owns them and are not safe for
// concurrent use. A WazeroLoader may be shared between registries.
package engine
