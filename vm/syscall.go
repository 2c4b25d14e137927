package vm

import (
	"context"
	"fmt"

	"github.com/wippyai/qvm/errors"
)

// SyscallArgs is the fixed-width syscall argument vector. Element 0 is the
// syscall number. Slots a syscall does not use are zero or garbage and must
// be ignored.
type SyscallArgs [MaxSyscallArgs]int64

// SyscallHandler services syscalls made by a module.
type SyscallHandler interface {
	Syscall(ctx context.Context, vm *VM, args *SyscallArgs) (int64, error)
}

// SyscallFunc adapts a function to SyscallHandler.
type SyscallFunc func(ctx context.Context, vm *VM, args *SyscallArgs) (int64, error)

// Syscall calls f.
func (f SyscallFunc) Syscall(ctx context.Context, vm *VM, args *SyscallArgs) (int64, error) {
	return f(ctx, vm, args)
}

// DllSyscall is the trampoline native modules call. Arguments beyond the
// vector width are dropped and missing ones are zero.
func (r *Registry) DllSyscall(ctx context.Context, arg0 int64, rest ...int64) (int64, error) {
	var args SyscallArgs
	args[0] = arg0
	copy(args[1:], rest)
	return r.dispatch(ctx, -1, &args)
}

// SyscallFromStack is the trampoline bytecode backends call. frame is the
// segment offset of the syscall number; the vector is read from the
// following words and sign-extended.
func (r *Registry) SyscallFromStack(ctx context.Context, frame int32) (int64, error) {
	vm := r.exec.current
	if vm == nil {
		return 0, r.noActive()
	}
	var args SyscallArgs
	for i := range args {
		args[i] = int64(vm.word(uint32(frame) + uint32(4*i)))
	}
	return r.dispatch(ctx, int64(frame), &args)
}

func (r *Registry) noActive() error {
	return r.fail(errors.New(errors.PhaseSyscall, errors.KindNotInitialized).
		Severity(errors.Fatal).
		Detail("syscall with no active vm").
		Build())
}

func (r *Registry) dispatch(ctx context.Context, frame int64, args *SyscallArgs) (int64, error) {
	vm := r.exec.current
	if vm == nil {
		return 0, r.noActive()
	}
	if r.opts.SyscallLog != nil {
		r.syscalls++
		where := "native"
		if frame >= 0 {
			where = fmt.Sprintf("%#x", frame)
		}
		fmt.Fprintf(r.opts.SyscallLog, "%d: %s (%d) = %d %d %d %d\n",
			r.syscalls, where, args[0], args[1], args[2], args[3], args[4])
	}
	return vm.handler.Syscall(ctx, vm, args)
}
