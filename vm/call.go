package vm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/qvm/errors"
)

// FrameSize is the stack space a call reserves: return address, return
// stack and the argument block.
const FrameSize = 8 + 4*MaxVMMainArgs

// enter installs vm as the active module and returns the function that
// restores the previous one. The restore runs on every exit path, so a
// nested call always hands the active module back to its caller.
func (r *Registry) enter(vm *VM) func() {
	prev := r.exec.current
	r.exec.current = vm
	r.exec.last = vm
	vm.callLevel++
	return func() {
		if !vm.dead {
			vm.callLevel--
		}
		if prev != nil && prev.dead {
			prev = nil
		}
		r.exec.current = prev
	}
}

// Call invokes the module's entry point with a call number and up to
// MaxVMMainArgs-1 arguments; missing arguments are zero.
func (r *Registry) Call(ctx context.Context, vm *VM, callnum int32, args ...int32) (int32, error) {
	if callnum < 0 {
		return 0, r.fail(errors.BadParms(errors.PhaseCall, "VM_Call with negative callnum"))
	}
	if vm == nil || vm.name == "" {
		return 0, r.fail(errors.BadParms(errors.PhaseCall, "VM_Call with NULL vm"))
	}
	if !r.registered(vm) {
		return 0, r.fail(errors.Unregistered(errors.PhaseCall, vm.name))
	}
	if len(args) > MaxVMMainArgs-1 {
		return 0, r.fail(errors.New(errors.PhaseCall, errors.KindBadParms).
			Severity(errors.Fatal).
			Module(vm.name).
			Detail("VM_Call with %d arguments, max %d", len(args), MaxVMMainArgs-1).
			Build())
	}

	var block [MaxVMMainArgs - 1]int32
	copy(block[:], args)

	restore := r.enter(vm)
	defer restore()

	if r.opts.Debug > 0 {
		r.log.Info(fmt.Sprintf("VM_Call( %d )", callnum), zap.String("module", vm.name))
	}

	if vm.native != nil {
		return vm.native.Call(ctx, callnum, block)
	}
	return r.callBytecode(ctx, vm, callnum, block)
}

// callBytecode writes the call frame into the data segment below the
// current program stack and runs the backend:
//
//	ps+8+4*i  argument i (argument 0 is the call number)
//	ps+4      return stack
//	ps        return address, -1 returns to the host
func (r *Registry) callBytecode(ctx context.Context, vm *VM, callnum int32, args [MaxVMMainArgs - 1]int32) (int32, error) {
	if vm.backend == nil {
		return 0, r.fail(errors.NotInitialized(errors.PhaseCall, vm.name+" backend"))
	}

	stackOnEntry := vm.programStack
	ps := stackOnEntry - FrameSize
	if ps < vm.stackBottom {
		return 0, r.fail(errors.StackOverflow(vm.name, ps, vm.stackBottom))
	}

	base := uint32(ps)
	vm.putWord(base, -1)
	vm.putWord(base+4, 0)
	vm.putWord(base+8, callnum)
	for i, a := range args {
		vm.putWord(base+12+uint32(4*i), a)
	}

	vm.programStack = ps
	defer func() {
		if !vm.dead {
			vm.programStack = stackOnEntry
		}
	}()

	return vm.backend.Call(ctx, vm, ps)
}

// putWord stores a word at a masked segment offset.
func (vm *VM) putWord(off uint32, v int32) {
	segmentOrder.PutUint32(vm.dataBase[off&vm.dataMask:], uint32(v))
}

// word loads a word from a masked segment offset.
func (vm *VM) word(off uint32) int32 {
	return int32(segmentOrder.Uint32(vm.dataBase[off&vm.dataMask:]))
}
