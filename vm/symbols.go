package vm

import (
	"bytes"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/qvm/symbols"
)

// NullVM is returned by Resolve for a nil module.
const NullVM = "NULL VM"

func (r *Registry) loadSymbols(vm *VM) {
	vm.symbols = symbols.New()
	if !r.opts.Developer {
		return
	}

	path := MapPath(vm.name)
	data, err := vm.source.ReadFile(path)
	if err != nil {
		r.log.Info("couldn't load symbol file", zap.String("path", path), zap.Error(err))
		return
	}

	tab, err := symbols.Parse(bytes.NewReader(data), vm.instructionCount, vm.InstructionPointer)
	if err != nil {
		r.log.Warn("symbol file truncated", zap.String("path", path), zap.Error(err))
	}
	vm.symbols = tab
	r.log.Info("symbols parsed", zap.String("path", path), zap.Int("count", tab.Len()))
}

// Resolve names a code offset as "name" or "name+delta".
func Resolve(vm *VM, addr int32) string {
	if vm == nil {
		return NullVM
	}
	return vm.symbols.Resolve(addr)
}

// ResolveInstruction names the code offset of instruction index i.
func ResolveInstruction(vm *VM, i int32) string {
	if vm == nil {
		return NullVM
	}
	if i < 0 || i >= vm.instructionCount {
		return vm.symbols.Resolve(i)
	}
	return vm.symbols.Resolve(vm.InstructionPointer(i))
}

// ValueOf returns the code offset of a named symbol. ok is false when the
// module is nil or has no such symbol, so a symbol at offset zero is
// distinguishable from a missing one.
func ValueOf(vm *VM, name string) (addr int32, ok bool) {
	if vm == nil || name == "" {
		return 0, false
	}
	return vm.symbols.ValueOf(name)
}

// Profile counts one sample against the function containing code offset addr.
func (vm *VM) Profile(addr int32) {
	vm.symbols.Hit(addr)
}

// ProfileReport writes and resets the profile of the most recently called
// module. It writes nothing when no module was called or none has symbols.
func (r *Registry) ProfileReport(w io.Writer) error {
	vm := r.exec.last
	if vm == nil {
		return nil
	}
	return vm.symbols.Report(w)
}
