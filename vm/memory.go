package vm

import (
	"bytes"

	"github.com/wippyai/qvm/errors"
)

// HostOffset returns the index into the module's memory that off refers to.
// Bytecode offsets are masked and always land in [0, DataMask]. Native
// offsets are used as they are and fail when outside the module memory.
func (vm *VM) HostOffset(off int64) (int, bool) {
	if vm.native != nil {
		mem := vm.native.Memory()
		if off < 0 || off >= int64(len(mem)) {
			return 0, false
		}
		return int(off), true
	}
	if vm.dataBase == nil {
		return 0, false
	}
	return int(uint32(off) & vm.dataMask), true
}

// Translate maps a module pointer to host memory. Zero is the null pointer
// and maps to nil. The returned slice runs to the end of the module memory.
func (vm *VM) Translate(off int64) []byte {
	if off == 0 || vm == nil {
		return nil
	}
	idx, ok := vm.HostOffset(off)
	if !ok {
		return nil
	}
	if vm.native != nil {
		return vm.native.Memory()[idx:]
	}
	return vm.dataBase[idx:]
}

// ArgPtr translates a pointer argument against the active module. It
// returns nil for the null pointer or when no module is executing.
func (r *Registry) ArgPtr(off int64) []byte {
	if off == 0 || r.exec.current == nil {
		return nil
	}
	return r.exec.current.Translate(off)
}

// ExplicitArgPtr translates a pointer argument against vm instead of the
// active module.
func (r *Registry) ExplicitArgPtr(vm *VM, off int64) []byte {
	if off == 0 || !r.registered(vm) {
		return nil
	}
	return vm.Translate(off)
}

// BlockCopy copies n bytes inside the module's data segment. Both ranges
// must lie entirely inside the segment; a range reaching past the mask is a
// Drop error even when it would wrap back into the segment.
func (vm *VM) BlockCopy(dest, src, n uint32) error {
	if vm.native != nil {
		return errors.OutOfRange(errors.PhaseMemory, vm.name, "OP_BLOCK_COPY on native module")
	}
	mask := uint64(vm.dataMask)
	d, s, l := uint64(dest), uint64(src), uint64(n)
	if d&mask != d || s&mask != s || (d+l)&mask != d+l || (s+l)&mask != s+l {
		return errors.New(errors.PhaseMemory, errors.KindOutOfRange).
			Severity(errors.Drop).
			Module(vm.name).
			Value([3]uint32{dest, src, n}).
			Detail("OP_BLOCK_COPY out of range (dest %d, src %d, n %d, mask %#x)", dest, src, n, vm.dataMask).
			Build()
	}
	copy(vm.dataBase[dest:dest+n], vm.dataBase[src:src+n])
	return nil
}

// BlockCopy copies inside the active module's data segment.
func (r *Registry) BlockCopy(dest, src, n uint32) error {
	vm := r.exec.current
	if vm == nil {
		return r.fail(errors.New(errors.PhaseMemory, errors.KindNotInitialized).
			Severity(errors.Fatal).
			Detail("OP_BLOCK_COPY with no active vm").
			Build())
	}
	if err := vm.BlockCopy(dest, src, n); err != nil {
		return r.fail(err)
	}
	return nil
}

// ReadString reads a NUL-terminated string of at most max bytes. A
// non-positive max yields the empty string.
func (vm *VM) ReadString(off int64, max int) string {
	if max <= 0 {
		return ""
	}
	b := vm.Translate(off)
	if len(b) > max {
		b = b[:max]
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// WriteString writes s and a terminating NUL, truncated to size bytes.
func (vm *VM) WriteString(off int64, s string, size int) error {
	b := vm.Translate(off)
	if b == nil || size <= 0 {
		return errors.OutOfRange(errors.PhaseMemory, vm.name, "write through null pointer")
	}
	if size > len(b) {
		size = len(b)
	}
	n := copy(b[:size-1], s)
	b[n] = 0
	return nil
}

// ReadInt32 reads a segment word.
func (vm *VM) ReadInt32(off int64) (int32, error) {
	b := vm.Translate(off)
	if len(b) < 4 {
		return 0, errors.OutOfRange(errors.PhaseMemory, vm.name, "read through null pointer")
	}
	return int32(segmentOrder.Uint32(b)), nil
}

// WriteInt32 writes a segment word.
func (vm *VM) WriteInt32(off int64, v int32) error {
	b := vm.Translate(off)
	if len(b) < 4 {
		return errors.OutOfRange(errors.PhaseMemory, vm.name, "write through null pointer")
	}
	segmentOrder.PutUint32(b, uint32(v))
	return nil
}
