package vm

import (
	"context"
	"encoding/binary"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/arena"
	"github.com/wippyai/qvm/bytecode"
	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/fsys"
	"github.com/wippyai/qvm/image"
)

// segmentOrder is the byte order of words inside a data segment on every host.
var segmentOrder = binary.LittleEndian

// ImagePath returns the game path of a module's bytecode image.
func ImagePath(name string) string { return "vm/" + name + ".qvm" }

// MapPath returns the game path of a module's debug map.
func MapPath(name string) string { return "vm/" + name + ".map" }

func (r *Registry) sources() []qvm.Source {
	if !r.opts.Pure {
		return r.opts.Sources
	}
	out := make([]qvm.Source, 0, len(r.opts.Sources))
	for _, s := range r.opts.Sources {
		if s.Pure() {
			out = append(out, s)
		}
	}
	return out
}

// locate probes every search path entry for the module kinds allowed by the
// module's source policy and loads the first one that works.
func (r *Registry) locate(ctx context.Context, vm *VM) error {
	kinds := r.policy(vm.name, vm.mode).kinds()
	for _, src := range r.sources() {
		for _, native := range kinds {
			if native {
				if r.tryNative(ctx, vm, src) {
					return nil
				}
				continue
			}

			err := r.loadImage(vm, src, true)
			if err == nil {
				return r.prepare(ctx, vm)
			}
			if errors.IsKind(err, errors.KindNotFound) || errors.IsKind(err, errors.KindBadMagic) {
				r.log.Info("skipping candidate",
					zap.String("module", vm.name),
					zap.String("source", src.Name()),
					zap.Error(err))
				continue
			}
			return err
		}
	}
	return errors.New(errors.PhaseCreate, errors.KindNotFound).
		Module(vm.name).
		Detail("no loadable module in %d search path entries", len(r.sources())).
		Build()
}

func (r *Registry) tryNative(ctx context.Context, vm *VM, src qvm.Source) bool {
	if r.opts.Native == nil {
		return false
	}
	path := "vm/" + vm.name + r.opts.Native.Extension()
	bin, err := src.ReadFile(path)
	if err != nil {
		if !fsys.IsNotExist(err) {
			r.log.Warn("read native module", zap.String("path", path), zap.Error(err))
		}
		return false
	}

	r.log.Info("try loading native module", zap.String("path", path), zap.String("source", src.Name()))
	mod, err := r.opts.Native.Load(ctx, vm.name, bin, r)
	if err != nil {
		r.log.Warn("failed loading native module, trying next", zap.String("path", path), zap.Error(err))
		return false
	}

	vm.native = mod
	vm.mode = ModeNative
	vm.source = src
	vm.path = path
	vm.checksum = blake3.Sum256(bin)
	return true
}

// loadImage reads and validates the module image from src and copies its
// data, literals and jump table into the module. With alloc set, fresh
// storage is taken from the arena; otherwise the existing storage must have
// exactly the size the image needs and is zeroed before the copy. Every
// check happens before the existing segment is touched.
func (r *Registry) loadImage(vm *VM, src qvm.Source, alloc bool) error {
	path := ImagePath(vm.name)
	raw, err := src.ReadFile(path)
	if err != nil {
		if fsys.IsNotExist(err) {
			return errors.New(errors.PhaseLoad, errors.KindNotFound).
				Module(vm.name).
				Path(src.Name(), path).
				Detail("couldn't open VM file").
				Cause(err).
				Build()
		}
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Severity(errors.Drop).
			Module(vm.name).
			Path(src.Name(), path).
			Cause(err).
			Build()
	}
	r.log.Debug("loading vm file", zap.String("path", path), zap.String("source", src.Name()))

	h, err := image.Decode(path, raw)
	if err != nil {
		return err
	}
	if err := h.Validate(path, len(raw)); err != nil {
		return err
	}
	size, err := image.DataSize(h)
	if err != nil {
		return err
	}

	jtrg := h.JumpTable(raw)
	for i := 0; i+4 <= len(jtrg); i += 4 {
		if t := int32(binary.LittleEndian.Uint32(jtrg[i:])); t < 0 || t >= h.InstructionCount {
			return errors.BadHeader(path, "jump table target out of range")
		}
	}

	if alloc {
		data, err := r.opts.Arena.Alloc(size+4, vm.name+" data")
		if err != nil {
			return err
		}
		var targets arena.Words
		if h.Magic == image.MagicV2 {
			if targets, err = arena.AllocWords(r.opts.Arena, h.JumpTableWords(), vm.name+" jump table"); err != nil {
				return err
			}
		}
		vm.dataBase = data
		vm.dataAlloc = size + 4
		vm.dataMask = uint32(size - 1)
		vm.jumpTableTargets = targets
		vm.codeLength = h.CodeLength
		vm.instructionCount = h.InstructionCount
	} else {
		if vm.dataAlloc != size+4 {
			return errors.SizeMismatch(vm.name, "data region size", vm.dataAlloc, size+4)
		}
		if h.Magic == image.MagicV2 && h.JumpTableWords() != vm.jumpTableTargets.Len() {
			return errors.SizeMismatch(vm.name, "jump table size", vm.jumpTableTargets.Len(), h.JumpTableWords())
		}
		clear(vm.dataBase)
		clear(vm.jumpTableTargets)
	}

	data := h.Data(raw)
	n := 0
	for ; n+4 <= len(data); n += 4 {
		segmentOrder.PutUint32(vm.dataBase[n:], binary.LittleEndian.Uint32(data[n:]))
	}
	copy(vm.dataBase[n:], data[n:])
	copy(vm.dataBase[len(data):], h.Lit(raw))

	if h.Magic == image.MagicV2 {
		for i := 0; i < vm.jumpTableTargets.Len(); i++ {
			vm.jumpTableTargets.Set(i, int32(binary.LittleEndian.Uint32(jtrg[i*4:])))
		}
		r.log.Debug("loaded jump table targets", zap.String("module", vm.name), zap.Int("count", vm.jumpTableTargets.Len()))
	}

	vm.source = src
	vm.path = path
	vm.checksum = blake3.Sum256(raw)
	if alloc {
		return r.scan(vm, h.Code(raw))
	}
	return nil
}

// code is kept only between scan and prepare; backends copy what they need.
func (r *Registry) scan(vm *VM, code []byte) error {
	ip, err := arena.AllocWords(r.opts.Arena, int(vm.instructionCount), vm.name+" instruction pointers")
	if err != nil {
		return err
	}
	if err := bytecode.Scan(code, vm.instructionCount, ip); err != nil {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Severity(errors.Drop).
			Module(vm.name).
			Path(vm.source.Name(), vm.path).
			Detail("prepare bytecode").
			Cause(err).
			Build()
	}
	vm.instructionPointers = ip
	vm.pendingCode = code
	return nil
}

// prepare selects the bytecode backend, loads symbols and sets up the stack.
func (r *Registry) prepare(ctx context.Context, vm *VM) error {
	code := vm.pendingCode
	vm.pendingCode = nil

	if vm.mode == ModeNative {
		vm.mode = ModeCompiled
	}

	if vm.mode == ModeCompiled {
		if r.opts.Compiler == nil {
			r.log.Info("no bytecode compiler, using interpreter", zap.String("module", vm.name))
			vm.mode = ModeInterpreted
		} else if b, err := r.opts.Compiler.Compile(ctx, vm, code); err != nil {
			r.log.Warn("compile failed, using interpreter", zap.Error(errors.CompileFailed(vm.name, err)))
			vm.mode = ModeInterpreted
		} else {
			vm.backend = b
		}
	}

	if vm.mode == ModeInterpreted {
		if r.opts.Interpreter == nil {
			return errors.New(errors.PhaseLoad, errors.KindNotInitialized).
				Severity(errors.Fatal).
				Module(vm.name).
				Detail("no interpreter configured").
				Build()
		}
		b, err := r.opts.Interpreter.Prepare(ctx, vm, code)
		if err != nil {
			return err
		}
		vm.backend = b
	}

	r.loadSymbols(vm)

	vm.programStack = int32(vm.dataMask + 1)
	vm.stackBottom = vm.programStack - ProgramStackSize
	return nil
}
