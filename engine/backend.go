package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/qvm/bytecode"
	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/vm"
)

// Interpreter is the reference bytecode backend. It decodes every
// instruction as it executes, addressing code by byte offset through the
// module's instruction pointer table.
type Interpreter struct{}

// Prepare copies the code section into the registry arena.
func (Interpreter) Prepare(ctx context.Context, v *vm.VM, code []byte) (vm.Backend, error) {
	buf, err := v.Registry().Arena().Alloc(len(code), v.Name()+" code")
	if err != nil {
		return nil, err
	}
	copy(buf, code)
	Logger().Debug("interpreter prepared", zap.String("module", v.Name()), zap.Int("code_bytes", len(code)))
	return &backend{prog: &interpreted{code: buf, vm: v}}, nil
}

// Compiler translates the code section into a decoded instruction table
// once, so execution addresses instructions by index without decoding.
// Compilation rejects code containing undefined instructions and jump tables
// with targets outside the code, leaving the registry to fall back to the
// Interpreter.
type Compiler struct{}

// Compile decodes code into an instruction table.
func (Compiler) Compile(ctx context.Context, v *vm.VM, code []byte) (vm.Backend, error) {
	ins, err := bytecode.Decode(code, v.InstructionCount())
	if err != nil {
		return nil, err
	}
	for i, in := range ins {
		if in.Op == bytecode.OpUndef {
			return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
				Module(v.Name()).
				Detail("UNDEF at instruction %d", i).
				Build()
		}
	}
	if err := bytecode.CheckJumpTargets(v.JumpTargets(), v.InstructionCount()); err != nil {
		return nil, err
	}
	Logger().Debug("bytecode compiled", zap.String("module", v.Name()), zap.Int("instructions", len(ins)))
	return &backend{prog: compiled(ins)}, nil
}

type backend struct {
	prog program
}

func (b *backend) Call(ctx context.Context, v *vm.VM, ps int32) (int32, error) {
	if b.prog == nil {
		return 0, errors.NotInitialized(errors.PhaseCall, v.Name()+" backend")
	}
	return run(ctx, v, b.prog, ps)
}

func (b *backend) Destroy() { b.prog = nil }

// interpreted addresses instructions by code byte offset.
type interpreted struct {
	code []byte
	vm   *vm.VM
}

func (p *interpreted) fetch(pc int32) (bytecode.Instruction, int32, error) {
	return bytecode.DecodeAt(p.code, pc)
}

func (p *interpreted) jump(index int32) (int32, bool) {
	if index < 0 || index >= p.vm.InstructionCount() {
		return 0, false
	}
	return p.vm.InstructionPointer(index), true
}

func (p *interpreted) returnAddr(pc int32) bool {
	return pc >= 0 && int(pc) < len(p.code)
}

// compiled addresses instructions by index.
type compiled []bytecode.Instruction

func (p compiled) fetch(pc int32) (bytecode.Instruction, int32, error) {
	if pc < 0 || int(pc) >= len(p) {
		return bytecode.Instruction{}, 0, errors.New(errors.PhaseCall, errors.KindOutOfRange).
			Severity(errors.Drop).
			Detail("program counter %d outside %d instructions", pc, len(p)).
			Build()
	}
	return p[pc], pc + 1, nil
}

func (p compiled) jump(index int32) (int32, bool) {
	return index, index >= 0 && int(index) < len(p)
}

func (p compiled) returnAddr(pc int32) bool {
	return pc >= 0 && int(pc) < len(p)
}
