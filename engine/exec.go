package engine

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/wippyai/qvm/bytecode"
	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/vm"
)

const (
	// opStackSize is the depth of the operand stack of one module call.
	opStackSize = 256

	// ctxCheckInterval is the number of instructions executed between
	// context cancellation checks.
	ctxCheckInterval = 1 << 16
)

// program is a prepared code section. Interpreted programs address
// instructions by code byte offset, compiled programs by instruction index.
type program interface {
	// fetch returns the instruction at pc and the pc that follows it.
	fetch(pc int32) (bytecode.Instruction, int32, error)
	// jump maps an instruction index to a pc.
	jump(index int32) (int32, bool)
	// returnAddr reports whether pc can be resumed after a LEAVE.
	returnAddr(pc int32) bool
}

// machine is the state of one module call.
type machine struct {
	vm    *vm.VM
	data  []byte
	mask  uint32
	stack [opStackSize]int32
	sp    int
	fault bool
}

func (m *machine) push(v int32) {
	if m.sp == len(m.stack) {
		m.fault = true
		return
	}
	m.stack[m.sp] = v
	m.sp++
}

func (m *machine) pop() int32 {
	if m.sp == 0 {
		m.fault = true
		return 0
	}
	m.sp--
	return m.stack[m.sp]
}

func (m *machine) load4(addr int32) int32 {
	return int32(binary.LittleEndian.Uint32(m.data[uint32(addr)&m.mask:]))
}

func (m *machine) store4(addr, v int32) {
	binary.LittleEndian.PutUint32(m.data[uint32(addr)&m.mask:], uint32(v))
}

func (m *machine) drop(kind errors.Kind, detail string, args ...any) error {
	return errors.New(errors.PhaseCall, kind).
		Severity(errors.Drop).
		Module(m.vm.Name()).
		Detail(detail, args...).
		Build()
}

func f32(v int32) float32 { return math.Float32frombits(uint32(v)) }
func i32(f float32) int32 { return int32(math.Float32bits(f)) }

// run executes prog from instruction 0 with the call frame at ps until the
// outermost LEAVE returns to the host.
func run(ctx context.Context, v *vm.VM, prog program, ps int32) (int32, error) {
	m := &machine{vm: v, data: v.Data(), mask: v.DataMask()}

	pc, ok := prog.jump(0)
	if !ok {
		return 0, m.drop(errors.KindInvalidData, "empty code section")
	}

	budget := ctxCheckInterval
	for {
		if budget--; budget == 0 {
			if err := ctx.Err(); err != nil {
				return 0, errors.New(errors.PhaseCall, errors.KindInvalidInput).
					Severity(errors.Drop).
					Module(v.Name()).
					Detail("call interrupted").
					Cause(err).
					Build()
			}
			budget = ctxCheckInterval
		}

		ins, next, err := prog.fetch(pc)
		if err != nil {
			return 0, err
		}
		pc = next

		switch ins.Op {
		case bytecode.OpIgnore, bytecode.OpBreak:

		case bytecode.OpEnter:
			ps -= ins.Operand
			if ps < v.StackBottom() {
				return 0, errors.StackOverflow(v.Name(), ps, v.StackBottom())
			}
			v.Profile(ins.Offset)

		case bytecode.OpLeave:
			ps += ins.Operand
			ret := m.load4(ps)
			if ret == -1 {
				if m.sp != 1 {
					return 0, m.drop(errors.KindInvalidData, "operand stack holds %d values on return", m.sp)
				}
				return m.stack[0], nil
			}
			if !prog.returnAddr(ret) {
				return 0, m.drop(errors.KindOutOfRange, "VM program counter out of range in OP_LEAVE")
			}
			pc = ret

		case bytecode.OpCall:
			target := m.pop()
			m.store4(ps, pc)
			if target < 0 {
				r, err := hostCall(ctx, m, ps, target)
				if err != nil {
					return 0, err
				}
				m.push(r)
				break
			}
			npc, ok := prog.jump(target)
			if !ok {
				return 0, m.drop(errors.KindOutOfRange, "VM program counter out of range in OP_CALL")
			}
			pc = npc

		case bytecode.OpPush:
			m.push(0)
		case bytecode.OpPop:
			m.pop()
		case bytecode.OpConst:
			m.push(ins.Operand)
		case bytecode.OpLocal:
			m.push(ins.Operand + ps)

		case bytecode.OpJump:
			npc, ok := prog.jump(m.pop())
			if !ok {
				return 0, m.drop(errors.KindOutOfRange, "VM program counter out of range in OP_JUMP")
			}
			pc = npc

		case bytecode.OpEQ, bytecode.OpNE,
			bytecode.OpLTI, bytecode.OpLEI, bytecode.OpGTI, bytecode.OpGEI,
			bytecode.OpLTU, bytecode.OpLEU, bytecode.OpGTU, bytecode.OpGEU,
			bytecode.OpEQF, bytecode.OpNEF,
			bytecode.OpLTF, bytecode.OpLEF, bytecode.OpGTF, bytecode.OpGEF:
			b := m.pop()
			a := m.pop()
			if compare(ins.Op, a, b) {
				npc, ok := prog.jump(ins.Operand)
				if !ok {
					return 0, m.drop(errors.KindOutOfRange, "%s to invalid instruction %d", ins.Op, ins.Operand)
				}
				pc = npc
			}

		case bytecode.OpLoad1:
			m.push(int32(m.data[uint32(m.pop())&m.mask]))
		case bytecode.OpLoad2:
			m.push(int32(binary.LittleEndian.Uint16(m.data[uint32(m.pop())&m.mask:])))
		case bytecode.OpLoad4:
			m.push(m.load4(m.pop()))

		case bytecode.OpStore1:
			val := m.pop()
			m.data[uint32(m.pop())&m.mask] = byte(val)
		case bytecode.OpStore2:
			val := m.pop()
			binary.LittleEndian.PutUint16(m.data[uint32(m.pop())&m.mask:], uint16(val))
		case bytecode.OpStore4:
			val := m.pop()
			m.store4(m.pop(), val)

		case bytecode.OpArg:
			m.store4(ps+ins.Operand, m.pop())

		case bytecode.OpBlockCopy:
			src := m.pop()
			dest := m.pop()
			if err := v.BlockCopy(uint32(dest), uint32(src), uint32(ins.Operand)); err != nil {
				return 0, err
			}

		case bytecode.OpSex8:
			m.push(int32(int8(m.pop())))
		case bytecode.OpSex16:
			m.push(int32(int16(m.pop())))
		case bytecode.OpNegI:
			m.push(-m.pop())
		case bytecode.OpBcom:
			m.push(^m.pop())

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMulI, bytecode.OpMulU,
			bytecode.OpDivI, bytecode.OpDivU, bytecode.OpModI, bytecode.OpModU,
			bytecode.OpBand, bytecode.OpBor, bytecode.OpBxor,
			bytecode.OpLsh, bytecode.OpRshI, bytecode.OpRshU:
			b := m.pop()
			a := m.pop()
			r, ok := arith(ins.Op, a, b)
			if !ok {
				return 0, m.drop(errors.KindInvalidData, "%s by zero", ins.Op)
			}
			m.push(r)

		case bytecode.OpNegF:
			m.push(i32(-f32(m.pop())))
		case bytecode.OpAddF, bytecode.OpSubF, bytecode.OpMulF, bytecode.OpDivF:
			b := f32(m.pop())
			a := f32(m.pop())
			var r float32
			switch ins.Op {
			case bytecode.OpAddF:
				r = a + b
			case bytecode.OpSubF:
				r = a - b
			case bytecode.OpMulF:
				r = a * b
			default:
				r = a / b
			}
			m.push(i32(r))
		case bytecode.OpCvIF:
			m.push(i32(float32(m.pop())))
		case bytecode.OpCvFI:
			m.push(int32(f32(m.pop())))

		default:
			return 0, m.drop(errors.KindInvalidData, "bad VM instruction %s at %d", ins.Op, ins.Offset)
		}

		if m.fault {
			return 0, m.drop(errors.KindOutOfRange, "operand stack overflow at %d", ins.Offset)
		}
	}
}

// hostCall services a CALL to a negative target. The syscall number
// temporarily replaces the word above the return address so the argument
// vector is contiguous for the bridge.
func hostCall(ctx context.Context, m *machine, ps, target int32) (int32, error) {
	v := m.vm
	stomped := m.load4(ps + 4)
	m.store4(ps+4, -1-target)

	v.SetProgramStack(ps - 4)
	r, err := v.Registry().SyscallFromStack(ctx, ps+4)
	if err != nil {
		return 0, err
	}
	if !v.Alive() {
		return 0, m.drop(errors.KindRunning, "module freed during syscall %d", -1-target)
	}
	m.store4(ps+4, stomped)
	return int32(r), nil
}

func compare(op bytecode.Opcode, a, b int32) bool {
	switch op {
	case bytecode.OpEQ:
		return a == b
	case bytecode.OpNE:
		return a != b
	case bytecode.OpLTI:
		return a < b
	case bytecode.OpLEI:
		return a <= b
	case bytecode.OpGTI:
		return a > b
	case bytecode.OpGEI:
		return a >= b
	case bytecode.OpLTU:
		return uint32(a) < uint32(b)
	case bytecode.OpLEU:
		return uint32(a) <= uint32(b)
	case bytecode.OpGTU:
		return uint32(a) > uint32(b)
	case bytecode.OpGEU:
		return uint32(a) >= uint32(b)
	case bytecode.OpEQF:
		return f32(a) == f32(b)
	case bytecode.OpNEF:
		return f32(a) != f32(b)
	case bytecode.OpLTF:
		return f32(a) < f32(b)
	case bytecode.OpLEF:
		return f32(a) <= f32(b)
	case bytecode.OpGTF:
		return f32(a) > f32(b)
	default:
		return f32(a) >= f32(b)
	}
}

// arith applies an integer binary operator. ok is false on division by zero.
// Shift counts use their low five bits.
func arith(op bytecode.Opcode, a, b int32) (int32, bool) {
	switch op {
	case bytecode.OpAdd:
		return a + b, true
	case bytecode.OpSub:
		return a - b, true
	case bytecode.OpMulI:
		return a * b, true
	case bytecode.OpMulU:
		return int32(uint32(a) * uint32(b)), true
	case bytecode.OpDivI:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case bytecode.OpDivU:
		if b == 0 {
			return 0, false
		}
		return int32(uint32(a) / uint32(b)), true
	case bytecode.OpModI:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case bytecode.OpModU:
		if b == 0 {
			return 0, false
		}
		return int32(uint32(a) % uint32(b)), true
	case bytecode.OpBand:
		return a & b, true
	case bytecode.OpBor:
		return a | b, true
	case bytecode.OpBxor:
		return a ^ b, true
	case bytecode.OpLsh:
		return a << (uint32(b) & 31), true
	case bytecode.OpRshI:
		return a >> (uint32(b) & 31), true
	default:
		return int32(uint32(a) >> (uint32(b) & 31)), true
	}
}
