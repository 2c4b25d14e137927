package bytecode

import (
	"encoding/binary"

	"github.com/wippyai/qvm/arena"
	"github.com/wippyai/qvm/errors"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Op      Opcode
	Operand int32
	// Offset is the code-byte offset of the opcode.
	Offset int32
}

func invalidCode(detail string, args ...any) *errors.Error {
	return errors.New(errors.PhaseLoad, errors.KindInvalidData).
		Severity(errors.Drop).
		Detail(detail, args...).
		Build()
}

// DecodeAt decodes the instruction at byte offset pc and returns it with the
// offset of the next instruction.
func DecodeAt(code []byte, pc int32) (Instruction, int32, error) {
	if pc < 0 || int(pc) >= len(code) {
		return Instruction{}, 0, invalidCode("pc %d outside code (%d bytes)", pc, len(code))
	}
	op := Opcode(code[pc])
	if op >= NumOpcodes {
		return Instruction{}, 0, invalidCode("bad opcode %d at %d", code[pc], pc)
	}
	ins := Instruction{Op: op, Offset: pc}
	next := pc + 1
	switch op.OperandSize() {
	case 4:
		if int(next)+4 > len(code) {
			return Instruction{}, 0, invalidCode("truncated %s operand at %d", op, pc)
		}
		ins.Operand = int32(binary.LittleEndian.Uint32(code[next:]))
		next += 4
	case 1:
		if int(next) >= len(code) {
			return Instruction{}, 0, invalidCode("truncated %s operand at %d", op, pc)
		}
		ins.Operand = int32(code[next])
		next++
	}
	return ins, next, nil
}

// Scan walks count instructions and records each instruction's code-byte
// offset in ip. Conditional branch operands must name an instruction in
// [0, count).
func Scan(code []byte, count int32, ip arena.Words) error {
	if ip.Len() < int(count) {
		return invalidCode("instruction table holds %d entries, need %d", ip.Len(), count)
	}
	var pc int32
	for i := int32(0); i < count; i++ {
		ins, next, err := DecodeAt(code, pc)
		if err != nil {
			return err
		}
		if ins.Op.IsBranch() && (ins.Operand < 0 || ins.Operand >= count) {
			return invalidCode("%s at %d jumps to invalid instruction %d", ins.Op, pc, ins.Operand)
		}
		ip.Set(int(i), pc)
		pc = next
	}
	return nil
}

// Decode decodes count instructions into a slice indexed by instruction number.
func Decode(code []byte, count int32) ([]Instruction, error) {
	out := make([]Instruction, 0, count)
	var pc int32
	for i := int32(0); i < count; i++ {
		ins, next, err := DecodeAt(code, pc)
		if err != nil {
			return nil, err
		}
		if ins.Op.IsBranch() && (ins.Operand < 0 || ins.Operand >= count) {
			return nil, invalidCode("%s at %d jumps to invalid instruction %d", ins.Op, pc, ins.Operand)
		}
		out = append(out, ins)
		pc = next
	}
	return out, nil
}

// CheckJumpTargets verifies that every indirect jump target is an instruction index.
func CheckJumpTargets(targets arena.Words, count int32) error {
	for i := 0; i < targets.Len(); i++ {
		if v := targets.At(i); v < 0 || v >= count {
			return invalidCode("jump table entry %d targets invalid instruction %d", i, v)
		}
	}
	return nil
}
