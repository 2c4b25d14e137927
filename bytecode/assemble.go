package bytecode

import "encoding/binary"

// Assembler emits instructions and tracks the instruction count.
type Assembler struct {
	code  []byte
	count int32
}

// Emit appends op with its operand, if any.
func (a *Assembler) Emit(op Opcode, operand ...int32) *Assembler {
	a.code = append(a.code, byte(op))
	var v int32
	if len(operand) > 0 {
		v = operand[0]
	}
	switch op.OperandSize() {
	case 4:
		a.code = binary.LittleEndian.AppendUint32(a.code, uint32(v))
	case 1:
		a.code = append(a.code, byte(v))
	}
	a.count++
	return a
}

// Next returns the index the next emitted instruction will have.
func (a *Assembler) Next() int32 { return a.count }

// Code returns the encoded code section.
func (a *Assembler) Code() []byte { return a.code }

// Count returns the number of instructions emitted.
func (a *Assembler) Count() int32 { return a.count }
