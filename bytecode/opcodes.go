// Package bytecode describes the module instruction set and scans code
// sections into instruction tables.
package bytecode

// Opcode is a single-byte instruction code.
type Opcode uint8

const (
	OpUndef Opcode = iota
	OpIgnore
	OpBreak
	OpEnter
	OpLeave
	OpCall
	OpPush
	OpPop
	OpConst
	OpLocal
	OpJump
	OpEQ
	OpNE
	OpLTI
	OpLEI
	OpGTI
	OpGEI
	OpLTU
	OpLEU
	OpGTU
	OpGEU
	OpEQF
	OpNEF
	OpLTF
	OpLEF
	OpGTF
	OpGEF
	OpLoad1
	OpLoad2
	OpLoad4
	OpStore1
	OpStore2
	OpStore4
	OpArg
	OpBlockCopy
	OpSex8
	OpSex16
	OpNegI
	OpAdd
	OpSub
	OpDivI
	OpDivU
	OpModI
	OpModU
	OpMulI
	OpMulU
	OpBand
	OpBor
	OpBxor
	OpBcom
	OpLsh
	OpRshI
	OpRshU
	OpNegF
	OpAddF
	OpSubF
	OpDivF
	OpMulF
	OpCvIF
	OpCvFI

	NumOpcodes
)

var opNames = [NumOpcodes]string{
	"UNDEF", "IGNORE", "BREAK", "ENTER", "LEAVE", "CALL", "PUSH", "POP",
	"CONST", "LOCAL", "JUMP",
	"EQ", "NE", "LTI", "LEI", "GTI", "GEI", "LTU", "LEU", "GTU", "GEU",
	"EQF", "NEF", "LTF", "LEF", "GTF", "GEF",
	"LOAD1", "LOAD2", "LOAD4", "STORE1", "STORE2", "STORE4",
	"ARG", "BLOCK_COPY", "SEX8", "SEX16",
	"NEGI", "ADD", "SUB", "DIVI", "DIVU", "MODI", "MODU", "MULI", "MULU",
	"BAND", "BOR", "BXOR", "BCOM", "LSH", "RSHI", "RSHU",
	"NEGF", "ADDF", "SUBF", "DIVF", "MULF", "CVIF", "CVFI",
}

func (op Opcode) String() string {
	if op < NumOpcodes {
		return opNames[op]
	}
	return "INVALID"
}

// OperandSize returns the number of operand bytes following the opcode.
func (op Opcode) OperandSize() int {
	switch {
	case op == OpEnter, op == OpLeave, op == OpConst, op == OpLocal, op == OpBlockCopy:
		return 4
	case op.IsBranch():
		return 4
	case op == OpArg:
		return 1
	default:
		return 0
	}
}

// IsBranch reports whether op is a conditional branch whose operand is an
// instruction index.
func (op Opcode) IsBranch() bool {
	return op >= OpEQ && op <= OpGEF
}
