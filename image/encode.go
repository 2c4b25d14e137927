package image

// Image describes the sections of a bytecode image for encoding.
type Image struct {
	// Version selects the header magic; 2 adds a jump table.
	Version          int
	InstructionCount int32
	Code             []byte
	// Data holds initialized data as host-order int32 words.
	Data        []int32
	Lit         []byte
	BssLength   int32
	JumpTargets []int32
}

// Encode lays out header, code, data, literals and jump table in that order.
func Encode(img Image) []byte {
	h := Header{Magic: MagicV1}
	if img.Version == 2 {
		h.Magic = MagicV2
	}
	h.InstructionCount = img.InstructionCount
	h.CodeOffset = int32(h.Size())
	h.CodeLength = int32(len(img.Code))
	h.DataOffset = h.CodeOffset + h.CodeLength
	h.DataLength = int32(len(img.Data) * 4)
	h.LitLength = int32(len(img.Lit))
	h.BssLength = img.BssLength
	h.JtrgLength = int32(len(img.JumpTargets) * 4)

	w := &writer{}
	w.u32LE(h.Magic)
	w.i32LE(h.InstructionCount)
	w.i32LE(h.CodeOffset)
	w.i32LE(h.CodeLength)
	w.i32LE(h.DataOffset)
	w.i32LE(h.DataLength)
	w.i32LE(h.LitLength)
	w.i32LE(h.BssLength)
	if h.Magic == MagicV2 {
		w.i32LE(h.JtrgLength)
	}
	w.bytes(img.Code)
	for _, v := range img.Data {
		w.i32LE(v)
	}
	w.bytes(img.Lit)
	if h.Magic == MagicV2 {
		for _, v := range img.JumpTargets {
			w.i32LE(v)
		}
	}
	return w.buf
}
