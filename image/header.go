// Package image decodes and validates bytecode module images.
//
// An image starts with a little-endian header:
//
//	magic, instructionCount, codeOffset, codeLength,
//	dataOffset, dataLength, litLength, bssLength [, jtrgLength]
//
// Version 2 images (MagicV2) carry the trailing jtrgLength field and a jump
// table stored after the literal segment.
package image

import (
	"github.com/wippyai/qvm/errors"
)

const (
	MagicV1 uint32 = 0x12721444
	MagicV2 uint32 = 0x12721445

	HeaderSizeV1 = 32
	HeaderSizeV2 = 36

	// MaxDataSize bounds the rounded data segment.
	MaxDataSize = 1 << 30
)

// Header is the decoded image header. Fields are normalized to host order.
type Header struct {
	Magic            uint32
	InstructionCount int32
	CodeOffset       int32
	CodeLength       int32
	DataOffset       int32
	DataLength       int32
	LitLength        int32
	BssLength        int32
	JtrgLength       int32
}

// Version returns 1 or 2.
func (h *Header) Version() int {
	if h.Magic == MagicV2 {
		return 2
	}
	return 1
}

// Size returns the encoded header length.
func (h *Header) Size() int {
	if h.Magic == MagicV2 {
		return HeaderSizeV2
	}
	return HeaderSizeV1
}

// JumpTableWords returns the number of jump table entries. The byte length is
// rounded down to a whole number of words.
func (h *Header) JumpTableWords() int {
	if h.Magic != MagicV2 {
		return 0
	}
	return int(h.JtrgLength&^3) >> 2
}

// Decode reads the header of an image. It does not validate lengths; see Validate.
func Decode(path string, data []byte) (*Header, error) {
	r := newReader(data)

	magic, err := r.u32LE()
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindTruncated).
			Severity(errors.Drop).
			Path(path).
			Detail("file too short for magic").
			Cause(err).
			Build()
	}
	if magic != MagicV1 && magic != MagicV2 {
		return nil, errors.BadMagic(path, magic)
	}

	h := &Header{Magic: magic}
	if len(data) < h.Size() {
		return nil, errors.Truncated(path, h.Size(), len(data))
	}

	fields := []*int32{
		&h.InstructionCount,
		&h.CodeOffset,
		&h.CodeLength,
		&h.DataOffset,
		&h.DataLength,
		&h.LitLength,
		&h.BssLength,
	}
	if magic == MagicV2 {
		fields = append(fields, &h.JtrgLength)
	}
	for _, f := range fields {
		if *f, err = r.i32LE(); err != nil {
			return nil, errors.Truncated(path, h.Size(), len(data))
		}
	}
	return h, nil
}

// Validate checks the header lengths and that every section lies inside a
// file of fileLen bytes.
func (h *Header) Validate(path string, fileLen int) error {
	if h.CodeLength <= 0 {
		return errors.BadHeader(path, "code length must be positive")
	}
	if h.InstructionCount < 0 {
		return errors.BadHeader(path, "negative instruction count")
	}
	if h.DataLength < 0 || h.LitLength < 0 || h.BssLength < 0 {
		return errors.BadHeader(path, "negative data, lit or bss length")
	}
	if h.Magic == MagicV2 && h.JtrgLength < 0 {
		return errors.BadHeader(path, "negative jump table length")
	}
	if h.CodeOffset < 0 || h.DataOffset < 0 {
		return errors.BadHeader(path, "negative section offset")
	}

	size := int64(fileLen)
	if end := int64(h.CodeOffset) + int64(h.CodeLength); end > size {
		return errors.Truncated(path, int(end), fileLen)
	}
	end := int64(h.DataOffset) + int64(h.DataLength) + int64(h.LitLength)
	if h.Magic == MagicV2 {
		end += int64(h.JtrgLength &^ 3)
	}
	if end > size {
		return errors.Truncated(path, int(end), fileLen)
	}
	return nil
}

// DataSize returns the data segment size: data+lit+bss rounded up to a power
// of two. A zero total rounds to 1.
func DataSize(h *Header) (int, error) {
	total := int64(h.DataLength) + int64(h.LitLength) + int64(h.BssLength)
	if total > MaxDataSize {
		return 0, errors.New(errors.PhaseLoad, errors.KindBadHeader).
			Severity(errors.Drop).
			Value(total).
			Detail("data segment of %d bytes exceeds %d", total, MaxDataSize).
			Build()
	}
	size := int64(1)
	for size < total {
		size <<= 1
	}
	return int(size), nil
}

// Code returns the code section of data.
func (h *Header) Code(data []byte) []byte {
	return data[h.CodeOffset : h.CodeOffset+h.CodeLength]
}

// Data returns the initialized data words of data.
func (h *Header) Data(data []byte) []byte {
	return data[h.DataOffset : h.DataOffset+h.DataLength]
}

// Lit returns the literal section, which is copied without normalization.
func (h *Header) Lit(data []byte) []byte {
	start := h.DataOffset + h.DataLength
	return data[start : start+h.LitLength]
}

// JumpTable returns the raw jump table bytes of a version 2 image.
func (h *Header) JumpTable(data []byte) []byte {
	start := h.DataOffset + h.DataLength + h.LitLength
	return data[start : start+int32(h.JumpTableWords()*4)]
}
