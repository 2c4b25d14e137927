package image

import (
	"encoding/binary"
	"fmt"
)

// reader walks a byte slice with position tracking.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

// remaining returns the number of unread bytes.
func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

// u32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *reader) u32LE() (uint32, error) {
	if r.remaining() < 4 {
		return 0, r.wrapError("u32", fmt.Errorf("need 4 bytes, have %d", r.remaining()))
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// i32LE reads a little-endian int32.
func (r *reader) i32LE() (int32, error) {
	v, err := r.u32LE()
	return int32(v), err
}

func (r *reader) wrapError(field string, err error) error {
	return &ParseError{Position: r.pos, Field: field, Err: err}
}

// ParseError represents an error while decoding a header field.
type ParseError struct {
	Err      error
	Field    string
	Position int
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("qvm: %s at position %d: %v", e.Field, e.Position, e.Err)
	}
	return fmt.Sprintf("qvm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// writer builds little-endian images.
type writer struct {
	buf []byte
}

func (w *writer) u32LE(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) i32LE(v int32) {
	w.u32LE(uint32(v))
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}
