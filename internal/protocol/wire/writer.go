package wire

import (
	"encoding/binary"
	"fmt"
)

// Writer accumulates an encoded frame in memory.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) WriteVarUint32(v uint32) {
	for v&^0x7f != 0 {
		w.buf = append(w.buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// WriteVarInt encodes the two's complement bits of v, so negative values
// always take VarIntMaxBytes groups.
func (w *Writer) WriteVarInt(v int32) {
	w.WriteVarUint32(uint32(v))
}

func (w *Writer) WriteLong(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteString writes the UTF-8 byte length as a VarInt followed by the bytes.
func (w *Writer) WriteString(s string, maxBytes int) error {
	if len(s) > maxBytes {
		return fmt.Errorf("%w: string of %d bytes exceeds %d", ErrFieldTooLarge, len(s), maxBytes)
	}
	w.WriteVarInt(int32(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns a copy of the encoded bytes.
func (w *Writer) Bytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}
