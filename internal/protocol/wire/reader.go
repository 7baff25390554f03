package wire

import (
	"encoding/binary"
	"unicode/utf8"
)

// VarIntMaxBytes is the longest VarInt encoding of a 32-bit value.
const VarIntMaxBytes = 5

// Reader decodes primitives from a private copy of a byte slice.
type Reader struct {
	data   []byte
	cursor int
}

func NewReader(b []byte) *Reader {
	data := make([]byte, len(b))
	copy(data, b)
	return &Reader{data: data}
}

func (r *Reader) Remaining() int {
	return len(r.data) - r.cursor
}

func (r *Reader) HasRemaining() bool {
	return r.cursor < len(r.data)
}

// ReadVarUint32 reads a VarInt of at most VarIntMaxBytes groups.
func (r *Reader) ReadVarUint32() (uint32, error) {
	var result uint32
	for groups := 0; ; groups++ {
		if groups >= VarIntMaxBytes {
			return 0, malformed("varint is too big")
		}
		if !r.HasRemaining() {
			return 0, malformed("unexpected end of frame while reading varint")
		}
		b := r.data[r.cursor]
		r.cursor++
		result |= uint32(b&0x7f) << (7 * groups)
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// ReadVarInt reads a VarInt and reinterprets it as a signed 32-bit value.
func (r *Reader) ReadVarInt() (int32, error) {
	v, err := r.ReadVarUint32()
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// ReadLong reads a fixed 8-byte big-endian signed integer.
func (r *Reader) ReadLong() (int64, error) {
	if r.Remaining() < 8 {
		return 0, malformed("unexpected end of frame while reading long")
	}
	v := binary.BigEndian.Uint64(r.data[r.cursor : r.cursor+8])
	r.cursor += 8
	return int64(v), nil
}

func (r *Reader) ReadUnsignedByte() (uint8, error) {
	if !r.HasRemaining() {
		return 0, malformed("unexpected end of frame")
	}
	b := r.data[r.cursor]
	r.cursor++
	return b, nil
}

// ReadBytes copies the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, malformed("requested byte count out of bounds: %d", n)
	}
	out := make([]byte, n)
	copy(out, r.data[r.cursor:r.cursor+n])
	r.cursor += n
	return out, nil
}

// ReadString reads a VarInt byte length followed by that many UTF-8 bytes.
// Bytes that are not valid UTF-8 are malformed.
func (r *Reader) ReadString(maxBytes int) (string, error) {
	length, err := r.ReadVarInt()
	if err != nil {
		return "", err
	}
	if length < 0 || int(length) > maxBytes {
		return "", malformed("string byte length out of bounds: %d", length)
	}
	raw, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", malformed("string is not valid UTF-8")
	}
	return string(raw), nil
}
