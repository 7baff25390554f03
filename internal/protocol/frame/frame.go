package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/companion/internal/protocol"
	"github.com/danmuck/companion/internal/protocol/wire"
)

var (
	ErrShortPrefix     = errors.New("frame: short length prefix")
	ErrPrefixTooLong   = errors.New("frame: length prefix exceeds varint bound")
	ErrNegativeLength  = errors.New("frame: negative payload length")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains envelope decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: protocol.MaxPacketBytes}
}

// ReadPayload reads one VarInt length-prefixed payload from r. The payload
// is returned as-is; callers hand it to protocol.Decode.
func ReadPayload(r io.Reader, limits Limits) ([]byte, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrNegativeLength
	}
	if int(n) > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, limits.MaxPayloadBytes)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WritePayload writes p with its VarInt length prefix in a single Write.
func WritePayload(w io.Writer, p []byte, limits Limits) error {
	if len(p) > limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(p), limits.MaxPayloadBytes)
	}
	enc := wire.NewWriter()
	enc.WriteVarInt(int32(len(p)))
	enc.WriteBytes(p)
	_, err := w.Write(enc.Bytes())
	return err
}

func readLength(r io.Reader) (int32, error) {
	var (
		one    [1]byte
		result uint32
	)
	for groups := 0; groups < wire.VarIntMaxBytes; groups++ {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			if groups == 0 && errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, ErrShortPrefix
			}
			return 0, err
		}
		result |= uint32(one[0]&0x7f) << (7 * groups)
		if one[0]&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrPrefixTooLong
}
