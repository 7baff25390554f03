package protocol

import (
	"fmt"
	"math"

	"github.com/danmuck/companion/internal/protocol/wire"
)

// Frame is one decoded payload. It is not retained by the codec.
type Frame struct {
	Version int32
	Type    MessageType
	Message Message
}

// Decode parses exactly one frame. It is a pure function of b and is safe
// for concurrent use on disjoint buffers.
func Decode(b []byte) (Frame, error) {
	if len(b) > MaxPacketBytes {
		return Frame{}, &FrameError{
			Kind: FrameTooLarge,
			Msg:  fmt.Sprintf("payload of %d bytes exceeds maximum %d", len(b), MaxPacketBytes),
		}
	}

	r := wire.NewReader(b)
	version, err := r.ReadVarInt()
	if err != nil {
		return Frame{}, &FrameError{Kind: FrameMalformed, Msg: "read protocol version", Err: err}
	}
	rawType, err := r.ReadVarInt()
	if err != nil {
		return Frame{}, &FrameError{Kind: FrameMalformed, Msg: "read message type", Err: err}
	}
	msgType := MessageType(rawType)

	var msg Message
	switch msgType {
	case MessageClientHello:
		msg, err = decodeClientHello(r)
	case MessageServerHello:
		msg, err = decodeServerHello(r)
	case MessageEntityMarkerDelta:
		msg, err = decodeEntityMarkerDelta(r)
	case MessageInventoryItemOverlays:
		msg, err = decodeInventoryItemOverlays(r)
	default:
		return Frame{}, &FrameError{Kind: FrameUnknownType, Msg: fmt.Sprintf("unknown message type: %d", rawType)}
	}
	if err != nil {
		return Frame{}, &FrameError{Kind: FrameMalformed, Msg: "decode " + msgType.String(), Err: err}
	}

	if r.HasRemaining() {
		return Frame{}, &FrameError{
			Kind: FrameTrailing,
			Msg:  fmt.Sprintf("unexpected trailing bytes after %s: %d", msgType, r.Remaining()),
		}
	}
	return Frame{Version: version, Type: msgType, Message: msg}, nil
}

func decodeClientHello(r *wire.Reader) (ClientHello, error) {
	modVersion, err := r.ReadString(MaxStringBytes)
	if err != nil {
		return ClientHello{}, err
	}
	caps, err := r.ReadVarUint32()
	if err != nil {
		return ClientHello{}, err
	}
	return ClientHello{ModVersion: modVersion, Capabilities: caps}, nil
}

func decodeServerHello(r *wire.Reader) (ServerHello, error) {
	serverID, err := r.ReadString(MaxStringBytes)
	if err != nil {
		return ServerHello{}, err
	}
	pluginVersion, err := r.ReadString(MaxStringBytes)
	if err != nil {
		return ServerHello{}, err
	}
	flags, err := r.ReadVarUint32()
	if err != nil {
		return ServerHello{}, err
	}
	hello := ServerHello{ServerID: serverID, PluginVersion: pluginVersion, FeatureFlags: flags}

	// The signature section is positional: present iff bytes remain.
	if r.HasRemaining() {
		n, err := r.ReadUnsignedByte()
		if err != nil {
			return ServerHello{}, err
		}
		if int(n) > MaxSignatureBytes {
			return ServerHello{}, &wire.DecodeError{Cause: fmt.Sprintf("server signature length exceeds maximum: %d", n)}
		}
		sig, err := r.ReadBytes(int(n))
		if err != nil {
			return ServerHello{}, err
		}
		hello.Signature = Signature(sig)
	}
	return hello, nil
}

func decodeEntityMarkerDelta(r *wire.Reader) (EntityMarkerDelta, error) {
	markerType, err := readBoundedNonNegative(r, math.MaxInt32, "markerType")
	if err != nil {
		return EntityMarkerDelta{}, err
	}
	add, err := readEntityIDs(r, "addCount")
	if err != nil {
		return EntityMarkerDelta{}, err
	}
	remove, err := readEntityIDs(r, "removeCount")
	if err != nil {
		return EntityMarkerDelta{}, err
	}
	return EntityMarkerDelta{MarkerType: markerType, Add: add, Remove: remove}, nil
}

func decodeInventoryItemOverlays(r *wire.Reader) (InventoryItemOverlays, error) {
	count, err := readBoundedNonNegative(r, MaxItemOverlayCount, "overlayCount")
	if err != nil {
		return InventoryItemOverlays{}, err
	}
	overlays := make([]InventoryItemOverlay, 0, count)
	for i := int32(0); i < count; i++ {
		slot, err := readBoundedNonNegative(r, math.MaxInt32, "slot")
		if err != nil {
			return InventoryItemOverlays{}, err
		}
		overlayType, err := readBoundedNonNegative(r, math.MaxInt32, "overlayType")
		if err != nil {
			return InventoryItemOverlays{}, err
		}
		text, err := r.ReadString(MaxItemOverlayTextBytes)
		if err != nil {
			return InventoryItemOverlays{}, err
		}
		overlays = append(overlays, InventoryItemOverlay{Slot: slot, OverlayType: overlayType, DisplayText: text})
	}
	return InventoryItemOverlays{Overlays: overlays}, nil
}

func readEntityIDs(r *wire.Reader, field string) ([]int32, error) {
	count, err := readBoundedNonNegative(r, MaxEntityDelta, field)
	if err != nil {
		return nil, err
	}
	ids := make([]int32, 0, count)
	for i := int32(0); i < count; i++ {
		id, err := readBoundedNonNegative(r, math.MaxInt32, "entityId")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// readBoundedNonNegative is the shared check for counts and index-like
// fields: negative or over-ceiling values fail, never clamp.
func readBoundedNonNegative(r *wire.Reader, maxValue int32, field string) (int32, error) {
	v, err := r.ReadVarInt()
	if err != nil {
		return 0, err
	}
	if v < 0 || v > maxValue {
		return 0, &wire.DecodeError{Cause: fmt.Sprintf("%s out of bounds: %d", field, v)}
	}
	return v, nil
}
