package protocol

import (
	"fmt"

	"github.com/danmuck/companion/internal/protocol/wire"
)

// Encode writes msg as one exact frame: version, type id, then the
// type-specific fields in their fixed order.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, invalidArgument("nil message")
	}
	w := wire.NewWriter()
	w.WriteVarInt(ProtocolVersion)
	w.WriteVarInt(int32(msg.Type()))

	var err error
	switch m := msg.(type) {
	case ClientHello:
		err = encodeClientHello(w, m)
	case ServerHello:
		err = encodeServerHello(w, m)
	case EntityMarkerDelta:
		err = encodeEntityMarkerDelta(w, m)
	case InventoryItemOverlays:
		err = encodeInventoryItemOverlays(w, m)
	default:
		err = invalidArgument("unsupported message %T", msg)
	}
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func encodeClientHello(w *wire.Writer, m ClientHello) error {
	if err := writeString(w, m.ModVersion, MaxStringBytes, "modVersion"); err != nil {
		return err
	}
	w.WriteVarUint32(m.Capabilities)
	return nil
}

func encodeServerHello(w *wire.Writer, m ServerHello) error {
	if err := writeString(w, m.ServerID, MaxStringBytes, "serverId"); err != nil {
		return err
	}
	if err := writeString(w, m.PluginVersion, MaxStringBytes, "pluginVersion"); err != nil {
		return err
	}
	w.WriteVarUint32(m.FeatureFlags)
	if m.Signature == nil {
		return nil
	}
	if len(m.Signature) > MaxSignatureBytes {
		return invalidArgument("server hello signature is %d bytes, max %d", len(m.Signature), MaxSignatureBytes)
	}
	_ = w.WriteByte(byte(len(m.Signature)))
	w.WriteBytes(m.Signature)
	return nil
}

func encodeEntityMarkerDelta(w *wire.Writer, m EntityMarkerDelta) error {
	if err := writeBoundedNonNegative(w, m.MarkerType, "markerType"); err != nil {
		return err
	}
	if err := writeEntityIDs(w, m.Add, "addCount"); err != nil {
		return err
	}
	return writeEntityIDs(w, m.Remove, "removeCount")
}

func encodeInventoryItemOverlays(w *wire.Writer, m InventoryItemOverlays) error {
	if err := writeBoundedCount(w, len(m.Overlays), MaxItemOverlayCount, "overlayCount"); err != nil {
		return err
	}
	for _, overlay := range m.Overlays {
		if err := writeBoundedNonNegative(w, overlay.Slot, "slot"); err != nil {
			return err
		}
		if err := writeBoundedNonNegative(w, overlay.OverlayType, "overlayType"); err != nil {
			return err
		}
		if err := writeString(w, overlay.DisplayText, MaxItemOverlayTextBytes, "displayText"); err != nil {
			return err
		}
	}
	return nil
}

func writeEntityIDs(w *wire.Writer, ids []int32, field string) error {
	if err := writeBoundedCount(w, len(ids), MaxEntityDelta, field); err != nil {
		return err
	}
	for _, id := range ids {
		if err := writeBoundedNonNegative(w, id, "entityId"); err != nil {
			return err
		}
	}
	return nil
}

func writeBoundedCount(w *wire.Writer, count, maxCount int, field string) error {
	if count < 0 || count > maxCount {
		return invalidArgument("%s out of bounds: %d", field, count)
	}
	w.WriteVarInt(int32(count))
	return nil
}

func writeBoundedNonNegative(w *wire.Writer, v int32, field string) error {
	if v < 0 {
		return invalidArgument("%s out of bounds: %d", field, v)
	}
	w.WriteVarInt(v)
	return nil
}

func writeString(w *wire.Writer, s string, maxBytes int, field string) error {
	if err := w.WriteString(s, maxBytes); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArgument, field, err)
	}
	return nil
}
