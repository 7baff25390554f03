package protocol

import "fmt"

// ProtocolVersion is the only version this client speaks.
const ProtocolVersion int32 = 1

// ChannelID names the plugin channel that carries codec payloads.
const ChannelID = "servercompanion:main"

// Size ceilings. Exceeding any of these on decode is a malformed frame; on
// encode it is an invalid argument.
const (
	MaxPacketBytes          = 16 * 1024
	MaxStringBytes          = 2048
	MaxEntityDelta          = 2048
	MaxItemOverlayCount     = 64
	MaxItemOverlayTextBytes = 24
	MaxSignatureBytes       = 255
)

// Server feature bits advertised in ServerHello.FeatureFlags.
const (
	ServerFeatureEntityMarkers         uint32 = 1 << 1
	ServerFeatureInventoryItemOverlays uint32 = 1 << 5
)

// Marker types carried by EntityMarkerDelta.
const (
	MarkerTypeSameGang                  int32 = 1
	MarkerTypePeacefulMiningPassThrough int32 = 2
)

// Overlay types carried by InventoryItemOverlay.
const (
	OverlayTypeCosmicEnergy int32 = 1
	OverlayTypeMoneyNote    int32 = 2
)

type MessageType int32

const (
	MessageClientHello           MessageType = 1
	MessageServerHello           MessageType = 2
	MessageEntityMarkerDelta     MessageType = 4
	MessageInventoryItemOverlays MessageType = 10
)

type Direction uint8

const (
	ClientToServer Direction = iota + 1
	ServerToClient
)

// TypeInfo describes one registered message type.
type TypeInfo struct {
	Type      MessageType
	Name      string
	Direction Direction
	Handshake bool
}

var registry = map[MessageType]TypeInfo{
	MessageClientHello:           {MessageClientHello, "client_hello", ClientToServer, true},
	MessageServerHello:           {MessageServerHello, "server_hello", ServerToClient, true},
	MessageEntityMarkerDelta:     {MessageEntityMarkerDelta, "entity_marker_delta", ServerToClient, false},
	MessageInventoryItemOverlays: {MessageInventoryItemOverlays, "inventory_item_overlays", ServerToClient, false},
}

// Lookup returns the registry entry for t. Reserved ids are not registered.
func Lookup(t MessageType) (TypeInfo, bool) {
	info, ok := registry[t]
	return info, ok
}

func (t MessageType) String() string {
	if info, ok := registry[t]; ok {
		return info.Name
	}
	return fmt.Sprintf("message_type(%d)", int32(t))
}
