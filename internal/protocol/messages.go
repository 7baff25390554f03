package protocol

import (
	"bytes"
	"slices"
)

// Message is the closed set of companion messages. The unexported method
// keeps the set sealed to this package.
type Message interface {
	Type() MessageType
	sealed()
}

// Signature is the optional trailing ServerHello signature. A nil Signature
// is absent on the wire; a non-nil empty Signature is present with length 0.
type Signature []byte

type ClientHello struct {
	ModVersion   string
	Capabilities uint32
}

type ServerHello struct {
	ServerID      string
	PluginVersion string
	FeatureFlags  uint32
	Signature     Signature
}

type EntityMarkerDelta struct {
	MarkerType int32
	Add        []int32
	Remove     []int32
}

type InventoryItemOverlay struct {
	Slot        int32
	OverlayType int32
	DisplayText string
}

type InventoryItemOverlays struct {
	Overlays []InventoryItemOverlay
}

func (ClientHello) Type() MessageType           { return MessageClientHello }
func (ServerHello) Type() MessageType           { return MessageServerHello }
func (EntityMarkerDelta) Type() MessageType     { return MessageEntityMarkerDelta }
func (InventoryItemOverlays) Type() MessageType { return MessageInventoryItemOverlays }

func (ClientHello) sealed()           {}
func (ServerHello) sealed()           {}
func (EntityMarkerDelta) sealed()     {}
func (InventoryItemOverlays) sealed() {}

// HasSignature reports whether the hello carried the optional signature section.
func (h ServerHello) HasSignature() bool {
	return h.Signature != nil
}

// SupportsFeature reports whether every bit of feature is advertised.
func (h ServerHello) SupportsFeature(feature uint32) bool {
	return feature != 0 && h.FeatureFlags&feature == feature
}

// Equal reports structural equality. Binary fields compare byte-exact and
// signature presence is significant.
func Equal(a, b Message) bool {
	switch x := a.(type) {
	case ClientHello:
		y, ok := b.(ClientHello)
		return ok && x == y
	case ServerHello:
		y, ok := b.(ServerHello)
		return ok &&
			x.ServerID == y.ServerID &&
			x.PluginVersion == y.PluginVersion &&
			x.FeatureFlags == y.FeatureFlags &&
			(x.Signature == nil) == (y.Signature == nil) &&
			bytes.Equal(x.Signature, y.Signature)
	case EntityMarkerDelta:
		y, ok := b.(EntityMarkerDelta)
		return ok &&
			x.MarkerType == y.MarkerType &&
			slices.Equal(x.Add, y.Add) &&
			slices.Equal(x.Remove, y.Remove)
	case InventoryItemOverlays:
		y, ok := b.(InventoryItemOverlays)
		return ok && slices.Equal(x.Overlays, y.Overlays)
	default:
		return false
	}
}
