package session

import (
	"maps"
	"slices"

	"github.com/danmuck/companion/internal/protocol"
)

// Player storage slot range kept in the overlay snapshot. Legacy servers send
// hotbar slots as 36..44; those are folded onto 0..8.
const (
	MinStorageSlot = 0
	MaxStorageSlot = 35

	legacyHotbarMinSlot = 36
	legacyHotbarMaxSlot = 44
)

// OverlayEntry is the overlay shown for one storage slot.
type OverlayEntry struct {
	OverlayType int32
	DisplayText string
}

// Session is the mutable state of one server connection. It is reset on
// join and disconnect.
type Session struct {
	gate Gate

	serverID      string
	pluginVersion string
	featureFlags  uint32

	overlays          map[int32]OverlayEntry
	overlaysSupported bool
	markers           map[int32]map[int32]struct{}

	helloSent       bool
	malformedLogged bool
}

func New() *Session {
	s := &Session{}
	s.Reset()
	return s
}

// Gate returns the connection's handshake gate.
func (s *Session) Gate() *Gate {
	return &s.gate
}

// Reset clears handshake fields and every snapshot for a new connection.
func (s *Session) Reset() {
	s.gate.Reset()
	s.serverID = ""
	s.pluginVersion = ""
	s.featureFlags = 0
	s.overlays = make(map[int32]OverlayEntry)
	s.overlaysSupported = false
	s.markers = make(map[int32]map[int32]struct{})
	s.helloSent = false
	s.malformedLogged = false
}

// SetServerHello records metadata from an accepted hello.
func (s *Session) SetServerHello(hello protocol.ServerHello) {
	s.serverID = hello.ServerID
	s.pluginVersion = hello.PluginVersion
	s.featureFlags = hello.FeatureFlags
}

func (s *Session) ServerID() string      { return s.serverID }
func (s *Session) PluginVersion() string { return s.pluginVersion }
func (s *Session) FeatureFlags() uint32  { return s.featureFlags }

func (s *Session) SetInventoryItemOverlaysSupported(v bool) {
	s.overlaysSupported = v
}

func (s *Session) InventoryItemOverlaysSupported() bool {
	return s.overlaysSupported
}

// ReplaceInventoryItemOverlays swaps the whole overlay snapshot. Slots that
// do not normalise into storage space are ignored.
func (s *Session) ReplaceInventoryItemOverlays(overlays []protocol.InventoryItemOverlay) {
	clear(s.overlays)
	for _, o := range overlays {
		slot, ok := NormalizeStorageSlot(o.Slot)
		if !ok {
			continue
		}
		s.overlays[slot] = OverlayEntry{OverlayType: o.OverlayType, DisplayText: o.DisplayText}
	}
}

func (s *Session) ClearInventoryItemOverlays() {
	clear(s.overlays)
}

func (s *Session) InventoryItemOverlay(slot int32) (OverlayEntry, bool) {
	e, ok := s.overlays[slot]
	return e, ok
}

// InventoryItemOverlaysSnapshot returns a copy of the overlay map.
func (s *Session) InventoryItemOverlaysSnapshot() map[int32]OverlayEntry {
	return maps.Clone(s.overlays)
}

// ApplyMarkerDelta adds then removes entity ids for one marker type.
// Negative ids are ignored.
func (s *Session) ApplyMarkerDelta(markerType int32, add, remove []int32) {
	set := s.markers[markerType]
	if set == nil {
		set = make(map[int32]struct{})
		s.markers[markerType] = set
	}
	for _, id := range add {
		if id >= 0 {
			set[id] = struct{}{}
		}
	}
	for _, id := range remove {
		if id >= 0 {
			delete(set, id)
		}
	}
}

func (s *Session) HasMarker(markerType, entityID int32) bool {
	if entityID < 0 {
		return false
	}
	_, ok := s.markers[markerType][entityID]
	return ok
}

// MarkerSnapshot returns the sorted ids tracked for markerType.
func (s *Session) MarkerSnapshot(markerType int32) []int32 {
	ids := slices.Collect(maps.Keys(s.markers[markerType]))
	slices.Sort(ids)
	return ids
}

func (s *Session) ClearMarkers() {
	clear(s.markers)
}

func (s *Session) HelloSent() bool { return s.helloSent }
func (s *Session) MarkHelloSent()  { s.helloSent = true }

func (s *Session) MalformedLogged() bool { return s.malformedLogged }
func (s *Session) MarkMalformedLogged()  { s.malformedLogged = true }

// NormalizeStorageSlot maps a raw slot into 0..35, accepting legacy hotbar
// indexes 36..44.
func NormalizeStorageSlot(raw int32) (int32, bool) {
	switch {
	case raw >= MinStorageSlot && raw <= MaxStorageSlot:
		return raw, true
	case raw >= legacyHotbarMinSlot && raw <= legacyHotbarMaxSlot:
		return raw - legacyHotbarMinSlot, true
	default:
		return -1, false
	}
}
