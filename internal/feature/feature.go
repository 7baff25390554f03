// Package feature lists client features and the server bits that gate them.
package feature

import "github.com/danmuck/companion/internal/protocol"

const (
	InventoryItemOverlaysID = "inventory_item_overlays"
	EntityMarkersID         = "entity_markers"
)

// Definition describes one toggleable client feature. A zero
// RequiredServerBit means the feature needs no server support.
type Definition struct {
	ID                string
	DefaultEnabled    bool
	RequiredServerBit uint32
}

var all = []Definition{
	{ID: InventoryItemOverlaysID, DefaultEnabled: true, RequiredServerBit: protocol.ServerFeatureInventoryItemOverlays},
	{ID: EntityMarkersID, DefaultEnabled: true, RequiredServerBit: protocol.ServerFeatureEntityMarkers},
}

// All returns a copy of the catalog in display order.
func All() []Definition {
	out := make([]Definition, len(all))
	copy(out, all)
	return out
}

func Find(id string) (Definition, bool) {
	for _, d := range all {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// SupportedBy reports whether flags advertise everything d needs.
func (d Definition) SupportedBy(flags uint32) bool {
	return d.RequiredServerBit == 0 || flags&d.RequiredServerBit != 0
}
