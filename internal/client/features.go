package client

import (
	"github.com/danmuck/companion/internal/feature"
	"github.com/danmuck/companion/internal/session"
)

// IsFeatureEnabled reports whether the user toggle is on and the server
// supports the feature.
func (r *Runtime) IsFeatureEnabled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.FeatureEnabled(id) && r.supportedLocked(id)
}

// FeatureToggle returns the stored user toggle regardless of server support.
func (r *Runtime) FeatureToggle(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.FeatureEnabled(id)
}

// SetFeatureEnabled stores the toggle and persists the config when a store
// is configured. Unknown ids are ignored.
func (r *Runtime) SetFeatureEnabled(id string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := feature.Find(id); !ok {
		return nil
	}
	r.cfg.FeatureToggles[id] = on
	if r.store == nil {
		return nil
	}
	return r.store.Save(r.cfg.Clone())
}

func (r *Runtime) IsFeatureSupportedByServer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.supportedLocked(id)
}

func (r *Runtime) supportedLocked(id string) bool {
	def, ok := feature.Find(id)
	if !ok {
		return false
	}
	if def.RequiredServerBit == 0 {
		return true
	}
	return r.session.Gate().IsEnabled() && def.SupportedBy(r.session.FeatureFlags())
}

func (r *Runtime) ServerFeatureFlags() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.FeatureFlags()
}

func (r *Runtime) HandshakeEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Gate().IsEnabled()
}

func (r *Runtime) ServerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.ServerID()
}

func (r *Runtime) HelloSent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.HelloSent()
}

// InventoryItemOverlays returns the overlay snapshot when overlays should be
// shown, or nil.
func (r *Runtime) InventoryItemOverlays() map[int32]session.OverlayEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.session.Gate().IsEnabled() || !r.session.InventoryItemOverlaysSupported() ||
		!r.cfg.FeatureEnabled(feature.InventoryItemOverlaysID) {
		return nil
	}
	return r.session.InventoryItemOverlaysSnapshot()
}

// MarkerIDs returns the sorted entity ids tracked for markerType.
func (r *Runtime) MarkerIDs(markerType int32) []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.MarkerSnapshot(markerType)
}
