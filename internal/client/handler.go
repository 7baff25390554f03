package client

import (
	"fmt"

	"github.com/danmuck/companion/internal/protocol"
	"github.com/danmuck/companion/internal/session"
)

// HandlePayload decodes one inbound payload and applies it. Malformed
// payloads and messages the gate does not admit are dropped.
func (r *Runtime) HandlePayload(b []byte) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	frame, err := protocol.Decode(b)
	if err != nil {
		reason := protocol.FrameErrorKindOf(err).String()
		r.metrics.RecordFrameDropped(reason)
		r.logMalformedLocked(err)
		return Outcome{Dropped: reason}
	}
	r.metrics.RecordFrameDecoded(frame.Type.String())
	out := Outcome{Type: frame.Type}

	if !r.session.Gate().ShouldProcessIncoming(frame.Message) {
		r.metrics.RecordFrameDropped(DropGateClosed)
		out.Dropped = DropGateClosed
		return out
	}

	switch msg := frame.Message.(type) {
	case protocol.ServerHello:
		out.Handshake = r.handleServerHelloLocked(frame.Version, msg)
	case protocol.InventoryItemOverlays:
		r.session.SetInventoryItemOverlaysSupported(true)
		r.session.ReplaceInventoryItemOverlays(msg.Overlays)
	case protocol.EntityMarkerDelta:
		switch msg.MarkerType {
		case protocol.MarkerTypeSameGang, protocol.MarkerTypePeacefulMiningPassThrough:
			r.session.ApplyMarkerDelta(msg.MarkerType, msg.Add, msg.Remove)
		default:
			r.logger.Debug().Int32("marker_type", msg.MarkerType).Msg("ignored entity marker delta")
			r.metrics.RecordFrameDropped(DropUnknownMarkerType)
			out.Dropped = DropUnknownMarkerType
		}
	default:
		r.metrics.RecordFrameDropped(DropWrongDirection)
		out.Dropped = DropWrongDirection
	}
	return out
}

func (r *Runtime) handleServerHelloLocked(version int32, hello protocol.ServerHello) session.EnableResult {
	result := r.session.Gate().TryEnable(version, hello, r.cfg.AllowedServerIDs, r.verifier)
	r.metrics.RecordHandshake(result.String())
	if !result.Enabled() {
		r.logger.Debug().Str("result", result.String()).Str("server_id", hello.ServerID).Msg("ignored ServerHello")
		if result.UserVisible() && r.notify != nil {
			r.notify(fmt.Sprintf("companion features are not enabled for server %q", hello.ServerID))
		}
		return result
	}
	if result == session.AlreadyEnabled {
		return result
	}

	r.session.SetServerHello(hello)
	overlays := hello.SupportsFeature(protocol.ServerFeatureInventoryItemOverlays)
	r.session.SetInventoryItemOverlaysSupported(overlays)
	if !overlays {
		r.session.ClearInventoryItemOverlays()
	}
	if !hello.SupportsFeature(protocol.ServerFeatureEntityMarkers) {
		r.session.ClearMarkers()
	}
	r.logger.Info().
		Str("server_id", hello.ServerID).
		Str("plugin_version", hello.PluginVersion).
		Uint32("feature_flags", hello.FeatureFlags).
		Msg("companion handshake enabled")
	return result
}

func (r *Runtime) logMalformedLocked(err error) {
	once := r.cfg.LogMalformedOncePerConnection
	if once && r.session.MalformedLogged() {
		return
	}
	if once {
		r.session.MarkMalformedLogged()
	}
	r.logger.Warn().Err(err).Msg("dropped malformed companion payload")
}
