package session

import (
	"strings"

	"github.com/danmuck/companion/internal/auth"
	"github.com/danmuck/companion/internal/protocol"
)

// EnableResult is the outcome of Gate.TryEnable. Rejections are values,
// never errors.
type EnableResult uint8

const (
	Enabled EnableResult = iota + 1
	AlreadyEnabled
	ProtocolMismatch
	ServerNotAllowed
	SignatureInvalid
)

func (r EnableResult) String() string {
	switch r {
	case Enabled:
		return "enabled"
	case AlreadyEnabled:
		return "already_enabled"
	case ProtocolMismatch:
		return "protocol_mismatch"
	case ServerNotAllowed:
		return "server_not_allowed"
	case SignatureInvalid:
		return "signature_invalid"
	default:
		return "unknown"
	}
}

// Enabled reports whether the gate is open after this result.
func (r EnableResult) Enabled() bool {
	return r == Enabled || r == AlreadyEnabled
}

// UserVisible reports whether the result should be surfaced to the player.
func (r EnableResult) UserVisible() bool {
	return r == ServerNotAllowed
}

// Gate decides whether decoded companion messages are acted on. The zero
// value is Disabled.
type Gate struct {
	enabled bool
}

func (g *Gate) IsEnabled() bool {
	return g.enabled
}

func (g *Gate) Reset() {
	g.enabled = false
}

// ShouldProcessIncoming admits everything once enabled. While disabled only
// server-to-client handshake messages pass; the rest are dropped, not queued.
func (g *Gate) ShouldProcessIncoming(msg protocol.Message) bool {
	if g.enabled {
		return true
	}
	if msg == nil {
		return false
	}
	info, ok := protocol.Lookup(msg.Type())
	return ok && info.Handshake && info.Direction == protocol.ServerToClient
}

// TryEnable evaluates a ServerHello. Checks run in order: protocol version,
// allow-list, then signature. A nil check counts as a failed signature.
func (g *Gate) TryEnable(version int32, hello protocol.ServerHello, allowedServerIDs []string, check auth.SignatureCheck) EnableResult {
	if g.enabled {
		return AlreadyEnabled
	}
	if version != protocol.ProtocolVersion {
		return ProtocolMismatch
	}
	if !ServerAllowed(hello.ServerID, allowedServerIDs) {
		return ServerNotAllowed
	}
	if check == nil || !check.VerifyServerHello(hello) {
		return SignatureInvalid
	}
	g.enabled = true
	return Enabled
}

// ServerAllowed compares ids after trimming and lower-casing both sides.
func ServerAllowed(serverID string, allowed []string) bool {
	id := NormalizeServerID(serverID)
	for _, candidate := range allowed {
		if NormalizeServerID(candidate) == id {
			return true
		}
	}
	return false
}

func NormalizeServerID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
