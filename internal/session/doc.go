// Package session owns per-connection companion state.
//
// Ownership boundary:
// - handshake gate (Disabled/Enabled) and its enable decision
// - connection-scoped snapshots populated from accepted payloads
// - ClientHello retry budget and backoff
//
// Nothing here is internally synchronised. The client runtime guards every
// Gate and Session with its own lock.
package session
