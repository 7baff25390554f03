// Package protocol owns the companion wire contract.
//
// Ownership boundary:
// - message variants and the message-type registry
// - per-field size bounds and the global packet ceiling
// - Encode/Decode between messages and exact binary frames
//
// Primitive encoding lives in protocol/wire; stream transport of whole
// payloads lives in protocol/frame.
package protocol
