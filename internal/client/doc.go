// Package client wires the codec, handshake gate, signature verifier and
// build attestation into one runtime per process.
//
// A Runtime is constructed explicitly and passed to whatever drives it
// (a game loop, a test, or companiond). Every exported method takes the
// runtime lock, so callbacks from different goroutines are serialised.
package client
