// Package bridge carries companion payloads over a TCP stream. Each payload
// travels in a frame envelope; the client side drives a client.Runtime and
// the peer side is a scripted server used for local testing.
package bridge
