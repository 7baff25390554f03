package bridge

import (
	"errors"
	"net"
	"sync"

	"github.com/danmuck/companion/internal/protocol/frame"
)

var ErrNotConnected = errors.New("bridge: not connected")

// Link is the client.Sender for a connection that comes and goes. It is
// created before the runtime and re-attached on every reconnect.
type Link struct {
	mu     sync.Mutex
	conn   net.Conn
	limits frame.Limits
}

func NewLink(limits frame.Limits) *Link {
	if limits.MaxPayloadBytes <= 0 {
		limits = frame.DefaultLimits()
	}
	return &Link{limits: limits}
}

func (l *Link) Attach(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = conn
}

func (l *Link) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = nil
}

func (l *Link) CanSend() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send writes one framed payload. Writes are serialised so envelopes never
// interleave.
func (l *Link) Send(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	return frame.WritePayload(l.conn, payload, l.limits)
}
