package bridge

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/danmuck/companion/internal/auth"
	"github.com/danmuck/companion/internal/protocol"
	"github.com/danmuck/companion/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Peer is a scripted companion server. On each connection it waits for a
// ClientHello, answers with Hello, then pushes Overlays and Markers.
type Peer struct {
	Hello protocol.ServerHello
	// SigningKey signs Hello when set.
	SigningKey ed25519.PrivateKey
	Overlays   []protocol.InventoryItemOverlay
	Markers    []protocol.EntityMarkerDelta
	Limits     frame.Limits
	Logger     zerolog.Logger
}

// Script returns the encoded payloads sent after the ClientHello.
func (p Peer) Script() ([][]byte, error) {
	hello := p.Hello
	if p.SigningKey != nil {
		hello = auth.SignServerHello(p.SigningKey, hello)
	}
	msgs := []protocol.Message{hello}
	if len(p.Overlays) > 0 {
		msgs = append(msgs, protocol.InventoryItemOverlays{Overlays: p.Overlays})
	}
	for _, m := range p.Markers {
		msgs = append(msgs, m)
	}

	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		b, err := protocol.Encode(m)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
		}
		out = append(out, b)
	}
	return out, nil
}

// ServeConn plays the script on conn and then drains it until the client
// hangs up. It returns the ClientHello it received.
func (p Peer) ServeConn(conn net.Conn) (protocol.ClientHello, error) {
	defer conn.Close()
	limits := p.limits()

	payload, err := frame.ReadPayload(conn, limits)
	if err != nil {
		return protocol.ClientHello{}, fmt.Errorf("read client hello: %w", err)
	}
	f, err := protocol.Decode(payload)
	if err != nil {
		return protocol.ClientHello{}, err
	}
	hello, ok := f.Message.(protocol.ClientHello)
	if !ok {
		return protocol.ClientHello{}, fmt.Errorf("expected client_hello, got %s", f.Type)
	}
	p.Logger.Info().
		Str("mod_version", hello.ModVersion).
		Uint32("capabilities", hello.Capabilities).
		Msg("client hello received")

	script, err := p.Script()
	if err != nil {
		return hello, err
	}
	for _, b := range script {
		if err := frame.WritePayload(conn, b, limits); err != nil {
			return hello, fmt.Errorf("write payload: %w", err)
		}
	}

	for {
		if _, err := frame.ReadPayload(conn, limits); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return hello, nil
			}
			return hello, err
		}
	}
}

// Serve accepts connections on ln until ctx is done.
func (p Peer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer stop()
			if _, err := p.ServeConn(conn); err != nil {
				p.Logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("peer connection failed")
			}
		}()
	}
}

func (p Peer) limits() frame.Limits {
	if p.Limits.MaxPayloadBytes <= 0 {
		return frame.DefaultLimits()
	}
	return p.Limits
}
