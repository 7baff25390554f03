package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/companion/internal/client"
	"github.com/danmuck/companion/internal/protocol"
	"github.com/danmuck/companion/internal/protocol/frame"
	"github.com/rs/zerolog"
)

type Config struct {
	ServerAddr     string
	DialTimeout    time.Duration
	ReconnectDelay time.Duration
	// TickInterval paces ClientHello retries.
	TickInterval time.Duration
	Limits       frame.Limits
	Clock        clock.Clock
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:    5 * time.Second,
		ReconnectDelay: 2 * time.Second,
		TickInterval:   50 * time.Millisecond,
		Limits:         frame.DefaultLimits(),
	}
}

// Bridge connects a client.Runtime to a companion server over TCP.
type Bridge struct {
	cfg     Config
	runtime *client.Runtime
	link    *Link
	logger  zerolog.Logger
	clock   clock.Clock
}

// New wires rt to link. rt must have been built with link as its Sender.
func New(cfg Config, rt *client.Runtime, link *Link, logger zerolog.Logger) *Bridge {
	defaults := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.Limits.MaxPayloadBytes <= 0 {
		cfg.Limits = defaults.Limits
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Bridge{cfg: cfg, runtime: rt, link: link, logger: logger, clock: clk}
}

// Run dials the server and serves each connection until ctx is done,
// reconnecting after ReconnectDelay.
func (b *Bridge) Run(ctx context.Context) error {
	if b.cfg.ServerAddr == "" {
		return errors.New("bridge: server address is required")
	}
	dialer := net.Dialer{Timeout: b.cfg.DialTimeout}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", b.cfg.ServerAddr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn().Err(err).Str("addr", b.cfg.ServerAddr).Msg("companion server dial failed")
		} else if err := b.ServeConn(ctx, conn); err != nil {
			b.logger.Warn().Err(err).Str("addr", b.cfg.ServerAddr).Msg("companion connection closed with error")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-b.clock.After(b.cfg.ReconnectDelay):
		}
	}
}

// ServeConn runs one connection: join, read loop, then disconnect. It
// returns nil when the peer closes the stream or ctx is cancelled.
func (b *Bridge) ServeConn(ctx context.Context, conn net.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	remote := conn.RemoteAddr().String()
	b.logger.Info().
		Str("remote", remote).
		Bool("payload_codec_fallback", b.runtime.ShouldOverrideCodec(protocol.ChannelID)).
		Msg("companion connection established")

	b.link.Attach(conn)
	b.runtime.OnJoin()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer wg.Done()
		b.tickLoop(ctx)
	}()

	err := b.readLoop(conn)
	cancelled := ctx.Err() != nil
	cancel()
	wg.Wait()

	b.link.Detach()
	b.runtime.OnDisconnect()
	b.logger.Info().Str("remote", remote).Msg("companion connection closed")

	if cancelled {
		return nil
	}
	return err
}

func (b *Bridge) readLoop(conn net.Conn) error {
	for {
		payload, err := frame.ReadPayload(conn, b.cfg.Limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read payload: %w", err)
		}
		out := b.runtime.HandlePayload(payload)
		if out.Dropped != "" {
			b.logger.Debug().Str("type", out.Type.String()).Str("reason", out.Dropped).Msg("payload dropped")
		}
	}
}

func (b *Bridge) tickLoop(ctx context.Context) {
	ticker := b.clock.Ticker(b.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runtime.Tick()
		}
	}
}
