package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/danmuck/companion/internal/bridge"
	"github.com/danmuck/companion/internal/config"
	"github.com/danmuck/companion/internal/logging"
	"github.com/danmuck/companion/internal/protocol"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a scripted companion server for local testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: "127.0.0.1:7780"},
			&cli.StringFlag{Name: "server-id", Value: config.OfficialAllowedServerID},
			&cli.StringFlag{Name: "plugin", Value: "dev"},
			&cli.UintFlag{
				Name:  "flags",
				Value: uint(protocol.ServerFeatureInventoryItemOverlays | protocol.ServerFeatureEntityMarkers),
			},
			&cli.StringFlag{Name: "key", Usage: "Sign the hello with this base64 Ed25519 seed, or @file"},
			&cli.StringSliceFlag{Name: "overlay", Usage: "Overlay as slot:type:text (repeatable)"},
			&cli.IntSliceFlag{Name: "same-gang", Usage: "Entity ids marked as same gang"},
			&cli.IntSliceFlag{Name: "peaceful-mining", Usage: "Entity ids marked as peaceful mining pass-through"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	peer, err := peerFromFlags(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	logging.ConfigureRuntime()
	peer.Logger = logging.New("peer")

	ln, err := net.Listen("tcp", c.String("listen"))
	if err != nil {
		return err
	}
	peer.Logger.Info().Str("addr", ln.Addr().String()).Msg("scripted companion server listening")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return peer.Serve(ctx, ln)
}

func peerFromFlags(c *cli.Context) (bridge.Peer, error) {
	peer := bridge.Peer{
		Hello: protocol.ServerHello{
			ServerID:      c.String("server-id"),
			PluginVersion: c.String("plugin"),
			FeatureFlags:  uint32(c.Uint("flags")),
		},
	}
	if c.IsSet("key") {
		priv, err := loadPrivateKey(c.String("key"))
		if err != nil {
			return bridge.Peer{}, err
		}
		peer.SigningKey = priv
	}
	for _, raw := range c.StringSlice("overlay") {
		o, err := parseOverlay(raw)
		if err != nil {
			return bridge.Peer{}, err
		}
		peer.Overlays = append(peer.Overlays, o)
	}
	if ids := toInt32s(c.IntSlice("same-gang")); len(ids) > 0 {
		peer.Markers = append(peer.Markers, protocol.EntityMarkerDelta{MarkerType: protocol.MarkerTypeSameGang, Add: ids, Remove: []int32{}})
	}
	if ids := toInt32s(c.IntSlice("peaceful-mining")); len(ids) > 0 {
		peer.Markers = append(peer.Markers, protocol.EntityMarkerDelta{MarkerType: protocol.MarkerTypePeacefulMiningPassThrough, Add: ids, Remove: []int32{}})
	}
	if _, err := peer.Script(); err != nil {
		return bridge.Peer{}, err
	}
	return peer, nil
}

func parseOverlay(raw string) (protocol.InventoryItemOverlay, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return protocol.InventoryItemOverlay{}, fmt.Errorf("overlay %q: want slot:type:text", raw)
	}
	slot, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return protocol.InventoryItemOverlay{}, fmt.Errorf("overlay %q: slot: %w", raw, err)
	}
	typ, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return protocol.InventoryItemOverlay{}, fmt.Errorf("overlay %q: type: %w", raw, err)
	}
	return protocol.InventoryItemOverlay{Slot: int32(slot), OverlayType: int32(typ), DisplayText: parts[2]}, nil
}

func toInt32s(in []int) []int32 {
	out := make([]int32, 0, len(in))
	for _, v := range in {
		out = append(out, int32(v))
	}
	return out
}
