package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/danmuck/companion/internal/protocol"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// frameDoc is the YAML form of one frame. Exactly one body field is set.
type frameDoc struct {
	Version               int32            `yaml:"version"`
	Type                  string           `yaml:"type"`
	ClientHello           *clientHelloDoc  `yaml:"client_hello,omitempty"`
	ServerHello           *serverHelloDoc  `yaml:"server_hello,omitempty"`
	EntityMarkerDelta     *markerDeltaDoc  `yaml:"entity_marker_delta,omitempty"`
	InventoryItemOverlays *overlayBatchDoc `yaml:"inventory_item_overlays,omitempty"`
}

type clientHelloDoc struct {
	ModVersion   string `yaml:"mod_version"`
	Capabilities uint32 `yaml:"capabilities"`
}

type serverHelloDoc struct {
	ServerID      string `yaml:"server_id"`
	PluginVersion string `yaml:"plugin_version"`
	FeatureFlags  uint32 `yaml:"feature_flags"`
	// Signature is base64; nil means the section is absent.
	Signature *string `yaml:"signature,omitempty"`
}

type markerDeltaDoc struct {
	MarkerType int32   `yaml:"marker_type"`
	Add        []int32 `yaml:"add,flow"`
	Remove     []int32 `yaml:"remove,flow"`
}

type overlayBatchDoc struct {
	Overlays []overlayDoc `yaml:"overlays"`
}

type overlayDoc struct {
	Slot        int32  `yaml:"slot"`
	OverlayType int32  `yaml:"overlay_type"`
	DisplayText string `yaml:"display_text"`
}

var messageTypes = []protocol.MessageType{
	protocol.MessageClientHello,
	protocol.MessageServerHello,
	protocol.MessageEntityMarkerDelta,
	protocol.MessageInventoryItemOverlays,
}

func lookupTypeName(name string) (protocol.MessageType, bool) {
	for _, t := range messageTypes {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

func toDoc(f protocol.Frame) frameDoc {
	doc := frameDoc{Version: f.Version, Type: f.Type.String()}
	switch m := f.Message.(type) {
	case protocol.ClientHello:
		doc.ClientHello = &clientHelloDoc{ModVersion: m.ModVersion, Capabilities: m.Capabilities}
	case protocol.ServerHello:
		sh := &serverHelloDoc{ServerID: m.ServerID, PluginVersion: m.PluginVersion, FeatureFlags: m.FeatureFlags}
		if m.HasSignature() {
			sig := base64.StdEncoding.EncodeToString(m.Signature)
			sh.Signature = &sig
		}
		doc.ServerHello = sh
	case protocol.EntityMarkerDelta:
		doc.EntityMarkerDelta = &markerDeltaDoc{MarkerType: m.MarkerType, Add: m.Add, Remove: m.Remove}
	case protocol.InventoryItemOverlays:
		batch := &overlayBatchDoc{Overlays: make([]overlayDoc, 0, len(m.Overlays))}
		for _, o := range m.Overlays {
			batch.Overlays = append(batch.Overlays, overlayDoc(o))
		}
		doc.InventoryItemOverlays = batch
	}
	return doc
}

func (d frameDoc) message() (protocol.Message, error) {
	t, ok := lookupTypeName(d.Type)
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", d.Type)
	}
	switch t {
	case protocol.MessageClientHello:
		if d.ClientHello == nil {
			return nil, fmt.Errorf("client_hello body is required")
		}
		return protocol.ClientHello{ModVersion: d.ClientHello.ModVersion, Capabilities: d.ClientHello.Capabilities}, nil
	case protocol.MessageServerHello:
		if d.ServerHello == nil {
			return nil, fmt.Errorf("server_hello body is required")
		}
		sh := protocol.ServerHello{
			ServerID:      d.ServerHello.ServerID,
			PluginVersion: d.ServerHello.PluginVersion,
			FeatureFlags:  d.ServerHello.FeatureFlags,
		}
		if d.ServerHello.Signature != nil {
			sig, err := base64.StdEncoding.DecodeString(*d.ServerHello.Signature)
			if err != nil {
				return nil, fmt.Errorf("invalid signature: %w", err)
			}
			sh.Signature = protocol.Signature(append([]byte{}, sig...))
		}
		return sh, nil
	case protocol.MessageEntityMarkerDelta:
		if d.EntityMarkerDelta == nil {
			return nil, fmt.Errorf("entity_marker_delta body is required")
		}
		return protocol.EntityMarkerDelta{
			MarkerType: d.EntityMarkerDelta.MarkerType,
			Add:        d.EntityMarkerDelta.Add,
			Remove:     d.EntityMarkerDelta.Remove,
		}, nil
	default:
		var batch protocol.InventoryItemOverlays
		if d.InventoryItemOverlays != nil {
			for _, o := range d.InventoryItemOverlays.Overlays {
				batch.Overlays = append(batch.Overlays, protocol.InventoryItemOverlay(o))
			}
		}
		return batch, nil
	}
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode one payload and print it as YAML",
		ArgsUsage: "[payload|-]",
		Flags:     []cli.Flag{hexFlag},
		Action: func(c *cli.Context) error {
			in, err := readInput(c)
			if err != nil {
				return err
			}
			payload, err := parsePayload(in, c.Bool("hex"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			f, err := protocol.Decode(payload)
			if err != nil {
				return cli.Exit(fmt.Sprintf("%s (%s)", err, protocol.FrameErrorKindOf(err)), 1)
			}
			return writeYAML(c.App.Writer, toDoc(f))
		},
	}
}

func encodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Encode a YAML frame description into a payload",
		ArgsUsage: "[file|-]",
		Flags:     []cli.Flag{hexFlag},
		Action: func(c *cli.Context) error {
			var (
				data []byte
				err  error
			)
			if path := c.Args().First(); path != "" && path != "-" {
				data, err = os.ReadFile(path)
			} else {
				var s string
				s, err = readInput(c)
				data = []byte(s)
			}
			if err != nil {
				return err
			}
			var doc frameDoc
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return cli.Exit(fmt.Sprintf("parse frame: %v", err), 2)
			}
			msg, err := doc.message()
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			payload, err := protocol.Encode(msg)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			_, err = fmt.Fprintln(c.App.Writer, formatPayload(payload, c.Bool("hex")))
			return err
		},
	}
}
