package main

import (
	"fmt"

	"github.com/danmuck/companion/internal/auth"
	"github.com/danmuck/companion/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

type helloCheckDoc struct {
	ServerID         string `yaml:"server_id"`
	Policy           string `yaml:"policy"`
	CanonicalPayload string `yaml:"canonical_payload"`
	Trusted          bool   `yaml:"trusted"`
	Verified         bool   `yaml:"verified"`
	Reason           string `yaml:"reason,omitempty"`
}

func helloCommand() *cli.Command {
	return &cli.Command{
		Name:  "hello",
		Usage: "Sign or verify ServerHello payloads",
		Subcommands: []*cli.Command{
			{
				Name:  "sign",
				Usage: "Encode a ServerHello, signed when --key is given",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "Base64 Ed25519 seed, or @file"},
					&cli.StringFlag{Name: "server-id", Required: true},
					&cli.StringFlag{Name: "plugin", Value: "dev"},
					&cli.UintFlag{Name: "flags", Usage: "Feature flag bits"},
					hexFlag,
				},
				Action: helloSignAction,
			},
			{
				Name:      "verify",
				Usage:     "Check a ServerHello payload against trusted keys",
				ArgsUsage: "[payload|-]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "public-key", Usage: "Trusted key in any accepted form (repeatable)"},
					&cli.StringFlag{Name: "policy", Value: string(auth.PolicyEnforce), Usage: "OFF, LOG_ONLY or ENFORCE"},
					hexFlag,
				},
				Action: helloVerifyAction,
			},
		},
	}
}

func helloSignAction(c *cli.Context) error {
	hello := protocol.ServerHello{
		ServerID:      c.String("server-id"),
		PluginVersion: c.String("plugin"),
		FeatureFlags:  uint32(c.Uint("flags")),
	}
	if c.IsSet("key") {
		priv, err := loadPrivateKey(c.String("key"))
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		hello = auth.SignServerHello(priv, hello)
	}
	payload, err := protocol.Encode(hello)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	_, err = fmt.Fprintln(c.App.Writer, formatPayload(payload, c.Bool("hex")))
	return err
}

func helloVerifyAction(c *cli.Context) error {
	policy, err := auth.ParsePolicy(c.String("policy"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
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
		return cli.Exit(err.Error(), 1)
	}
	hello, ok := f.Message.(protocol.ServerHello)
	if !ok {
		return cli.Exit(fmt.Sprintf("payload is %s, not server_hello", f.Type), 1)
	}

	decision := auth.NewHelloVerifier(policy, c.StringSlice("public-key"), zerolog.Nop(), nil).Check(hello)
	doc := helloCheckDoc{
		ServerID:         hello.ServerID,
		Policy:           policy.String(),
		CanonicalPayload: auth.CanonicalHelloPayload(hello),
		Trusted:          decision.Trusted,
		Verified:         decision.Verified,
		Reason:           decision.Reason,
	}
	if err := writeYAML(c.App.Writer, doc); err != nil {
		return err
	}
	if !decision.Trusted {
		return cli.Exit("server hello is not trusted", 1)
	}
	return nil
}
