package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/companion/internal/attestation"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

type manifestCheckDoc struct {
	Outcome       string `yaml:"outcome"`
	Signed        bool   `yaml:"signed"`
	BuildID       string `yaml:"build_id"`
	ClientVersion string `yaml:"client_version"`
}

// outcomeRecorder keeps the last attestation outcome.
type outcomeRecorder struct {
	outcome string
}

func (r *outcomeRecorder) RecordAttestation(outcome string) {
	r.outcome = outcome
}

func manifestCommand() *cli.Command {
	return &cli.Command{
		Name:  "manifest",
		Usage: "Sign or verify " + attestation.ManifestFile,
		Subcommands: []*cli.Command{
			{
				Name:  "sign",
				Usage: "Hash an artifact and write a signed build manifest",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true, Usage: "Base64 Ed25519 seed, or @file"},
					&cli.StringFlag{Name: "artifact", Required: true, Usage: "Artifact to hash"},
					&cli.StringFlag{Name: "mod-version", Required: true},
					&cli.StringFlag{Name: "build-id", Required: true},
					&cli.TimestampFlag{Name: "issued-at", Layout: time.RFC3339, Usage: "Issue time (default: now)"},
					&cli.StringFlag{Name: "out", Usage: "Write the manifest here instead of stdout"},
				},
				Action: manifestSignAction,
			},
			{
				Name:  "verify",
				Usage: "Load a manifest directory the way the client does",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Required: true, Usage: "Directory holding " + attestation.ManifestFile},
					&cli.StringFlag{Name: "artifact", Required: true, Usage: "Artifact the manifest describes"},
					&cli.StringFlag{Name: "mod-version", Required: true},
					&cli.StringFlag{Name: "public-key", Value: attestation.PinnedPublicKeySPKI, Usage: "Ed25519 verification key"},
					&cli.BoolFlag{Name: "verbose", Usage: "Log rejection reasons to stderr"},
				},
				Action: manifestVerifyAction,
			},
		},
	}
}

func manifestSignAction(c *cli.Context) error {
	priv, err := loadPrivateKey(c.String("key"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	issuedAt := time.Now()
	if ts := c.Timestamp("issued-at"); ts != nil {
		issuedAt = *ts
	}
	m, err := attestation.NewManifest(priv, c.String("mod-version"), c.String("build-id"), c.String("artifact"), issuedAt)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var w io.Writer = c.App.Writer
	if out := c.String("out"); out != "" {
		f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return m.Encode(w)
}

func manifestVerifyAction(c *cli.Context) error {
	logger := zerolog.Nop()
	if c.Bool("verbose") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: c.App.ErrWriter}).With().Timestamp().Logger()
	}
	rec := &outcomeRecorder{}
	att := attestation.Loader{
		FS:           attestation.DirFS(c.String("dir")),
		Verifier:     attestation.NewVerifierWithKey(c.String("public-key"), clock.New()),
		ArtifactPath: c.String("artifact"),
		Logger:       logger,
		Metrics:      rec,
	}.Load(c.String("mod-version"))

	if err := writeYAML(c.App.Writer, manifestCheckDoc{
		Outcome:       rec.outcome,
		Signed:        att.IsSigned(),
		BuildID:       att.BuildID(),
		ClientVersion: att.StructuredClientVersion(),
	}); err != nil {
		return err
	}
	if rec.outcome != attestation.OutcomeSigned {
		return cli.Exit(fmt.Sprintf("manifest not accepted: %s", rec.outcome), 1)
	}
	return nil
}
