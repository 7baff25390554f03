package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/companion/internal/auth"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/ssh"
)

type keyDoc struct {
	PrivateKey   string `yaml:"private_key"`
	PublicSPKI   string `yaml:"public_key_spki"`
	PublicRaw    string `yaml:"public_key_raw"`
	PublicSSHKey string `yaml:"public_key_ssh"`
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate an Ed25519 signing key and print every accepted public key form",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "Also write the private key to this file (mode 0600)"},
		},
		Action: func(c *cli.Context) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			doc, err := describeKey(pub, priv)
			if err != nil {
				return err
			}
			if out := c.String("out"); out != "" {
				if err := os.WriteFile(out, []byte(doc.PrivateKey+"\n"), 0o600); err != nil {
					return err
				}
			}
			return writeYAML(c.App.Writer, doc)
		},
	}
}

func describeKey(pub ed25519.PublicKey, priv ed25519.PrivateKey) (keyDoc, error) {
	spki, err := auth.EncodeSPKIKey(pub)
	if err != nil {
		return keyDoc{}, err
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return keyDoc{}, err
	}
	return keyDoc{
		PrivateKey:   base64.StdEncoding.EncodeToString(priv.Seed()),
		PublicSPKI:   spki,
		PublicRaw:    "ed25519:" + base64.StdEncoding.EncodeToString(pub),
		PublicSSHKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))),
	}, nil
}

// loadPrivateKey accepts a base64 seed or full private key, or "@path" to
// read one from a file.
func loadPrivateKey(value string) (ed25519.PrivateKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("signing key is required")
	}
	if path, ok := strings.CutPrefix(value, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		value = strings.TrimSpace(string(data))
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("invalid signing key length %d", len(raw))
	}
}
