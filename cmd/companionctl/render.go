package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var hexFlag = &cli.BoolFlag{
	Name:  "hex",
	Usage: "Read and write payloads as hex instead of base64",
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func formatPayload(b []byte, asHex bool) string {
	if asHex {
		return hex.EncodeToString(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func parsePayload(s string, asHex bool) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if asHex {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return b, nil
}

// readInput returns the first argument, or stdin when the argument is
// missing or "-".
func readInput(c *cli.Context) (string, error) {
	if arg := c.Args().First(); arg != "" && arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(c.App.Reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
