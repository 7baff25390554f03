// companionctl is the operator tool for the companion protocol: it decodes
// and encodes frames, manages signing keys, signs and verifies server
// hellos and build manifests, and runs a scripted test server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// version is set via ldflags at build time.
var version = "dev"

func newApp() *cli.App {
	return &cli.App{
		Name:    "companionctl",
		Usage:   "Companion protocol tooling",
		Version: version,
		// Errors are returned to main so tests can run the app in-process.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			decodeCommand(),
			encodeCommand(),
			keygenCommand(),
			helloCommand(),
			manifestCommand(),
			configCommand(),
			serveCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "companionctl: %v\n", err)
		var coder cli.ExitCoder
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}
