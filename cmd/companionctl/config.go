package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/companion/internal/config"
	"github.com/urfave/cli/v2"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create or validate a companion config",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write a commented config template",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					path := configPathArg(c)
					if err := config.WriteTemplate(path, c.Bool("force")); err != nil {
						return cli.Exit(err.Error(), 1)
					}
					_, err := fmt.Fprintf(c.App.Writer, "wrote config template to %s\n", path)
					return err
				},
			},
			{
				Name:      "validate",
				Usage:     "Report every invalid entry in a config file",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					path := configPathArg(c)
					data, err := os.ReadFile(path)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					cfg, err := config.Decode(data)
					if err != nil {
						return cli.Exit(fmt.Sprintf("parse %s: %v", path, err), 1)
					}
					if err := cfg.Validate(); err != nil {
						if errors.Is(err, config.ErrInvalidConfig) {
							return cli.Exit(err.Error(), 1)
						}
						return err
					}
					_, err = fmt.Fprintf(c.App.Writer, "%s is valid\n", path)
					return err
				},
			},
		},
	}
}

func configPathArg(c *cli.Context) string {
	if p := c.Args().First(); p != "" {
		return p
	}
	return config.DefaultFileName
}
