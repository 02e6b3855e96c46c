// Package main provides the CLI entry point for videodec.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"

	"github.com/user/videodec/pkg/adapters/logger"
	"github.com/user/videodec/pkg/config"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:  "videodec",
		Usage: l10n.T("Decode video streams through a V4L2 hardware decoder"),
		Commands: []*cli.Command{
			decodeCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, l10n.F("Error: %v", err))
		os.Exit(1)
	}
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     l10n.T("Decode an MP4 file into PNG frames"),
		ArgsUsage: "<input.mp4>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   l10n.T("Output directory for decoded frames"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   l10n.T("Configuration file path (YAML)"),
			},
			&cli.StringFlag{
				Name:  "codec",
				Usage: l10n.T("Stream codec (h264, vp8, vp9, hevc)"),
			},
			&cli.StringFlag{
				Name:  "device",
				Usage: l10n.T("Decoder device path (default: scan /dev/video*)"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: l10n.T("Log level (debug, info, warn, error, quiet)"),
			},
		},
		Action: runDecode,
	}
}

func runDecode(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New(l10n.T("exactly one input file is required"))
	}
	input := c.Args().Get(0)

	cfg := config.Defaults()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if v := c.String("codec"); v != "" {
		cfg.Codec = v
	}
	if v := c.String("device"); v != "" {
		cfg.DevicePath = v
	}
	if v := c.String("output"); v != "" {
		cfg.OutputDir = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	log := logger.NewConsole(cfg.Level())

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)

	return decodeFile(input, cfg, log, interrupted)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: l10n.T("Show version information"),
		Action: func(c *cli.Context) error {
			fmt.Println(l10n.F("videodec version %s", version))
			return nil
		},
	}
}
