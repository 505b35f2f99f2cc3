package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var logger = zerolog.Nop()

func setupLogger(c *cli.Context) error {
	level := zerolog.InfoLevel
	if c.Bool("debug") {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
	return nil
}

func main() {
	app := &cli.App{
		Name:  "amt_gw",
		Usage: "AMT gateway and message decoder",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: []string{"AMT_DEBUG"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			joinCommand,
			decodeCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatal().Err(err).Msg("amt_gw")
	}
}
