package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	m "github.com/blockcast/go-amt/messages"
	"github.com/urfave/cli/v2"
)

var decodeCommand = &cli.Command{
	Name:      "decode",
	Usage:     "Decode a hex encoded AMT message",
	UsageText: "amt_gw decode HEX",
	Action:    decodeCmd,
}

func decodeCmd(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one HEX argument", 1)
	}
	data, err := hex.DecodeString(strings.Join(strings.Fields(c.Args().First()), ""))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid hex: %v", err), 1)
	}
	msg, err := m.Decode(data)
	if msg != nil {
		fmt.Fprintf(c.App.Writer, "%s %+v\n", msg.Type(), msg)
	}
	if errors.Is(err, m.ErrChecksumMismatch) {
		logger.Warn().Err(err).Msg("decoded with bad checksum")
		return nil
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("decode: %v", err), 1)
	}
	return nil
}
