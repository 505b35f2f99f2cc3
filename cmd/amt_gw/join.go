package main

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	amt "github.com/blockcast/go-amt"
	m "github.com/blockcast/go-amt/messages"
	"github.com/urfave/cli/v2"
)

var joinCommand = &cli.Command{
	Name:      "join",
	Usage:     "Join a multicast group, natively or through an AMT relay",
	UsageText: "amt_gw join --relay ADDR --group ADDR [--source ADDR] [--port PORT]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "relay",
			Usage:   "AMT relay `ADDR`",
			EnvVars: []string{"AMT_RELAY"},
		},
		&cli.StringFlag{
			Name:    "source",
			Usage:   "Source `ADDR` for source-specific multicast",
			EnvVars: []string{"AMT_SOURCE"},
		},
		&cli.StringFlag{
			Name:     "group",
			Usage:    "Multicast group `ADDR`",
			EnvVars:  []string{"AMT_GROUP"},
			Required: true,
		},
		&cli.UintFlag{
			Name:    "port",
			Usage:   "Group UDP `PORT`, 0 accepts any port",
			EnvVars: []string{"AMT_PORT"},
		},
		&cli.StringFlag{
			Name:    "iface",
			Usage:   "Interface `NAME` to join on",
			EnvVars: []string{"AMT_IFACE"},
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Wait for native multicast and for each relay response",
			Value:   5 * time.Second,
			EnvVars: []string{"AMT_TIMEOUT"},
		},
	},
	Action: joinCmd,
}

func joinCmd(c *cli.Context) error {
	group, err := netip.ParseAddr(c.String("group"))
	if err != nil || !group.Is4() || !group.IsMulticast() {
		return cli.Exit(fmt.Sprintf("invalid group %q", c.String("group")), 1)
	}
	port := c.Uint("port")
	if port > 0xFFFF {
		return cli.Exit(fmt.Sprintf("invalid port %d", port), 1)
	}
	mc := &amt.MulticastConn{
		GroupAddr: group,
		GroupPort: uint16(port),
		TTL:       64,
		Timeout:   c.Duration("timeout"),
		Logger:    &logger,
	}
	if s := c.String("source"); s != "" {
		if mc.SrcAddr, err = netip.ParseAddr(s); err != nil || !mc.SrcAddr.Is4() {
			return cli.Exit(fmt.Sprintf("invalid source %q", s), 1)
		}
	}
	if r := c.String("relay"); r != "" {
		relay, err := netip.ParseAddr(r)
		if err != nil || !relay.Is4() {
			return cli.Exit(fmt.Sprintf("invalid relay %q", r), 1)
		}
		mc.RelayAddr = *net.UDPAddrFromAddrPort(netip.AddrPortFrom(relay, m.DefaultPort))
	}
	if name := c.String("iface"); name != "" {
		if mc.IFace, err = net.InterfaceByName(name); err != nil {
			return cli.Exit(fmt.Sprintf("interface %q: %v", name, err), 1)
		}
	}

	if err := mc.Open(); err != nil {
		return err
	}
	logger.Info().
		Stringer("group", group).
		Bool("tunnel", mc.IsUsingTunnel()).
		Stringer("local", mc.LocalAddr()).
		Msg("joined")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Stringer("signal", sig).Msg("leaving group")
		if err := mc.Close(); err != nil {
			logger.Warn().Err(err).Msg("close")
		}
	}()

	buf := make([]byte, 65536)
	for {
		n, src, err := mc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		logger.Info().Stringer("src", src).Int("len", n).Hex("data", buf[:n]).Msg("datagram")
	}
}
