package amt

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	m "github.com/blockcast/go-amt/messages"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/net/ipv4"
)

const (
	defaultQueryInterval = 125 * time.Second
	leaveTimeout         = 5 * time.Second
)

// Gateway is the gateway side of an AMT tunnel for a single IPv4 group.
type Gateway struct {
	RelayAddr  net.Addr
	SourceAddr net.IP
	GroupAddr  net.IP
	MTU        int
	// Timeout bounds each wait for a relay response. Zero waits forever.
	Timeout time.Duration
	Logger  *zerolog.Logger

	conn         *ipv4.PacketConn
	cm           *ipv4.ControlMessage
	nonce        uint32
	relay        netip.Addr
	leave        atomic.Bool
	intervalTime atomic.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

var nopLogger = zerolog.Nop()

func (g *Gateway) log() *zerolog.Logger {
	if g.Logger == nil {
		return &nopLogger
	}
	return g.Logger
}

func (g *Gateway) send(msg m.Message) error {
	data, err := m.Encode(msg)
	if err != nil {
		return err
	}
	if len(data) > m.MaxPayloadLen {
		g.log().Warn().Stringer("type", msg.Type()).Int("len", len(data)).Msg("amt message exceeds safe payload size")
	}
	_, err = g.conn.WriteTo(data, g.cm, g.RelayAddr)
	return err
}

func (g *Gateway) sendDiscovery() error {
	return g.send(&m.RelayDiscoveryMessage{Nonce: g.nonce})
}

func (g *Gateway) sendRequest() error {
	return g.send(&m.RequestMessage{Protocol: m.IGMPv3, Nonce: g.nonce})
}

// groupRecord builds the report the gateway answers a query with.
func (g *Gateway) groupRecord(t m.RecordType) (m.GroupRecord, error) {
	group, ok := netip.AddrFromSlice(g.GroupAddr.To4())
	if !ok {
		return m.GroupRecord{}, fmt.Errorf("group %v is not an IPv4 address", g.GroupAddr)
	}
	var sources []netip.Addr
	if src, ok := netip.AddrFromSlice(g.SourceAddr.To4()); ok && !src.IsUnspecified() {
		sources = append(sources, src)
	}
	return m.NewGroupRecord(t, group, sources...), nil
}

func (g *Gateway) sendMembershipUpdate(query *m.MembershipQueryMessage, t m.RecordType) error {
	record, err := g.groupRecord(t)
	if err != nil {
		return err
	}
	return g.send(&m.MembershipUpdateMessage{
		ResponseMAC: query.ResponseMAC,
		Nonce:       g.nonce,
		Record:      record,
	})
}

func (g *Gateway) setDeadline() error {
	if g.Timeout <= 0 {
		return nil
	}
	return g.conn.SetReadDeadline(time.Now().Add(g.Timeout))
}

// await reads from the relay until a message of type want arrives. Messages
// the codec does not handle, and queries whose group record fails the
// checksum, are logged and dropped.
func (g *Gateway) await(buffer []byte, want m.MessageType) (m.Message, error) {
	for {
		if err := g.setDeadline(); err != nil {
			return nil, err
		}
		n, _, _, err := g.conn.ReadFrom(buffer)
		if err != nil {
			return nil, fmt.Errorf("Error reading from connection: %w", err)
		}
		msg, err := m.Decode(buffer[:n])
		switch {
		case errors.Is(err, m.ErrUnsupportedMessageType), errors.Is(err, m.ErrChecksumMismatch):
			g.log().Debug().Err(err).Msg("dropping amt message")
			continue
		case err != nil:
			return nil, err
		}
		if msg.Type() != want {
			return nil, fmt.Errorf("Expected %s, got %s", want, msg.Type())
		}
		return msg, nil
	}
}

func (g *Gateway) Open() (err error) {
	g.cm = &ipv4.ControlMessage{}
	g.conn, err = setupSocket()
	if err != nil {
		return fmt.Errorf("Error setting up socket: %w", err)
	}
	defer func() {
		if err != nil {
			g.conn.Close()
			g.conn = nil
		}
	}()
	if g.MTU <= 0 {
		g.MTU = m.MaxPayloadLen
	}
	g.done = make(chan struct{})
	g.intervalTime.Store(defaultQueryInterval)
	var nonce [m.NonceLen]byte
	if _, err = rand.Read(nonce[:]); err != nil {
		return err
	}
	g.nonce = binary.BigEndian.Uint32(nonce[:])

	if err = g.sendDiscovery(); err != nil {
		return fmt.Errorf("Error sending discovery: %w", err)
	}
	buffer := make([]byte, g.MTU)
	msg, err := g.await(buffer, m.RelayAdvertisementType)
	if err != nil {
		return fmt.Errorf("Expected relay advertisement after discovery: %w", err)
	}
	adv := msg.(*m.RelayAdvertisementMessage)
	if adv.Nonce != g.nonce {
		return fmt.Errorf("relay advertisement nonce %#08x does not match discovery nonce %#08x", adv.Nonce, g.nonce)
	}
	g.relay = adv.RelayAddr
	g.log().Info().Stringer("relay", adv.RelayAddr).Msg("relay advertised")

	if err = g.sendRequest(); err != nil {
		return fmt.Errorf("Error sending request: %w", err)
	}
	msg, err = g.await(buffer, m.MembershipQueryType)
	if err != nil {
		return fmt.Errorf("Expected membership query after request: %w", err)
	}
	if err = g.handleMembershipQuery(msg.(*m.MembershipQueryMessage)); err != nil {
		return err
	}
	go g.refresh()
	return g.conn.SetReadDeadline(time.Time{})
}

// refresh keeps the tunnel state alive on the relay by re-sending Requests
// a little faster than the relay's query interval.
func (g *Gateway) refresh() {
	for {
		timer := time.NewTimer(time.Duration(float64(g.intervalTime.Load()) * 0.8))
		select {
		case <-g.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		if g.leave.Load() {
			return
		}
		if err := g.sendRequest(); err != nil {
			g.log().Warn().Err(err).Msg("refresh request failed")
			return
		}
	}
}

// RelayAddress returns the address advertised by the relay.
func (g *Gateway) RelayAddress() netip.Addr {
	return g.relay
}

func (g *Gateway) handleMembershipQueryData(data []byte) error {
	msg, err := m.Decode(data)
	if err != nil {
		return fmt.Errorf("Error decoding membership query: %w", err)
	}
	query, ok := msg.(*m.MembershipQueryMessage)
	if !ok {
		return fmt.Errorf("Expected membership query, got %s", msg.Type())
	}
	return g.handleMembershipQuery(query)
}

func (g *Gateway) handleMembershipQuery(query *m.MembershipQueryMessage) error {
	if query.Nonce != g.nonce {
		return fmt.Errorf("membership query nonce %#08x does not match request nonce %#08x", query.Nonce, g.nonce)
	}
	if query.Record.Type == m.IGMPMembershipQuery {
		if interval := query.Record.QueryInterval(); interval > 0 {
			g.intervalTime.Store(interval)
		}
	}
	if g.leave.Load() {
		if err := g.sendMembershipUpdate(query, m.IGMPv2LeaveGroup); err != nil {
			return fmt.Errorf("Error in sendMembershipLeave: %w", err)
		}
		return nil
	}
	if err := g.sendMembershipUpdate(query, m.IGMPv2MembershipReport); err != nil {
		return fmt.Errorf("Error in sendMembershipUpdate: %w", err)
	}
	return nil
}

// Close leaves the group and closes the socket. Only the first call does
// any work.
func (g *Gateway) Close() (err error) {
	if g.conn == nil {
		return nil
	}
	g.closeOnce.Do(func() { err = g.close() })
	return err
}

func (g *Gateway) close() error {
	g.leave.Store(true)
	close(g.done)
	buffer := make([]byte, g.MTU)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if err := g.sendRequest(); err != nil {
			errc <- fmt.Errorf("failed to send request: %w", err)
			return
		}
		msg, err := g.await(buffer, m.MembershipQueryType)
		if err != nil {
			errc <- err
			return
		}
		errc <- g.handleMembershipQuery(msg.(*m.MembershipQueryMessage))
	}()
	var err error
	select {
	case <-time.After(leaveTimeout):
		g.log().Warn().Msg("no membership query before leave timeout")
	case err = <-errc:
	}
	if cerr := g.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
