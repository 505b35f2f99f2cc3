package amt

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	m "github.com/blockcast/go-amt/messages"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"
	"golang.org/x/net/bpf"
	"golang.org/x/net/ipv4"
)

var _ net.PacketConn = (*MulticastConn)(nil)

// MulticastConn receives an IPv4 multicast group natively, or through an
// AMT tunnel to RelayAddr when nothing arrives natively within Timeout.
type MulticastConn struct {
	RelayAddr net.UDPAddr
	SrcAddr   netip.Addr
	GroupAddr netip.Addr
	GroupPort uint16
	TTL       int
	IFace     *net.Interface
	Timeout   time.Duration
	Timestamp bool
	Logger    *zerolog.Logger

	conn4 *ipv4.PacketConn
	amtGw *Gateway
}

func (mc *MulticastConn) log() *zerolog.Logger {
	if mc.Logger == nil {
		return &nopLogger
	}
	return mc.Logger
}

// udpPortFilter accepts datagrams whose UDP destination port is port. A
// filter on a UDP socket sees the packet from the UDP header on.
func udpPortFilter(port uint16) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 2, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipFalse: 1},
		bpf.RetConstant{Val: 0x40000},
		bpf.RetConstant{Val: 0},
	}
}

func (mc *MulticastConn) Open() (err error) {
	var prog []bpf.RawInstruction
	if mc.GroupPort > 0 {
		if prog, err = bpf.Assemble(udpPortFilter(mc.GroupPort)); err != nil {
			return fmt.Errorf("assemble port filter: %w", err)
		}
	}
	addr := netip.AddrPortFrom(mc.GroupAddr, mc.GroupPort)
	dstAddr := net.UDPAddrFromAddrPort(addr)
	conn, err := ListenMulticastUDP4(mc.IFace, dstAddr, prog, mc.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create conn %s: %w", addr, err)
	}
	mc.conn4 = ipv4.NewPacketConn(conn)
	defer func() {
		if err != nil && mc.conn4 != nil {
			mc.conn4.Close()
			mc.conn4 = nil
		}
	}()
	flags4 := ipv4.FlagDst | ipv4.FlagInterface | ipv4.FlagTTL
	if mc.SrcAddr.IsValid() && !mc.SrcAddr.IsUnspecified() {
		flags4 |= ipv4.FlagSrc
		srcAddr := &net.IPAddr{IP: mc.SrcAddr.AsSlice()}
		if err := mc.conn4.JoinSourceSpecificGroup(mc.IFace, dstAddr, srcAddr); err != nil {
			return fmt.Errorf("join ssg: %w", err)
		}
	} else if err := mc.conn4.JoinGroup(mc.IFace, dstAddr); err != nil {
		return fmt.Errorf("join group: %w", err)
	}

	if mc.IFace != nil {
		if err := mc.conn4.SetMulticastInterface(mc.IFace); err != nil {
			return err
		}
	}
	if err := mc.conn4.SetMulticastTTL(mc.TTL); err != nil {
		return err
	}
	if err := mc.conn4.SetTTL(mc.TTL); err != nil {
		return err
	}
	if err := mc.conn4.SetControlMessage(flags4, true); err != nil {
		return err
	}

	if len(mc.RelayAddr.IP) == 0 {
		return nil
	}
	if err = mc.conn4.SetReadDeadline(time.Now().Add(mc.Timeout)); err != nil {
		return err
	}
	discard := make([]byte, m.MaxPayloadLen)
	_, _, _, err = mc.conn4.ReadFrom(discard)
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		mc.log().Info().Stringer("group", addr).Stringer("relay", &mc.RelayAddr).Msg("no native multicast, opening amt tunnel")
		err = mc.conn4.Close()
		mc.conn4 = nil
		if err != nil {
			return err
		}
		mtu := m.MaxPayloadLen
		if mc.IFace != nil && mc.IFace.MTU > 0 {
			mtu = mc.IFace.MTU
		}
		mc.amtGw = &Gateway{
			RelayAddr: &mc.RelayAddr,
			GroupAddr: dstAddr.IP,
			MTU:       mtu,
			Timeout:   mc.Timeout,
			Logger:    mc.Logger,
		}
		if mc.SrcAddr.IsValid() && !mc.SrcAddr.IsUnspecified() {
			mc.amtGw.SourceAddr = mc.SrcAddr.AsSlice()
		}
		if err := mc.amtGw.Open(); err != nil {
			mc.amtGw = nil
			return fmt.Errorf("Error opening amt gateway: %w", err)
		}
		return nil
	} else if err != nil {
		return err
	}
	return mc.conn4.SetReadDeadline(time.Time{})
}

func (mc *MulticastConn) IsUsingTunnel() bool {
	return mc.amtGw != nil
}

// unwrapData extracts the UDP payload of a Multicast Data message if it is
// addressed to the joined group and port. payload aliases data.
func (mc *MulticastConn) unwrapData(data []byte) (payload []byte, src *net.UDPAddr, ok bool) {
	packet, err := m.DecodeMulticastData(data)
	if err != nil {
		mc.log().Debug().Err(err).Msg("dropping multicast data")
		return nil, nil, false
	}
	p := gopacket.NewPacket(packet, layers.LayerTypeIPv4, gopacket.NoCopy)
	ipHdr, ok := p.NetworkLayer().(*layers.IPv4)
	if !ok {
		return nil, nil, false
	}
	udpHdr, ok := p.TransportLayer().(*layers.UDP)
	if !ok || (mc.GroupPort > 0 && uint16(udpHdr.DstPort) != mc.GroupPort) {
		return nil, nil, false
	}
	if dst, ok := netip.AddrFromSlice(ipHdr.DstIP); !ok || dst.Unmap() != mc.GroupAddr.Unmap() {
		return nil, nil, false
	}
	src = &net.UDPAddr{
		IP:   append(net.IP(nil), ipHdr.SrcIP...),
		Port: int(udpHdr.SrcPort),
	}
	if app := p.ApplicationLayer(); app != nil {
		payload = app.Payload()
	}
	return payload, src, true
}

// handleTunnel processes one message read from the tunnel. It returns the
// UDP payload for Multicast Data addressed to the group; everything else is
// consumed here.
func (mc *MulticastConn) handleTunnel(data []byte) (payload []byte, src *net.UDPAddr, ok bool) {
	h, err := m.ParseHeader(data)
	if err != nil {
		mc.log().Debug().Err(err).Msg("dropping amt message")
		return nil, nil, false
	}
	switch h.Type {
	case m.MulticastDataType:
		return mc.unwrapData(data)
	case m.MembershipQueryType:
		if err := mc.amtGw.handleMembershipQueryData(data); err != nil {
			mc.log().Warn().Err(err).Msg("membership query")
		}
	default:
		mc.log().Debug().Stringer("type", h.Type).Msg("dropping amt message")
	}
	return nil, nil, false
}

func (mc *MulticastConn) ReadBatch(ms []ipv4.Message, flags int) (int, error) {
	if !mc.IsUsingTunnel() {
		return mc.conn4.ReadBatch(ms, flags)
	}
	N, err := mc.amtGw.conn.ReadBatch(ms, flags)
	if err != nil {
		return 0, fmt.Errorf("error reading from connection: %w", err)
	}
	k := 0
	for i := 0; i < N; i++ {
		buf := ms[i].Buffers[0]
		payload, src, ok := mc.handleTunnel(buf[:ms[i].N])
		if !ok {
			continue
		}
		ms[i].N = copy(buf, payload)
		ms[i].Addr = src
		ms[k], ms[i] = ms[i], ms[k]
		k++
	}
	return k, nil
}

func (mc *MulticastConn) ReadFrom(p []byte) (n int, addr net.Addr, err error) {
	n, _, src, err := mc.ReadFromWithControlMessage(p)
	return n, src, err
}

func (mc *MulticastConn) ReadFromWithControlMessage(buf []byte) (n int, cm *ipv4.ControlMessage, src net.Addr, err error) {
	if !mc.IsUsingTunnel() {
		return mc.conn4.ReadFrom(buf)
	}
	for {
		n, cm, _, err = mc.amtGw.conn.ReadFrom(buf)
		if err != nil {
			return 0, cm, nil, err
		}
		payload, udpSrc, ok := mc.handleTunnel(buf[:n])
		if ok {
			return copy(buf, payload), cm, udpSrc, nil
		}
	}
}

func (mc *MulticastConn) WriteTo(p []byte, addr net.Addr) (n int, err error) {
	cm := new(ipv4.ControlMessage)
	return mc.WriteToWithControlMessage(p, cm, addr)
}

func (mc *MulticastConn) WriteToWithControlMessage(b []byte, cm *ipv4.ControlMessage, dst net.Addr) (n int, err error) {
	if !mc.IsUsingTunnel() {
		return mc.conn4.WriteTo(b, cm, dst)
	}
	return 0, fmt.Errorf("write not implemented for amt gateway")
}

func (mc *MulticastConn) Close() error {
	if mc.amtGw != nil {
		return mc.amtGw.Close()
	}
	if mc.conn4 != nil {
		return mc.conn4.Close()
	}
	return nil
}

func (mc *MulticastConn) LocalAddr() net.Addr {
	if !mc.IsUsingTunnel() {
		return mc.conn4.LocalAddr()
	}
	return mc.amtGw.conn.LocalAddr()
}

func (mc *MulticastConn) SetDeadline(t time.Time) error {
	if !mc.IsUsingTunnel() {
		return mc.conn4.SetDeadline(t)
	}
	return mc.amtGw.conn.SetDeadline(t)
}

func (mc *MulticastConn) SetReadDeadline(t time.Time) error {
	if !mc.IsUsingTunnel() {
		return mc.conn4.SetReadDeadline(t)
	}
	return mc.amtGw.conn.SetReadDeadline(t)
}

func (mc *MulticastConn) SetWriteDeadline(t time.Time) error {
	if !mc.IsUsingTunnel() {
		return mc.conn4.SetWriteDeadline(t)
	}
	return mc.amtGw.conn.SetWriteDeadline(t)
}

func (mc *MulticastConn) WriteBatch(msg []ipv4.Message, i int) (int, error) {
	if !mc.IsUsingTunnel() {
		return mc.conn4.WriteBatch(msg, i)
	}
	return 0, fmt.Errorf("writebatch not implemented for amt gateway")
}
