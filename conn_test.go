package amt

import (
	"bytes"
	"net"
	"net/netip"
	"strings"
	"testing"

	m "github.com/blockcast/go-amt/messages"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

func multicastData(t *testing.T, dst net.IP, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(83, 97, 94, 146).To4(),
		DstIP:    dst.To4(),
	}
	udp := &layers.UDP{SrcPort: 30000, DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	data, err := m.Encode(&m.MulticastDataMessage{Packet: buf.Bytes()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestUnwrapData(t *testing.T) {
	mc := &MulticastConn{
		GroupAddr: netip.MustParseAddr("232.1.2.3"),
		GroupPort: 30001,
	}
	payload := []byte("hello multicast")
	group := net.IPv4(232, 1, 2, 3)

	got, src, ok := mc.unwrapData(multicastData(t, group, 30001, payload))
	if !ok {
		t.Fatal("datagram for the joined group dropped")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
	if want := "83.97.94.146:30000"; src.String() != want {
		t.Errorf("src = %v, want %s", src, want)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"other port", multicastData(t, group, 30002, payload)},
		{"other group", multicastData(t, net.IPv4(232, 1, 2, 4), 30001, payload)},
		{"header only", []byte{byte(m.MulticastDataType), 0}},
		{"not ip", []byte{byte(m.MulticastDataType), 0, 0xde, 0xad, 0xbe, 0xef}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := mc.unwrapData(tt.data); ok {
				t.Error("datagram accepted")
			}
		})
	}
}

func TestUnwrapDataAnyPort(t *testing.T) {
	mc := &MulticastConn{GroupAddr: netip.MustParseAddr("232.1.2.3")}
	got, _, ok := mc.unwrapData(multicastData(t, net.IPv4(232, 1, 2, 3), 40000, []byte{1, 2, 3}))
	if !ok || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("unwrapData = %x, %v", got, ok)
	}
}

func TestHandleTunnelDropsControlMessages(t *testing.T) {
	mc := &MulticastConn{GroupAddr: netip.MustParseAddr("232.1.2.3")}
	for _, data := range [][]byte{
		{0x01, 0, 0, 0, 0, 0, 0, 0},
		{0x07, 0, 0, 0, 0, 0, 0, 0},
		{0x0f},
		nil,
	} {
		if _, _, ok := mc.handleTunnel(data); ok {
			t.Errorf("handleTunnel(%x) returned a datagram", data)
		}
	}
}

func TestUDPPortFilter(t *testing.T) {
	prog, err := bpf.Assemble(udpPortFilter(30001))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(prog) != 4 {
		t.Errorf("program has %d instructions, want 4", len(prog))
	}
	vm, err := bpf.NewVM(udpPortFilter(30001))
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	tests := []struct {
		name   string
		udp    []byte
		accept bool
	}{
		{"group port", []byte{0x75, 0x30, 0x75, 0x31, 0, 8, 0, 0}, true},
		{"other port", []byte{0x75, 0x30, 0x75, 0x32, 0, 8, 0, 0}, false},
		{"source port only", []byte{0x75, 0x31, 0x75, 0x30, 0, 8, 0, 0}, false},
		{"short", []byte{0x75, 0x30, 0x75}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := vm.Run(tt.udp)
			if got := n > 0; got != tt.accept {
				t.Errorf("accepted = %v, want %v", got, tt.accept)
			}
		})
	}
}

func TestMulticastConnOpenFailureClosesSocket(t *testing.T) {
	mc := &MulticastConn{
		GroupAddr: netip.MustParseAddr("127.0.0.1"),
		GroupPort: 30001,
		TTL:       1,
	}
	err := mc.Open()
	if err == nil {
		mc.Close()
		t.Skip("joining a unicast address succeeded on this host")
	}
	if !strings.Contains(err.Error(), "join group") {
		t.Fatalf("Open: %v, want a join failure", err)
	}
	if mc.conn4 != nil {
		t.Error("socket left open after failed Open")
	}
}
