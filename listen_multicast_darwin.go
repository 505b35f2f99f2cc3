package amt

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// ListenMulticastUDP4 listens for multicast UDP packets on the given address. This actually binds
// to the IP address given vs the built-in net.ListenMulticastUDP will listen to ALL IP addresses
// regardless of the address you tell it to listen on. If ifi is nil the OS picks the interface.
// Darwin has no SO_ATTACH_FILTER for UDP sockets, so f is ignored; the bind
// to gaddr already restricts delivery to the group port.
func ListenMulticastUDP4(ifi *net.Interface, gaddr *net.UDPAddr, f []bpf.RawInstruction, timestamp bool) (net.PacketConn, error) {
	if gaddr == nil || gaddr.IP.To4() == nil {
		return nil, errors.New("invalid ipv4 address")
	}
	fd, err := newUDP4Socket(true)
	if err != nil {
		return nil, err
	}
	if err := configureMulticastSocket(fd, ifi, timestamp); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := bindUDP4(fd, gaddr.IP, gaddr.Port); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return filePacketConn(fd)
}

func configureMulticastSocket(fd int, ifi *net.Interface, timestamp bool) error {
	if timestamp {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
			return fmt.Errorf("could not set socket timestamp: %w", err)
		}
	}
	if ifi != nil {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_BOUND_IF, ifi.Index); err != nil {
			return fmt.Errorf("could not bind to interface: %w", err)
		}
	}
	return nil
}
