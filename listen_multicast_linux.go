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
// f, when not empty, is attached to the socket as a classic BPF filter.
func ListenMulticastUDP4(ifi *net.Interface, gaddr *net.UDPAddr, f []bpf.RawInstruction, timestamp bool) (net.PacketConn, error) {
	if gaddr == nil || gaddr.IP.To4() == nil {
		return nil, errors.New("invalid ipv4 address")
	}
	fd, err := newUDP4Socket(true)
	if err != nil {
		return nil, err
	}
	if err := configureMulticastSocket(fd, ifi, f, timestamp); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := bindUDP4(fd, gaddr.IP, gaddr.Port); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return filePacketConn(fd)
}

func configureMulticastSocket(fd int, ifi *net.Interface, f []bpf.RawInstruction, timestamp bool) error {
	if len(f) > 0 {
		filter := make([]unix.SockFilter, len(f))
		for i, ins := range f {
			filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
		}
		prog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
		if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog); err != nil {
			return fmt.Errorf("failed to set bpf: %w", err)
		}
	}
	if timestamp {
		// Prefer nanosecond timestamps, fall back to kernel microsecond ones.
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1); err != nil {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
				return fmt.Errorf("failed to enable SO_TIMESTAMP: %w", err)
			}
		}
	}
	if ifi != nil {
		if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifi.Name); err != nil {
			return fmt.Errorf("could not bind to interface: %w", err)
		}
	}
	return nil
}
