package amt

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// newUDP4Socket opens an IPv4 UDP socket, with address and port reuse for
// sockets that share a multicast group.
func newUDP4Socket(reuse bool) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("could not get socket: %w", err)
	}
	if reuse {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("could not set socket reuseaddr: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("could not set socket reuseport: %w", err)
		}
	}
	return fd, nil
}

func bindUDP4(fd int, ip net.IP, port int) error {
	lsa := unix.SockaddrInet4{Port: port}
	copy(lsa.Addr[:], ip.To4())
	if err := unix.Bind(fd, &lsa); err != nil {
		return fmt.Errorf("could not bind socket: %w", err)
	}
	return nil
}

// filePacketConn hands fd over to the runtime poller. fd is closed in all
// cases; the returned conn owns a duplicate.
func filePacketConn(fd int) (net.PacketConn, error) {
	file := os.NewFile(uintptr(fd), "")
	conn, err := net.FilePacketConn(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("could not wrap filepacketconn: %w", err)
	}
	return conn, nil
}

// setupSocket opens the gateway's unicast socket towards the relay on an
// ephemeral port.
func setupSocket() (*ipv4.PacketConn, error) {
	fd, err := newUDP4Socket(false)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("could not set socket timestamp: %w", err)
	}
	if err := bindUDP4(fd, net.IPv4zero, 0); err != nil {
		unix.Close(fd)
		return nil, err
	}
	conn, err := filePacketConn(fd)
	if err != nil {
		return nil, err
	}
	return ipv4.NewPacketConn(conn), nil
}
