package rtpworker

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// bindUDP creates a non-blocking IPv4 UDP socket bound to ip:port and
// applies the voice-traffic socket options the gateway relies on:
// SO_REUSEADDR so a restart does not wait out TIME_WAIT, and a small
// receive buffer bump since RTP traffic arrives in a steady trickle, not
// bursts, so the default is plenty but a floor avoids drops under load
// spikes.
func bindUDP(ip net.IP, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setnonblock: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("so_reuseaddr: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 256*1024)

	var addr unix.SockaddrInet4
	addr.Port = port
	v4 := ip.To4()
	if v4 == nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bindUDP: %s is not an IPv4 address", ip)
	}
	copy(addr.Addr[:], v4)
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}
	return fd, nil
}

func recvUDP(fd int, buf []byte) (int, *net.UDPAddr, error) {
	n, from, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, nil, err
	}
	sa4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return n, nil, nil
	}
	return n, &net.UDPAddr{IP: net.IP(sa4.Addr[:]), Port: sa4.Port}, nil
}

func sendUDP(fd int, payload []byte, dest *net.UDPAddr) error {
	v4 := dest.IP.To4()
	if v4 == nil {
		return fmt.Errorf("sendUDP: %s is not an IPv4 address", dest.IP)
	}
	var addr unix.SockaddrInet4
	addr.Port = dest.Port
	copy(addr.Addr[:], v4)
	return unix.Sendto(fd, payload, 0, &addr)
}
