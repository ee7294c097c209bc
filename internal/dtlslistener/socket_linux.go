//go:build linux

package dtlslistener

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// probeBufSize is large enough for the two-byte connect probe plus any
// noise on the wire; anything longer is simply not a probe and is
// discarded.
const probeBufSize = 2048

// bindAndWaitForProbe opens a dual-stack (IPv4+IPv6) UDP socket, binds it
// to [::]:port, and blocks — the only operation in the listener allowed to
// do so — until a datagram carrying the cleartext connect probe arrives.
// It then connect(2)s the socket to that datagram's source, switches the
// socket to non-blocking mode, and returns it wrapped as a net.Conn.
func bindAndWaitForProbe(port int) (net.Conn, net.Addr, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, nil, fmt.Errorf("socket: %w", err)
	}
	closeFd := true
	defer func() {
		if closeFd {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, nil, fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		return nil, nil, fmt.Errorf("IPV6_V6ONLY: %w", err)
	}

	addr := &unix.SockaddrInet6{Port: port}
	for {
		err := unix.Bind(fd, addr)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EADDRINUSE) {
			return nil, nil, fmt.Errorf("bind :%d: %w", port, err)
		}
		time.Sleep(bindRetryDelay)
	}

	buf := make([]byte, probeBufSize)
	var peer unix.Sockaddr
	for {
		n, from, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("recvfrom: %w", err)
		}
		if probeMatches(buf[:n]) {
			peer = from
			break
		}
	}

	if err := unix.Connect(fd, peer); err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, nil, fmt.Errorf("set nonblocking: %w", err)
	}

	peerAddr, err := sockaddrToUDPAddr(peer)
	if err != nil {
		return nil, nil, err
	}

	file := os.NewFile(uintptr(fd), "dtls-peer-socket")
	conn, err := net.FileConn(file)
	file.Close() // closes the original fd; FileConn duplicated it internally
	closeFd = false
	if err != nil {
		return nil, nil, fmt.Errorf("FileConn: %w", err)
	}
	return conn, peerAddr, nil
}

func sockaddrToUDPAddr(sa unix.Sockaddr) (*net.UDPAddr, error) {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}, nil
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}, nil
	default:
		return nil, fmt.Errorf("unsupported sockaddr type %T", sa)
	}
}
