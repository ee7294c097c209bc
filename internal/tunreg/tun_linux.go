//go:build linux

package tunreg

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	cloneDevicePath = "/dev/net/tun"
	ifReqSize       = unix.IFNAMSIZ + 64
)

// createTUN opens /dev/net/tun and attaches it to a new interface named
// name via the TUNSETIFF ioctl, in IFF_TUN|IFF_NO_PI mode (raw IP packets,
// no additional per-packet flags header). The fd is set non-blocking
// immediately so the caller can integrate it into a poll-driven forwarding
// loop.
func createTUN(name string) (*os.File, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("tunreg: interface name %q too long", name)
	}

	fd, err := unix.Open(cloneDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cloneDevicePath, err)
	}

	var ifr [ifReqSize]byte
	copy(ifr[:], name)
	flags := uint16(unix.IFF_TUN | unix.IFF_NO_PI)
	*(*uint16)(unsafe.Pointer(&ifr[unix.IFNAMSIZ])) = flags

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(fd),
		uintptr(unix.TUNSETIFF),
		uintptr(unsafe.Pointer(&ifr[0])),
	)
	if errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF: %w", errno)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblocking: %w", err)
	}

	return os.NewFile(uintptr(fd), name), nil
}
