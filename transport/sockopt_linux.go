//go:build linux
// +build linux

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// setSocketOptions puts the socket in non-blocking mode and disables Nagle's algorithm,
// CoAP frames are small and a request is a single write.
func setSocketOptions(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("getting raw socket: %w", err)
	}

	var sockErr error
	if err := rawConn.Control(func(fd uintptr) {
		if sockErr = unix.SetNonblock(int(fd), true); sockErr != nil {
			sockErr = fmt.Errorf("setting non-blocking mode: %w", sockErr)
			return
		}
		if sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); sockErr != nil {
			sockErr = fmt.Errorf("setting TCP_NODELAY: %w", sockErr)
		}
	}); err != nil {
		return fmt.Errorf("controlling socket: %w", err)
	}
	return sockErr
}
