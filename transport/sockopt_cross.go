//go:build !linux
// +build !linux

package transport

import "net"

// setSocketOptions disables Nagle's algorithm. The Go runtime already keeps sockets non-blocking.
func setSocketOptions(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tcpConn.SetNoDelay(true)
}
