package listener

import (
	"net"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the listener reads through, so
// tests can substitute a scripted socket.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// SocketFactory opens UDP sockets.
type SocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealSocketFactory opens sockets with net.ListenUDP.
type RealSocketFactory struct{}

func (RealSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
