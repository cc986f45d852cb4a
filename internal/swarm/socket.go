package swarm

import (
	"net"
	"time"
)

// Socket abstracts the pair of UDP operations the transport needs
// (broadcast send, receive with a deadline), grounded on the teacher's
// UDPSocket/UDPSocketFactory split in internal/lidar/network/udp_interface.go:
// the same abstraction lets Transport be driven by a loopback-based
// fake in tests without binding a real port.
type Socket interface {
	WriteTo(b []byte, addr *net.UDPAddr) (int, error)
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// SocketFactory creates the Socket a Transport listens on.
type SocketFactory interface {
	ListenUDP(laddr *net.UDPAddr) (Socket, error)
}

// RealSocket wraps *net.UDPConn.
type RealSocket struct {
	conn *net.UDPConn
}

func (r *RealSocket) WriteTo(b []byte, addr *net.UDPAddr) (int, error) {
	return r.conn.WriteToUDP(b, addr)
}

func (r *RealSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	return r.conn.ReadFromUDP(b)
}

func (r *RealSocket) SetReadDeadline(t time.Time) error { return r.conn.SetReadDeadline(t) }
func (r *RealSocket) Close() error                      { return r.conn.Close() }
func (r *RealSocket) LocalAddr() net.Addr               { return r.conn.LocalAddr() }

// RealSocketFactory binds real UDP sockets via net.ListenUDP.
type RealSocketFactory struct{}

func (RealSocketFactory) ListenUDP(laddr *net.UDPAddr) (Socket, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &RealSocket{conn: conn}, nil
}

// MockPacket is one inbound datagram fed to a MockSocket.
type MockPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockSocket implements Socket for tests, grounded on the teacher's
// MockUDPSocket: queued inbound packets, a timeout once drained, and a
// record of everything written so broadcast tests can assert on it.
type MockSocket struct {
	Packets   []MockPacket
	readIndex int
	Closed    bool
	Written   []MockPacket
	Local     *net.UDPAddr
}

func NewMockSocket(packets []MockPacket) *MockSocket {
	return &MockSocket{Packets: packets, Local: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}}
}

func (m *MockSocket) WriteTo(b []byte, addr *net.UDPAddr) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	m.Written = append(m.Written, MockPacket{Data: cp, Addr: addr})
	return len(b), nil
}

func (m *MockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.readIndex >= len(m.Packets) {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutErr{}}
	}
	pkt := m.Packets[m.readIndex]
	m.readIndex++
	n := copy(b, pkt.Data)
	return n, pkt.Addr, nil
}

func (m *MockSocket) SetReadDeadline(t time.Time) error { return nil }
func (m *MockSocket) Close() error                      { m.Closed = true; return nil }
func (m *MockSocket) LocalAddr() net.Addr               { return m.Local }

type timeoutErr struct{}

func (e *timeoutErr) Error() string   { return "i/o timeout" }
func (e *timeoutErr) Timeout() bool   { return true }
func (e *timeoutErr) Temporary() bool { return true }

// MockSocketFactory returns a fixed socket, recording ListenUDP calls.
type MockSocketFactory struct {
	Socket *MockSocket
	Calls  []*net.UDPAddr
}

func (f *MockSocketFactory) ListenUDP(laddr *net.UDPAddr) (Socket, error) {
	f.Calls = append(f.Calls, laddr)
	return f.Socket, nil
}
