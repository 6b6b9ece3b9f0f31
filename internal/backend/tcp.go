// TCP tunnel backend: talks to a remote sc64deploy relay server (§6/§4.8)
// instead of a local device. The wire shape is internal/sc64proto's tunnel
// framing, translated from original_source's server.rs commented design.
package backend

import (
	"net"
	"time"

	"sc64/internal/sc64err"
)

// TCPBackend is a thin net.Conn wrapper; all tunnel framing lives in
// internal/sc64proto and internal/link, not here.
type TCPBackend struct {
	conn net.Conn
}

// DialTCP connects to a relay server's listen address.
func DialTCP(address string) (*TCPBackend, error) {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &TCPBackend{conn: conn}, nil
}

func (t *TCPBackend) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil {
		return n, sc64err.Wrap(sc64err.Io, err)
	}
	return n, nil
}

func (t *TCPBackend) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err != nil {
		return n, sc64err.Wrap(sc64err.Io, err)
	}
	return n, nil
}

func (t *TCPBackend) Close() error { return t.conn.Close() }

// The tunnel protocol has no separate discard-buffer primitive; the relay
// server resets device-side buffers on the host's behalf during its own
// reset handshake.
func (t *TCPBackend) DiscardInput() error  { return nil }
func (t *TCPBackend) DiscardOutput() error { return nil }

// The relay server performs the physical DTR/DSR handshake against its
// locally attached device; a tunnel client has no DTR/DSR lines of its own
// to drive, so these always succeed.
func (t *TCPBackend) SetDTR(on bool) error   { return nil }
func (t *TCPBackend) ReadDSR() (bool, error) { return true, nil }
