// Serial backend: a local SC64 attached as a USB-CDC serial port, driven
// through github.com/daedaluz/goserial's ioctl/termios Port the same way
// Daedaluz-goserial's own examples drive a modem control line.
package backend

import (
	"time"

	"github.com/daedaluz/goserial"

	"sc64/internal/sc64err"
)

const serialBaud = goserial.B115200

// SerialBackend talks to a device attached as a local serial port.
type SerialBackend struct {
	port *goserial.Port
}

// OpenSerial opens path as a raw 115200-baud serial port and performs the
// device reset handshake, mirroring link.rs's new_local.
func OpenSerial(path string) (*SerialBackend, error) {
	opts := goserial.NewOptions().SetReadTimeout(50 * time.Millisecond)
	port, err := goserial.Open(path, opts)
	if err != nil {
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	attrs.SetSpeed(serialBaud)
	if err := port.SetAttr(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, sc64err.Wrap(sc64err.Io, err)
	}

	b := &SerialBackend{port: port}
	if err := Reset(b); err != nil {
		port.Close()
		return nil, sc64err.Wrap(sc64err.ResetFailed, err)
	}
	return b, nil
}

func (s *SerialBackend) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, sc64err.Wrap(sc64err.Io, err)
	}
	return n, nil
}

func (s *SerialBackend) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, sc64err.Wrap(sc64err.Io, err)
	}
	return n, nil
}

func (s *SerialBackend) Close() error { return s.port.Close() }

func (s *SerialBackend) DiscardInput() error {
	return s.port.Flush(goserial.TCIFLUSH)
}

func (s *SerialBackend) DiscardOutput() error {
	return s.port.Flush(goserial.TCOFLUSH)
}

func (s *SerialBackend) SetDTR(on bool) error {
	if on {
		return s.port.EnableModemLines(goserial.TIOCM_DTR)
	}
	return s.port.DisableModemLines(goserial.TIOCM_DTR)
}

func (s *SerialBackend) ReadDSR() (bool, error) {
	lines, err := s.port.GetModemLines()
	if err != nil {
		return false, sc64err.Wrap(sc64err.Io, err)
	}
	return lines&goserial.TIOCM_DSR != 0, nil
}
