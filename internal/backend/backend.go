// Package backend unifies the three transports a link can run over
// (local serial, local FTDI/USB, or a remote TCP tunnel) behind one
// interface, following spec §4.1. Each concrete backend is grounded on a
// distinct pack repo: serial.go on Daedaluz-goserial's ioctl/termios Port,
// ftdi.go on guiperry-HASHER's gousb bulk-endpoint usage, tcp.go on the
// relay tunnel framing described by original_source's server.rs/link.rs.
package backend

import (
	"io"
	"time"
)

// Backend is the minimal transport surface the link layer needs: ordered
// byte read/write, buffer discard, and (for serial only) the DTR/DSR
// handshake used to reset the device.
type Backend interface {
	io.ReadWriter
	io.Closer

	// DiscardInput drops any buffered, unread input.
	DiscardInput() error
	// DiscardOutput drops any buffered, unwritten output.
	DiscardOutput() error

	// SetDTR raises or lowers the DTR line. Backends without a DTR concept
	// (TCP tunnel) return nil unconditionally.
	SetDTR(on bool) error
	// ReadDSR reports the current DSR line state. Backends without a DSR
	// line report a stand-in value: the TCP tunnel always reports true, the
	// FTDI backend echoes the last SetDTR level.
	ReadDSR() (bool, error)
}

// resetPollInterval and resetPollAttempts bound the DTR/DSR handshake:
// poll at most resetPollAttempts times, resetPollInterval apart, matching
// link.rs's reset() (100 x 10ms retries, ~1s deadline).
const (
	resetPollInterval = 10 * time.Millisecond
	resetPollAttempts = 100
)

// ResetFailedError names which half of the handshake (asserting vs
// releasing DTR) failed to see the expected DSR response.
type ResetFailedError struct {
	Assert bool
}

func (e *ResetFailedError) Error() string {
	if e.Assert {
		return "couldn't reset device (on)"
	}
	return "couldn't reset device (off)"
}

// Reset performs the device reset handshake common to every serial-style
// backend: raise DTR and wait for DSR high, then lower DTR and wait for
// DSR low, each with a 100x10ms poll budget (spec §4.1). The input buffer is
// discarded on every assert-phase poll and again before the low phase
// starts, so a device mid-transfer is actually flushed rather than left to
// answer with stale bytes.
func Reset(b Backend) error {
	if err := b.SetDTR(true); err != nil {
		return err
	}
	if !pollDSR(b, true) {
		return &ResetFailedError{Assert: true}
	}
	if err := b.DiscardInput(); err != nil {
		return err
	}
	if err := b.SetDTR(false); err != nil {
		return err
	}
	if !pollDSR(b, false) {
		return &ResetFailedError{Assert: false}
	}
	return nil
}

func pollDSR(b Backend, want bool) bool {
	for i := 0; i < resetPollAttempts; i++ {
		if want {
			b.DiscardInput()
		}
		dsr, err := b.ReadDSR()
		if err == nil && dsr == want {
			return true
		}
		time.Sleep(resetPollInterval)
	}
	return false
}
