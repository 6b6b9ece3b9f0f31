// Package link demultiplexes a single Backend's byte stream into discrete
// command/response/packet exchanges, the way
// original_source/sw/deployer/src/sc64/link.rs's SerialLink does: a
// synchronous command/response path, plus a FIFO queue of out-of-band
// device packets (disk requests, debug output, button presses, ...) that
// arrive interleaved with responses.
package link

import (
	"container/list"
	"sync"
	"time"

	"sc64/internal/backend"
	"sc64/internal/sc64err"
	"sc64/internal/sc64proto"
)

// CommandTimeout and PacketTimeout bound how long ExecuteCommand/
// ReceivePacket will wait, mirroring link.rs's 5s constants.
const (
	CommandTimeout = 5 * time.Second
	PacketTimeout  = 5 * time.Second
)

// Link owns a Backend and serializes access to it: only one command may be
// in flight at a time, and packets that arrive while waiting for a
// response are queued for later delivery via ReceivePacket.
type Link struct {
	b       backend.Backend
	mu      sync.Mutex
	packets *list.List // of *sc64proto.Packet
}

// New wraps an already-open, already-reset Backend.
func New(b backend.Backend) *Link {
	return &Link{b: b, packets: list.New()}
}

// Close releases the underlying backend.
func (l *Link) Close() error { return l.b.Close() }

// ExecuteCommand sends a command and waits for its matching response,
// returning an error if the device reports one (unless ignoreError is
// set), mirroring execute_command/execute_command_raw.
func (l *Link) ExecuteCommand(cmd *sc64proto.Command, ignoreError bool) (*sc64proto.Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.b.Write(sc64proto.EncodeCommand(cmd)); err != nil {
		return nil, err
	}
	resp, err := l.receiveResponse(cmd.ID)
	if err != nil {
		return nil, err
	}
	if resp.Error && !ignoreError {
		return resp, sc64err.New(sc64err.DeviceReportedError, "device reported an error for this command")
	}
	return resp, nil
}

// ReceivePacket pops a queued out-of-band packet if one is already
// buffered, else polls the backend for up to PacketTimeout.
func (l *Link) ReceivePacket() (*sc64proto.Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if front := l.packets.Front(); front != nil {
		l.packets.Remove(front)
		return front.Value.(*sc64proto.Packet), nil
	}

	deadline := time.Now().Add(PacketTimeout)
	for time.Now().Before(deadline) {
		pkt, err := l.readOneFrame()
		if err != nil {
			return nil, err
		}
		if pkt != nil {
			return pkt, nil
		}
	}
	return nil, sc64err.New(sc64err.TimedOut, "timed out waiting for device packet")
}

// TryReceivePacket attempts a single non-blocking read: a queued packet if
// one is buffered, else one pass at the backend. It returns (nil, nil) when
// nothing is available yet, letting a caller (the real-time loop) interleave
// other polling work between attempts instead of committing to
// PacketTimeout, per spec §4.5/§9's "read one frame if available, else
// return quickly" contract.
func (l *Link) TryReceivePacket() (*sc64proto.Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if front := l.packets.Front(); front != nil {
		l.packets.Remove(front)
		return front.Value.(*sc64proto.Packet), nil
	}
	return l.readOneFrame()
}

// AnyFrame is a single device-originated frame decoded off the wire
// without assuming a particular command is in flight, for a consumer (the
// relay's device-reader task, spec §4.8) that sends commands
// fire-and-forget and matches replies asynchronously rather than through
// ExecuteCommand's synchronous id matching.
type AnyFrame struct {
	Response *sc64proto.Response
	Packet   *sc64proto.Packet
}

// SendCommandRaw writes cmd to the backend without waiting for or
// consuming its response, mirroring link.rs's raw command interface used
// by the relay dispatcher with ignore_error and no_response=true (spec
// §4.8): the device's eventual reply surfaces separately via
// TryReceiveAny.
func (l *Link) SendCommandRaw(cmd *sc64proto.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.b.Write(sc64proto.EncodeCommand(cmd))
	return err
}

// TryReceiveAny attempts a single non-blocking read of the next device
// frame of either kind. Returns (nil, nil) when nothing is available yet.
// Unlike ReceivePacket/receiveResponse it does not consult or populate the
// queued-packets list: a Link used this way (the relay's device-reader)
// owns the backend exclusively and has no concurrent ExecuteCommand calls
// to demultiplex against.
func (l *Link) TryReceiveAny() (*AnyFrame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, payload, kind, id, ok, err := l.readFrame()
	if err != nil || !ok {
		return nil, err
	}
	switch kind {
	case sc64proto.ReplyPacket:
		return &AnyFrame{Packet: &sc64proto.Packet{ID: id, Payload: payload}}, nil
	case sc64proto.ReplyResponse, sc64proto.ReplyError:
		return &AnyFrame{Response: &sc64proto.Response{ID: id, Error: kind == sc64proto.ReplyError, Payload: payload}}, nil
	default:
		return nil, sc64err.New(sc64err.UnknownTag, "unrecognized frame kind from device")
	}
}

// receiveResponse reads frames until the response matching id arrives,
// queueing any packets it encounters along the way.
func (l *Link) receiveResponse(id byte) (*sc64proto.Response, error) {
	deadline := time.Now().Add(CommandTimeout)
	for time.Now().Before(deadline) {
		resp, err := l.readOneResponseFrame(id)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, sc64err.New(sc64err.TimedOut, "timed out waiting for device response")
}

// readOneFrame reads a single frame intended for packet-mode polling: a
// Packet frame is returned directly, a Response/Error frame is dropped
// (there is never a command in flight while ReceivePacket runs), and "no
// data yet" is reported as (nil, nil) so the caller's deadline loop retries.
func (l *Link) readOneFrame() (*sc64proto.Packet, error) {
	header, payload, kind, id, ok, err := l.readFrame()
	if err != nil || !ok {
		return nil, err
	}
	_ = header
	if kind == sc64proto.ReplyPacket {
		return &sc64proto.Packet{ID: id, Payload: payload}, nil
	}
	return nil, nil
}

// readOneResponseFrame reads a single frame intended for the command/
// response path: a matching Response/Error frame is returned, a Packet
// frame is queued and nil is returned so the deadline loop keeps reading.
func (l *Link) readOneResponseFrame(wantID byte) (*sc64proto.Response, error) {
	_, payload, kind, id, ok, err := l.readFrame()
	if err != nil || !ok {
		return nil, err
	}
	switch kind {
	case sc64proto.ReplyPacket:
		l.packets.PushBack(&sc64proto.Packet{ID: id, Payload: payload})
		return nil, nil
	case sc64proto.ReplyResponse, sc64proto.ReplyError:
		if id != wantID {
			return nil, sc64err.New(sc64err.MismatchedID, "device response id did not match request")
		}
		return &sc64proto.Response{ID: id, Error: kind == sc64proto.ReplyError, Payload: payload}, nil
	default:
		return nil, sc64err.New(sc64err.UnknownTag, "unrecognized frame kind from device")
	}
}

// readFrame reads one header+payload pair. ok is false (with a nil error)
// when no header bytes were available at all, meaning "try again later"
// rather than a failure.
func (l *Link) readFrame() (header [sc64proto.HeaderSize]byte, payload []byte, kind sc64proto.ReplyKind, id byte, ok bool, err error) {
	n, rerr := readFull(l.b, header[:])
	if rerr != nil {
		return header, nil, 0, 0, false, rerr
	}
	if n == 0 {
		return header, nil, 0, 0, false, nil
	}

	var length uint32
	kind, id, length, ok = sc64proto.DecodeHeader(header)
	if !ok {
		return header, nil, 0, 0, false, sc64err.New(sc64err.UnknownTag, "unrecognized frame tag from device")
	}
	payload = make([]byte, length)
	if _, rerr := readFull(l.b, payload); rerr != nil {
		return header, nil, 0, 0, false, rerr
	}
	return header, payload, kind, id, true, nil
}

// readFull reads exactly len(buf) bytes, treating a zero-byte first read as
// "nothing available right now" (n==0, err==nil) rather than an error, so
// callers can distinguish "no data yet" from a real I/O failure.
func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if n == 0 && total == 0 {
			if err != nil {
				return 0, sc64err.Wrap(sc64err.Io, err)
			}
			return 0, nil
		}
		total += n
		if err != nil {
			return total, sc64err.Wrap(sc64err.Io, err)
		}
	}
	return total, nil
}
