// Package relay implements the TCP relay server (spec §4.8): it tunnels
// the framed device protocol between a remote client and a locally
// attached device, splitting command flow from asynchronous packet flow
// and injecting keepalives. The three-task-plus-dispatcher shape is a
// direct port of original_source/sw/deployer/src/sc64/server.rs's
// commented-out design (server_stream_thread, server_serial_thread,
// server_keepalive_thread, server_process_events), expressed with
// goroutines and channels in place of std::thread/mpsc.
package relay

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sc64/internal/backend"
	"sc64/internal/link"
	"sc64/internal/sc64err"
	"sc64/internal/sc64proto"
)

// pollTimeout bounds how long the stream-reader blocks on a single read
// before re-checking the exit flag, matching server.rs's 10ms deadline
// while waiting for the next frame's header.
const pollTimeout = 10 * time.Millisecond

// devicePollInterval is the device-reader's idle backoff between
// non-blocking polls of the link when nothing was immediately available.
const devicePollInterval = 5 * time.Millisecond

// keepaliveInterval and keepalivePollInterval reproduce server.rs's
// keepalive thread: check every 100ms, fire every 5s.
const (
	keepaliveInterval     = 5 * time.Second
	keepalivePollInterval = 100 * time.Millisecond
)

// BackendFactory opens a fresh device backend for one relay connection,
// mirroring server.rs's `new_local(&port)` called fresh per accepted client.
// handleConnection runs the reset handshake on the result whether or not the
// factory already did.
type BackendFactory func() (backend.Backend, error)

// Event names a relay lifecycle occurrence, surfaced to an optional
// listener the way server.rs's ServerEvent callback reports
// Listening/Connected/Disconnected/Err to the CLI's `server` subcommand.
type Event struct {
	Kind    string // "listening", "connected", "disconnected", "error"
	Address string
	Err     error
}

// Server accepts one relay client at a time on a TCP listener and bridges
// it to a locally attached device.
type Server struct {
	listener   net.Listener
	openDevice BackendFactory
	onEvent    func(Event)

	status Status
}

// Listen binds address and returns a Server ready to Serve. onEvent may be
// nil.
func Listen(address string, open BackendFactory, onEvent func(Event)) (*Server, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	s := &Server{listener: ln, openDevice: open, onEvent: onEvent}
	s.status.Listening.Store(ln.Addr().String())
	s.emit(Event{Kind: "listening", Address: ln.Addr().String()})
	return s, nil
}

// Addr reports the bound listening address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Status exposes the server's live connection state for an admin endpoint.
func (s *Server) Status() *Status { return &s.status }

// Close stops accepting new connections; a connection already being
// served runs to completion.
func (s *Server) Close() error { return s.listener.Close() }

func (s *Server) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

// Serve accepts connections one at a time: the next Accept only runs
// after the previous connection's handler has fully returned, per spec
// §4.8's "accepts one TCP client at a time."
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return sc64err.Wrap(sc64err.Io, err)
		}
		remote := conn.RemoteAddr().String()
		s.status.Connected.Store(true)
		s.status.RemoteAddr.Store(remote)
		s.emit(Event{Kind: "connected", Address: remote})

		err = s.handleConnection(conn)

		s.status.Connected.Store(false)
		s.status.RemoteAddr.Store("")
		if err != nil {
			s.emit(Event{Kind: "error", Address: remote, Err: err})
		} else {
			s.emit(Event{Kind: "disconnected", Address: remote})
		}
	}
}

// Status is the relay's live state, safe for concurrent reads by an admin
// HTTP handler while Serve runs on another goroutine.
type Status struct {
	Listening  atomic.Value // string
	Connected  atomic.Bool
	RemoteAddr atomic.Value // string
}

type eventKind int

const (
	evCommand eventKind = iota
	evResponse
	evPacket
	evKeepalive
	evClosed
)

type relayEvent struct {
	kind eventKind
	cmd  *sc64proto.Command
	resp *sc64proto.Response
	pkt  *sc64proto.Packet
	err  error
}

// handleConnection opens a fresh device backend, resets it, and bridges it
// to conn until either side closes, per spec §4.8.
func (s *Server) handleConnection(conn net.Conn) error {
	defer conn.Close()

	dev, err := s.openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := backend.Reset(dev); err != nil {
		return err
	}
	lnk := link.New(dev)
	defer lnk.Close()

	events := make(chan relayEvent, 64)
	var exit atomic.Bool
	var wg sync.WaitGroup

	wg.Add(3)
	go func() { defer wg.Done(); streamReader(conn, events, &exit) }()
	go func() { defer wg.Done(); deviceReader(lnk, events, &exit) }()
	go func() { defer wg.Done(); keepaliveTask(events, &exit) }()

	err = dispatch(conn, lnk, events)

	// Any task reporting closure sets the exit flag; the others observe it
	// within their next poll period and terminate (spec §4.8).
	exit.Store(true)
	wg.Wait()
	return err
}

// streamReader reads TunnelCommand frames from the TCP socket, polling
// with a short read deadline so it notices the exit flag promptly, the Go
// equivalent of server_stream_thread's 10ms header-read timeout loop.
func streamReader(conn net.Conn, events chan<- relayEvent, exit *atomic.Bool) {
	r := bufio.NewReader(conn)
	for {
		if exit.Load() {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pollTimeout))

		var tagBuf [4]byte
		if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if err == io.EOF {
				events <- relayEvent{kind: evClosed}
				return
			}
			events <- relayEvent{kind: evClosed, err: sc64err.Wrap(sc64err.Io, err)}
			return
		}

		// The rest of the frame is expected to follow promptly once the
		// type tag has committed; drop the short poll deadline for it.
		conn.SetReadDeadline(time.Time{})

		switch sc64proto.TunnelType(binary.BigEndian.Uint32(tagBuf[:])) {
		case sc64proto.TunnelCommand:
			cmd, err := readTunnelCommandBody(r)
			if err != nil {
				events <- relayEvent{kind: evClosed, err: err}
				return
			}
			events <- relayEvent{kind: evCommand, cmd: cmd}
		case sc64proto.TunnelKeepalive:
			// A client-side keepalive carries no information the relay
			// acts on; just keep reading.
		default:
			events <- relayEvent{kind: evClosed, err: sc64err.New(sc64err.UnknownTag, "unexpected tunnel frame type from client")}
			return
		}
	}
}

// readTunnelCommandBody reads the fields EncodeTunnelCommand writes after
// the 4-byte type tag: id(1), args[0](4), args[1](4), length(4), payload.
func readTunnelCommandBody(r io.Reader) (*sc64proto.Command, error) {
	var head [13]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	id := head[0]
	a0 := binary.BigEndian.Uint32(head[1:5])
	a1 := binary.BigEndian.Uint32(head[5:9])
	length := binary.BigEndian.Uint32(head[9:13])

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, sc64err.Wrap(sc64err.Io, err)
		}
	}
	return &sc64proto.Command{ID: id, Args: [2]uint32{a0, a1}, Payload: payload}, nil
}

// deviceReader polls the link for the device's next Response or
// AsynchronousPacket without blocking, the Go equivalent of
// server_serial_thread's process_incoming_data loop.
func deviceReader(lnk *link.Link, events chan<- relayEvent, exit *atomic.Bool) {
	for {
		if exit.Load() {
			return
		}
		frame, err := lnk.TryReceiveAny()
		if err != nil {
			events <- relayEvent{kind: evClosed, err: err}
			return
		}
		if frame == nil {
			time.Sleep(devicePollInterval)
			continue
		}
		if frame.Response != nil {
			events <- relayEvent{kind: evResponse, resp: frame.Response}
		}
		if frame.Packet != nil {
			events <- relayEvent{kind: evPacket, pkt: frame.Packet}
		}
	}
}

// keepaliveTask fires an event every keepaliveInterval, the Go
// equivalent of server_keepalive_thread.
func keepaliveTask(events chan<- relayEvent, exit *atomic.Bool) {
	last := time.Now()
	for {
		if exit.Load() {
			return
		}
		if time.Since(last) >= keepaliveInterval {
			last = time.Now()
			events <- relayEvent{kind: evKeepalive}
		} else {
			time.Sleep(keepalivePollInterval)
		}
	}
}

// dispatch drains events until the connection or the device closes,
// forwarding commands to the device verbatim (fire-and-forget — the
// device's reply surfaces later as its own evResponse) and encoding every
// other event onto the TCP socket with tunnel framing, per spec §4.8's
// server_process_events.
func dispatch(conn net.Conn, lnk *link.Link, events <-chan relayEvent) error {
	w := bufio.NewWriter(conn)
	for ev := range events {
		switch ev.kind {
		case evCommand:
			if err := lnk.SendCommandRaw(ev.cmd); err != nil {
				return err
			}
		case evResponse:
			if err := writeFlush(w, sc64proto.EncodeTunnelResponse(ev.resp)); err != nil {
				return err
			}
		case evPacket:
			if err := writeFlush(w, sc64proto.EncodeTunnelPacket(ev.pkt)); err != nil {
				return err
			}
		case evKeepalive:
			if err := writeFlush(w, sc64proto.EncodeTunnelKeepalive()); err != nil {
				return err
			}
		case evClosed:
			return ev.err
		}
	}
	return nil
}

func writeFlush(w *bufio.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	if err := w.Flush(); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	return nil
}
