package relay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sc64/internal/backend"
	"sc64/internal/link"
	"sc64/internal/sc64proto"
)

// fakeBackend is an in-memory Backend: writes are recorded, reads are
// never produced (these tests drive the dispatcher directly, not a full
// device round trip).
type fakeBackend struct {
	written [][]byte
}

func (f *fakeBackend) Read(p []byte) (int, error)  { return 0, nil }
func (f *fakeBackend) Write(p []byte) (int, error) { f.written = append(f.written, append([]byte(nil), p...)); return len(p), nil }
func (f *fakeBackend) Close() error                { return nil }
func (f *fakeBackend) DiscardInput() error         { return nil }
func (f *fakeBackend) DiscardOutput() error        { return nil }
func (f *fakeBackend) SetDTR(on bool) error        { return nil }
func (f *fakeBackend) ReadDSR() (bool, error)       { return true, nil }

func readTunnelTag(t *testing.T, r *bufio.Reader) sc64proto.TunnelType {
	t.Helper()
	var tagBuf [4]byte
	_, err := readFullHelper(r, tagBuf[:])
	require.NoError(t, err)
	return sc64proto.TunnelType(binary.BigEndian.Uint32(tagBuf[:]))
}

func readFullHelper(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestReadTunnelCommandBodyRoundTrips(t *testing.T) {
	cmd := &sc64proto.Command{ID: 'v', Args: [2]uint32{1, 2}, Payload: []byte("hi")}
	encoded := sc64proto.EncodeTunnelCommand(cmd)
	// Strip the 4-byte type tag streamReader already consumed before calling
	// readTunnelCommandBody.
	body := bytes.NewReader(encoded[4:])

	got, err := readTunnelCommandBody(body)
	require.NoError(t, err)
	require.Equal(t, cmd.ID, got.ID)
	require.Equal(t, cmd.Args, got.Args)
	require.Equal(t, cmd.Payload, got.Payload)
}

func TestReadTunnelCommandBodyRejectsShortRead(t *testing.T) {
	_, err := readTunnelCommandBody(bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestDispatchForwardsResponsePacketAndKeepaliveOverTheWire(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	fb := &fakeBackend{}
	lnk := link.New(fb)

	events := make(chan relayEvent, 8)
	events <- relayEvent{kind: evResponse, resp: &sc64proto.Response{ID: 'v', Payload: []byte{1}}}
	events <- relayEvent{kind: evPacket, pkt: &sc64proto.Packet{ID: 'B', Payload: []byte{2}}}
	events <- relayEvent{kind: evKeepalive}
	close(events)

	done := make(chan error, 1)
	go func() { done <- dispatch(serverConn, lnk, events) }()

	r := bufio.NewReader(clientConn)

	require.Equal(t, sc64proto.TunnelResponse, readTunnelTag(t, r))
	var respHead [6]byte
	_, err := readFullHelper(r, respHead[:])
	require.NoError(t, err)
	require.Equal(t, byte('v'), respHead[0])
	respPayload := make([]byte, binary.BigEndian.Uint32(respHead[2:6]))
	_, err = readFullHelper(r, respPayload)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, respPayload)

	require.Equal(t, sc64proto.TunnelPacket, readTunnelTag(t, r))
	var pktHead [5]byte
	_, err = readFullHelper(r, pktHead[:])
	require.NoError(t, err)
	require.Equal(t, byte('B'), pktHead[0])
	pktPayload := make([]byte, binary.BigEndian.Uint32(pktHead[1:5]))
	_, err = readFullHelper(r, pktPayload)
	require.NoError(t, err)
	require.Equal(t, []byte{2}, pktPayload)

	require.Equal(t, sc64proto.TunnelKeepalive, readTunnelTag(t, r))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after events channel closed")
	}
}

func TestDispatchForwardsCommandToDeviceRaw(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	fb := &fakeBackend{}
	lnk := link.New(fb)

	events := make(chan relayEvent, 1)
	cmd := &sc64proto.Command{ID: 'v', Args: [2]uint32{9, 9}}
	events <- relayEvent{kind: evCommand, cmd: cmd}

	done := make(chan error, 1)
	go func() {
		done <- dispatch(serverConn, lnk, events)
	}()

	require.Eventually(t, func() bool { return len(fb.written) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, byte('v'), fb.written[0][3])

	close(events)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return")
	}
}

func TestDispatchReturnsErrorOnClosedEvent(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	fb := &fakeBackend{}
	lnk := link.New(fb)

	events := make(chan relayEvent, 1)
	events <- relayEvent{kind: evClosed, err: errBoom}
	close(events)

	err := dispatch(serverConn, lnk, events)
	require.ErrorIs(t, err, errBoom)
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestListenReportsAddrAndStatus(t *testing.T) {
	open := func() (backend.Backend, error) {
		return &fakeBackend{}, nil
	}

	s, err := Listen("127.0.0.1:0", open, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NotEmpty(t, s.Addr().String())
	listening, _ := s.Status().Listening.Load().(string)
	require.Equal(t, s.Addr().String(), listening)
	require.False(t, s.Status().Connected.Load())
}
