package realtime

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sc64/internal/deployer"
	"sc64/internal/disk"
	"sc64/internal/link"
	"sc64/internal/sc64proto"
	"sc64/internal/types"
)

// scriptedBackend mirrors deployer's test fake: it decodes each outgoing
// command frame and answers with whatever its per-id handler produces.
type scriptedBackend struct {
	mu       sync.Mutex
	handlers map[byte]func(cmd *sc64proto.Command) (payload []byte, isError bool)
	toRead   []byte
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{handlers: map[byte]func(cmd *sc64proto.Command) ([]byte, bool){}}
}

func (s *scriptedBackend) on(id byte, h func(cmd *sc64proto.Command) ([]byte, bool)) {
	s.handlers[id] = h
}

func (s *scriptedBackend) feedPacket(id byte, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 8+len(payload))
	copy(buf[0:3], "PKT")
	buf[3] = id
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	s.toRead = append(s.toRead, buf...)
}

func (s *scriptedBackend) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toRead) == 0 {
		return 0, nil
	}
	n := copy(p, s.toRead)
	s.toRead = s.toRead[n:]
	return n, nil
}

func (s *scriptedBackend) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := p[3]
	a0 := binary.BigEndian.Uint32(p[4:8])
	a1 := binary.BigEndian.Uint32(p[8:12])
	cmd := &sc64proto.Command{ID: id, Args: [2]uint32{a0, a1}, Payload: append([]byte(nil), p[12:]...)}

	h, ok := s.handlers[id]
	if !ok {
		panic("scriptedBackend: no handler registered for command " + string(id))
	}
	payload, isError := h(cmd)
	tag := "CMP"
	if isError {
		tag = "ERR"
	}
	buf := make([]byte, 8+len(payload))
	copy(buf[0:3], tag)
	buf[3] = id
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	s.toRead = append(s.toRead, buf...)
	return len(p), nil
}

func (s *scriptedBackend) Close() error           { return nil }
func (s *scriptedBackend) DiscardInput() error    { return nil }
func (s *scriptedBackend) DiscardOutput() error   { return nil }
func (s *scriptedBackend) SetDTR(on bool) error   { return nil }
func (s *scriptedBackend) ReadDSR() (bool, error) { return true, nil }

func okHandler(payload []byte) func(*sc64proto.Command) ([]byte, bool) {
	return func(*sc64proto.Command) ([]byte, bool) { return payload, false }
}

func newTestDeployer(sb *scriptedBackend) *deployer.Deployer {
	return deployer.New(link.New(sb))
}

func TestDispatchButtonCyclesActiveDiskAndReportsChange(t *testing.T) {
	sb := newScriptedBackend()
	sb.on('C', okHandler(nil)) // Set64DDDiskState
	d := newTestDeployer(sb)

	l := New(d, &Handlers{Disks: []*disk.Disk{{}, {}}, ActiveDisk: 0}, nil)
	require.NoError(t, l.dispatch(types.PacketButton, nil))
	require.Equal(t, 1, l.h.ActiveDisk)

	require.NoError(t, l.dispatch(types.PacketButton, nil))
	require.Equal(t, 0, l.h.ActiveDisk)
}

func TestDispatchDiskWithNoActiveDiskReportsError(t *testing.T) {
	sb := newScriptedBackend()
	var gotErrBit uint32
	sb.on('D', func(cmd *sc64proto.Command) ([]byte, bool) {
		gotErrBit = cmd.Args[0]
		return nil, false
	})
	d := newTestDeployer(sb)

	l := New(d, &Handlers{ActiveDisk: -1}, nil)
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], uint32(types.DiskReadBlock))
	require.NoError(t, l.dispatch(types.PacketDisk, payload))
	require.Equal(t, uint32(1), gotErrBit)
}

func TestDispatchDebugWritesUTF8ByDefault(t *testing.T) {
	sb := newScriptedBackend()
	d := newTestDeployer(sb)
	var out bytes.Buffer

	l := New(d, &Handlers{DebugWriter: &out}, nil)
	payload := make([]byte, 4+5)
	binary.BigEndian.PutUint32(payload[0:4], uint32('U')<<24|5)
	copy(payload[4:], []byte("hello"))

	require.NoError(t, l.dispatch(types.PacketDebug, payload))
	require.Equal(t, "hello", out.String())
}

func TestDispatchAuxInvokesCallback(t *testing.T) {
	sb := newScriptedBackend()
	d := newTestDeployer(sb)
	var got uint32
	l := New(d, &Handlers{OnAux: func(v uint32) { got = v }}, nil)

	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, 0xDEADBEEF)
	require.NoError(t, l.dispatch(types.PacketAuxData, payload))
	require.Equal(t, uint32(0xDEADBEEF), got)
}

func TestDispatchDataFlushedIsNotFatal(t *testing.T) {
	sb := newScriptedBackend()
	d := newTestDeployer(sb)
	l := New(d, &Handlers{}, nil)
	require.NoError(t, l.dispatch(types.PacketDataFlushed, nil))
}

func TestDispatchSaveWritebackSkippedWithoutSavePath(t *testing.T) {
	sb := newScriptedBackend()
	d := newTestDeployer(sb)
	l := New(d, &Handlers{}, nil)
	require.NoError(t, l.dispatch(types.PacketSaveWriteback, nil))
}

func TestDispatchSaveWritebackWritesFile(t *testing.T) {
	sb := newScriptedBackend()
	cfgPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(cfgPayload, uint32(types.SaveSram))
	sb.on('c', okHandler(cfgPayload))
	saveData := bytes.Repeat([]byte{0x42}, 32*1024)
	sb.on('m', okHandler(saveData))

	d := newTestDeployer(sb)
	path := filepath.Join(t.TempDir(), "save.sav")
	l := New(d, &Handlers{SavePath: path}, nil)

	require.NoError(t, l.dispatch(types.PacketSaveWriteback, nil))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, saveData, written)
}

func TestRunStopsOnStopSignal(t *testing.T) {
	sb := newScriptedBackend()
	sb.on('R', okHandler(nil)) // ResetState deferred by Run
	d := newTestDeployer(sb)

	l := New(d, &Handlers{}, nil)
	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	l.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRunForwardsStdinAsDebugPacket(t *testing.T) {
	sb := newScriptedBackend()
	sb.on('R', okHandler(nil))
	var forwarded []byte
	sb.on('U', func(cmd *sc64proto.Command) ([]byte, bool) {
		forwarded = cmd.Payload
		return nil, false
	})
	d := newTestDeployer(sb)

	stdin := make(chan string, 1)
	l := New(d, &Handlers{}, stdin)
	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	stdin <- "hello console"

	require.Eventually(t, func() bool {
		return string(forwarded) == "hello console"
	}, 2*time.Second, 5*time.Millisecond)

	l.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
