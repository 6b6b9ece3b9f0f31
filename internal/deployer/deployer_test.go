package deployer

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"sc64/internal/link"
	"sc64/internal/sc64proto"
	"sc64/internal/sdcard"
	"sc64/internal/types"
)

// scriptedBackend decodes each outgoing command frame and hands back
// whatever response its handler for that command id produces, letting a
// test script a whole multi-command operation (e.g. UploadSave's
// configGet-then-memoryWrite sequence) without pre-seeding a flat byte
// buffer in call order.
type scriptedBackend struct {
	mu       sync.Mutex
	handlers map[byte]func(cmd *sc64proto.Command) (payload []byte, isError bool)
	toRead   []byte
	written  []*sc64proto.Command
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{handlers: map[byte]func(cmd *sc64proto.Command) ([]byte, bool){}}
}

func (s *scriptedBackend) on(id byte, h func(cmd *sc64proto.Command) ([]byte, bool)) {
	s.handlers[id] = h
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
	s.written = append(s.written, cmd)

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

func newTestDeployer(sb *scriptedBackend) *Deployer {
	return New(link.New(sb))
}

func TestCheckDeviceAcceptsExpectedIdentifier(t *testing.T) {
	sb := newScriptedBackend()
	sb.on('v', okHandler([]byte("SCv2")))
	d := newTestDeployer(sb)

	require.NoError(t, d.CheckDevice())
}

func TestCheckDeviceRejectsUnexpectedIdentifier(t *testing.T) {
	sb := newScriptedBackend()
	sb.on('v', okHandler([]byte("XXXX")))
	d := newTestDeployer(sb)

	require.Error(t, d.CheckDevice())
}

func TestCheckFirmwareVersionRejectsOldVersion(t *testing.T) {
	sb := newScriptedBackend()
	payload := make([]byte, 8)
	binary.BigEndian.PutUint16(payload[0:2], 2)
	binary.BigEndian.PutUint16(payload[2:4], 10)
	sb.on('V', okHandler(payload))
	d := newTestDeployer(sb)

	_, err := d.CheckFirmwareVersion()
	require.Error(t, err)
}

func TestCheckFirmwareVersionAcceptsSupportedVersion(t *testing.T) {
	sb := newScriptedBackend()
	payload := make([]byte, 8)
	binary.BigEndian.PutUint16(payload[0:2], 2)
	binary.BigEndian.PutUint16(payload[2:4], 18)
	sb.on('V', okHandler(payload))
	d := newTestDeployer(sb)

	v, err := d.CheckFirmwareVersion()
	require.NoError(t, err)
	require.Equal(t, uint16(18), v.Minor)
}

func TestUploadSaveUsesConfiguredSaveType(t *testing.T) {
	sb := newScriptedBackend()
	cfgPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(cfgPayload, uint32(types.SaveSram))
	sb.on('c', okHandler(cfgPayload))
	var written []byte
	sb.on('M', func(cmd *sc64proto.Command) ([]byte, bool) {
		written = cmd.Payload
		return nil, false
	})
	d := newTestDeployer(sb)

	data := make([]byte, sramLength)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, d.UploadSave(data))
	require.Equal(t, data, written)
}

func TestUploadSaveRejectsWrongLength(t *testing.T) {
	sb := newScriptedBackend()
	cfgPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(cfgPayload, uint32(types.SaveSram))
	sb.on('c', okHandler(cfgPayload))
	d := newTestDeployer(sb)

	err := d.UploadSave(make([]byte, 4))
	require.Error(t, err)
}

func TestUploadSaveRejectsNoSaveTypeConfigured(t *testing.T) {
	sb := newScriptedBackend()
	cfgPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(cfgPayload, uint32(types.SaveNone))
	sb.on('c', okHandler(cfgPayload))
	d := newTestDeployer(sb)

	err := d.UploadSave(make([]byte, 4))
	require.Error(t, err)
}

func TestDownloadSaveReadsConfiguredRegion(t *testing.T) {
	sb := newScriptedBackend()
	cfgPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(cfgPayload, uint32(types.SaveEeprom4k))
	sb.on('c', okHandler(cfgPayload))
	expected := make([]byte, eeprom4kLength)
	for i := range expected {
		expected[i] = byte(i % 251)
	}
	sb.on('m', okHandler(expected))
	d := newTestDeployer(sb)

	got, err := d.DownloadSave()
	require.NoError(t, err)
	require.Equal(t, expected, got)
}

func TestUploadROMRejectsOutOfRangeLength(t *testing.T) {
	sb := newScriptedBackend()
	d := newTestDeployer(sb)

	require.Error(t, d.UploadROM(make([]byte, 10), false))
}

func TestUploadROMDetectsByteSwappedHeaderAndChunks(t *testing.T) {
	sb := newScriptedBackend()
	var configs []*sc64proto.Command
	sb.on('C', func(cmd *sc64proto.Command) ([]byte, bool) {
		configs = append(configs, cmd)
		return nil, false
	})
	var chunks [][]byte
	sb.on('M', func(cmd *sc64proto.Command) ([]byte, bool) {
		chunks = append(chunks, cmd.Payload)
		return nil, false
	})
	d := newTestDeployer(sb)

	rom := make([]byte, 0x1000+16)
	rom[0], rom[1], rom[2], rom[3] = 0x37, 0x80, 0x40, 0x12
	for i := 4; i < len(rom); i += 2 {
		rom[i] = byte(i)
		rom[i+1] = byte(i + 1)
	}

	require.NoError(t, d.UploadROM(rom, false))
	require.Len(t, chunks, 1)
	// byte-swapped back to big-endian: each pair reversed.
	require.Equal(t, byte(5), chunks[0][4])
	require.Equal(t, byte(4), chunks[0][5])
	// small ROM: neither the shadow nor the extended region is needed. Config
	// order is write-enable(on), shadow, extended, write-enable(off deferred).
	require.Len(t, configs, 4)
	require.Equal(t, uint32(types.ConfigRomShadowEnable), configs[1].Args[0])
	require.Equal(t, uint32(types.Off), configs[1].Args[1])
	require.Equal(t, uint32(types.ConfigRomExtendedEnable), configs[2].Args[0])
	require.Equal(t, uint32(types.Off), configs[2].Args[1])
}

func TestUploadROMSplitsAcrossShadowAndExtendedRegions(t *testing.T) {
	sb := newScriptedBackend()
	var configs []*sc64proto.Command
	sb.on('C', func(cmd *sc64proto.Command) ([]byte, bool) {
		configs = append(configs, cmd)
		return nil, false
	})
	var sdramWrites, shadowWrites, extendedWrites [][]byte
	sb.on('M', func(cmd *sc64proto.Command) ([]byte, bool) {
		switch {
		case cmd.Args[0] >= romExtendedAddress && cmd.Args[0] < romExtendedAddress+romExtendedLength:
			extendedWrites = append(extendedWrites, cmd.Payload)
		case cmd.Args[0] >= romShadowAddress:
			shadowWrites = append(shadowWrites, cmd.Payload)
		default:
			sdramWrites = append(sdramWrites, cmd.Payload)
		}
		return nil, false
	})
	const eraseBlockSize = 64 * 1024
	var erasedBlocks []uint32
	sb.on('p', func(cmd *sc64proto.Command) ([]byte, bool) {
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, eraseBlockSize)
		return payload, false
	})
	sb.on('P', func(cmd *sc64proto.Command) ([]byte, bool) {
		erasedBlocks = append(erasedBlocks, cmd.Args[0])
		return nil, false
	})
	d := newTestDeployer(sb)

	// 64MiB-128KiB SDRAM + 128KiB shadow + 14MiB extended, filling every region.
	romLength := int(sdramLength) + int(romExtendedLength)
	rom := make([]byte, romLength)
	rom[0], rom[1], rom[2], rom[3] = 0x80, 0x37, 0x12, 0x40 // already big-endian

	require.NoError(t, d.UploadROM(rom, false))

	// write-enable(on), shadow, extended, write-enable(off deferred).
	require.Len(t, configs, 4)
	require.Equal(t, uint32(types.ConfigRomShadowEnable), configs[1].Args[0])
	require.Equal(t, uint32(types.On), configs[1].Args[1])
	require.Equal(t, uint32(types.ConfigRomExtendedEnable), configs[2].Args[0])
	require.Equal(t, uint32(types.On), configs[2].Args[1])

	var sdramTotal, shadowTotal, extendedTotal int
	for _, c := range sdramWrites {
		sdramTotal += len(c)
	}
	for _, c := range shadowWrites {
		shadowTotal += len(c)
	}
	for _, c := range extendedWrites {
		extendedTotal += len(c)
	}
	require.Equal(t, int(sdramLength-romShadowLength), sdramTotal)
	require.Equal(t, int(romShadowLength), shadowTotal)
	require.Equal(t, romLength-int(sdramLength), extendedTotal)
	require.NotEmpty(t, erasedBlocks)
}

func TestDumpMemoryRejectsOutOfRangeAddress(t *testing.T) {
	sb := newScriptedBackend()
	d := newTestDeployer(sb)

	_, err := d.DumpMemory(MemoryLength, 16)
	require.Error(t, err)
}

func TestSetByteSwapAdapterSatisfiesBlockDriver(t *testing.T) {
	sb := newScriptedBackend()
	statusPayload := make([]byte, 8)
	sb.on('i', okHandler(statusPayload))
	d := newTestDeployer(sb)

	require.NoError(t, d.SetByteSwap(true))
}

func TestReadSectorsChunksAcrossMultipleTransfers(t *testing.T) {
	sb := newScriptedBackend()
	readResultPayload := make([]byte, 4)
	sb.on('s', okHandler(readResultPayload))
	sectorsPerChunk := sdcard.ChunkLength / sdcard.SectorSize
	totalSectors := sectorsPerChunk*2 + 3
	var memReads int
	sb.on('m', func(cmd *sc64proto.Command) ([]byte, bool) {
		memReads++
		return make([]byte, cmd.Args[1]), false
	})
	d := newTestDeployer(sb)

	out, err := d.ReadSectors(0, uint32(totalSectors))
	require.NoError(t, err)
	require.Len(t, out, totalSectors*sdcard.SectorSize)
	require.Equal(t, 3, memReads)
}
