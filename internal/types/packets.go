package types

import (
	"encoding/binary"

	"sc64/internal/sc64err"
)

// DataPacketKind is the id byte in the header of every device-originated
// Packet frame (spec §4.3/§9). The original_source revision surveyed only
// implemented Button/Debug/Disk/IsViewer/UpdateStatus; SaveWriteback,
// AuxData and DataFlushed are added here per spec.md directly, following the
// established one-id-byte convention (resolved Open Question, see DESIGN.md).
type DataPacketKind byte

const (
	PacketButton        DataPacketKind = 'B'
	PacketDebug         DataPacketKind = 'U'
	PacketDisk          DataPacketKind = 'D'
	PacketIsViewer      DataPacketKind = 'I'
	PacketUpdateStatus  DataPacketKind = 'F'
	PacketSaveWriteback DataPacketKind = 'S'
	PacketAuxData       DataPacketKind = 'X'
	PacketDataFlushed   DataPacketKind = 'G'
)

// DebugPacket carries a 4-byte BE header (datatype in the high byte, 24-bit
// length in the low bits) followed by that many bytes of payload.
type DebugPacket struct {
	DataType byte
	Data     []byte
}

func DecodeDebugPacket(payload []byte) (DebugPacket, error) {
	if len(payload) < 4 {
		return DebugPacket{}, sc64err.New(sc64err.MalformedResponse, "debug packet shorter than header")
	}
	header := binary.BigEndian.Uint32(payload[0:4])
	dataType := byte(header >> 24)
	length := header & 0x00FFFFFF
	if uint32(len(payload)-4) < length {
		return DebugPacket{}, sc64err.New(sc64err.MalformedResponse, "debug packet truncated")
	}
	return DebugPacket{DataType: dataType, Data: payload[4 : 4+length]}, nil
}

// DiskCommand distinguishes the two 64DD block-service requests.
type DiskCommand uint32

const (
	DiskReadBlock  DiskCommand = 1
	DiskWriteBlock DiskCommand = 2
)

// DiskBlock addresses one physical (track, head, block) unit of a 64DD
// image, as packed into the 32-bit "thb" word: track in bits [2:13], head
// in bit 1, block in bit 0.
type DiskBlock struct {
	Address uint32
	Track   uint32
	Head    uint32
	Block   uint32
	Data    []byte
}

// DiskPacket is the decoded form of a PacketDisk payload.
type DiskPacket struct {
	Command DiskCommand
	Block   DiskBlock
}

func DecodeDiskPacket(payload []byte) (DiskPacket, error) {
	if len(payload) < 8 {
		return DiskPacket{}, sc64err.New(sc64err.MalformedResponse, "disk packet shorter than header")
	}
	command := binary.BigEndian.Uint32(payload[0:4])
	thb := binary.BigEndian.Uint32(payload[4:8])
	block := DiskBlock{
		Address: thb,
		Track:   (thb >> 2) & 0xFFF,
		Head:    (thb >> 1) & 1,
		Block:   thb & 1,
	}
	switch DiskCommand(command) {
	case DiskReadBlock:
		return DiskPacket{Command: DiskReadBlock, Block: block}, nil
	case DiskWriteBlock:
		block.Data = payload[8:]
		return DiskPacket{Command: DiskWriteBlock, Block: block}, nil
	default:
		return DiskPacket{}, sc64err.New(sc64err.MalformedResponse, "unknown disk packet command")
	}
}

// FirmwareStatus is the status word returned by the firmware update and
// backup commands (spec §4.9).
type FirmwareStatus byte

const (
	FirmwareOk              FirmwareStatus = 0
	FirmwareErrToken        FirmwareStatus = 1
	FirmwareErrChecksum     FirmwareStatus = 2
	FirmwareErrSize         FirmwareStatus = 3
	FirmwareErrUnknownChunk FirmwareStatus = 4
	FirmwareErrRead         FirmwareStatus = 5
)

func (s FirmwareStatus) String() string {
	switch s {
	case FirmwareOk:
		return "ok"
	case FirmwareErrToken:
		return "invalid token"
	case FirmwareErrChecksum:
		return "checksum mismatch"
	case FirmwareErrSize:
		return "invalid size"
	case FirmwareErrUnknownChunk:
		return "unknown chunk"
	case FirmwareErrRead:
		return "read error"
	default:
		return "unknown status"
	}
}

// UpdateStatus reports update progress through PacketUpdateStatus frames.
type UpdateStatus byte

const (
	UpdateMCU        UpdateStatus = 1
	UpdateFPGA       UpdateStatus = 2
	UpdateBootloader UpdateStatus = 3
	UpdateDone       UpdateStatus = 0x80
	UpdateErr        UpdateStatus = 0xFF
)
