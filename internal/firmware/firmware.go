// Package firmware parses and validates the SC64 firmware update container
// format (spec §4.9), transcribed from
// original_source/sw/deployer/src/sc64/firmware.rs.
package firmware

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"sc64/internal/sc64err"
)

// ChunkID names one section of a firmware update file.
type ChunkID uint32

const (
	ChunkUpdateInfo     ChunkID = 1
	ChunkMcuData        ChunkID = 2
	ChunkFpgaData       ChunkID = 3
	ChunkBootloaderData ChunkID = 4
	ChunkPrimerData     ChunkID = 5
)

func (id ChunkID) String() string {
	switch id {
	case ChunkUpdateInfo:
		return "Update info"
	case ChunkMcuData:
		return "MCU data"
	case ChunkFpgaData:
		return "FPGA data"
	case ChunkBootloaderData:
		return "Bootloader data"
	case ChunkPrimerData:
		return "Primer data"
	default:
		return "Unknown chunk"
	}
}

func chunkIDFromU32(v uint32) (ChunkID, error) {
	switch ChunkID(v) {
	case ChunkUpdateInfo, ChunkMcuData, ChunkFpgaData, ChunkBootloaderData, ChunkPrimerData:
		return ChunkID(v), nil
	default:
		return 0, sc64err.New(sc64err.UnknownChunk, "unknown chunk id inside firmware update file")
	}
}

// updateToken opens every firmware update container.
var updateToken = [16]byte{'S', 'C', '6', '4', ' ', 'U', 'p', 'd', 'a', 't', 'e', ' ', 'v', '2', '.', '0'}

// Firmware holds whichever chunks a parsed update file contained. Each
// byte-slice field is nil when that chunk was absent; HasUpdateInfo reports
// whether UpdateInfo was present.
type Firmware struct {
	UpdateInfo     string
	HasUpdateInfo  bool
	McuData        []byte
	FpgaData       []byte
	BootloaderData []byte
	PrimerData     []byte
}

// String renders a human-readable summary, mirroring the original's
// Display impl.
func (f Firmware) String() string {
	s := "No update info data included"
	if f.HasUpdateInfo {
		s = f.UpdateInfo
	}
	s += describePresence("\nMCU data present, length: 0x%X", "\nNo MCU data included", f.McuData)
	s += describePresence("\nFPGA data present, length: 0x%X", "\nNo FPGA data included", f.FpgaData)
	s += describePresence("\nBootloader data present, length: 0x%X", "\nNo bootloader data included", f.BootloaderData)
	s += describePresence("\nPrimer data present, length: 0x%X", "\nNo primer data included", f.PrimerData)
	return s
}

func describePresence(present, absent string, data []byte) string {
	if data == nil {
		return absent
	}
	return fmt.Sprintf(present, len(data))
}

// Verify parses and checksum-validates a firmware update container,
// returning the chunks it found.
func Verify(data []byte) (Firmware, error) {
	if len(data) < 16 {
		return Firmware{}, sc64err.New(sc64err.InvalidHeader, "invalid firmware update header")
	}
	var token [16]byte
	copy(token[:], data[0:16])
	if token != updateToken {
		return Firmware{}, sc64err.New(sc64err.InvalidHeader, "invalid firmware update header")
	}

	var fw Firmware
	offset := 16

	for {
		remaining := len(data) - offset
		if remaining == 0 {
			break
		}
		if remaining < 16 {
			return Firmware{}, sc64err.New(sc64err.ReadError, "unexpected end of data in firmware update")
		}
		header := data[offset : offset+16]
		offset += 16

		rawID := binary.LittleEndian.Uint32(header[0:4])
		alignedLength := binary.LittleEndian.Uint32(header[4:8])
		checksum := binary.LittleEndian.Uint32(header[8:12])
		dataLength := binary.LittleEndian.Uint32(header[12:16])

		id, err := chunkIDFromU32(rawID)
		if err != nil {
			return Firmware{}, err
		}

		if alignedLength < 8+dataLength {
			return Firmware{}, sc64err.New(sc64err.ChunkSize, "invalid chunk size in firmware update")
		}
		if uint32(len(data)-offset) < dataLength {
			return Firmware{}, sc64err.New(sc64err.ReadError, "unexpected end of data in firmware update")
		}

		payload := data[offset : offset+int(dataLength)]
		offset += int(dataLength)

		align := int(alignedLength) - 4 - 4 - int(dataLength)
		offset += align

		if crc32.ChecksumIEEE(payload) != checksum {
			return Firmware{}, sc64err.New(sc64err.ChunkChecksum, fmt.Sprintf("invalid checksum for chunk [%s]", id))
		}

		switch id {
		case ChunkUpdateInfo:
			fw.UpdateInfo = string(payload)
			fw.HasUpdateInfo = true
		case ChunkMcuData:
			fw.McuData = payload
		case ChunkFpgaData:
			fw.FpgaData = payload
		case ChunkBootloaderData:
			fw.BootloaderData = payload
		case ChunkPrimerData:
			fw.PrimerData = payload
		}
	}

	return fw, nil
}
