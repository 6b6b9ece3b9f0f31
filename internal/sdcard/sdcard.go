// Package sdcard models the embedded FAT library's external-collaborator
// shape (spec §1/§5/§9): a single global block driver the library calls
// back into, plus the device-side SD paging commands the deployer issues on
// its behalf. The FAT library itself is out of scope; only the callback
// interface and the global single-driver policy are modeled here.
package sdcard

import (
	"sync"

	"sc64/internal/sc64err"
)

// BlockDriver is the callback surface the embedded FAT library expects: raw
// sector-addressed read/write plus the byte-swap toggle. The other
// operations the device's 'i' command multiplexes (init/deinit/status/info)
// are not part of this interface.
type BlockDriver interface {
	ReadSectors(sector uint32, count uint32) ([]byte, error)
	WriteSectors(sector uint32, data []byte) error
	SetByteSwap(enabled bool) error
}

// SDOp selects which lifecycle action the 'i' command performs.
type SDOp uint32

const (
	OpInit SDOp = iota
	OpDeinit
	OpStatus
	OpInfo
	OpByteSwap
)

var (
	mu      sync.Mutex
	current BlockDriver
)

// Install registers driver as the process-wide active block driver for the
// duration of an SD session. A second Install before Uninstall fails with
// DriverInstalled — two concurrent SD sessions are a programming error, not
// a race to arbitrate (spec §5/§9).
func Install(driver BlockDriver) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return sc64err.New(sc64err.DriverInstalled, "an SD block driver is already installed")
	}
	current = driver
	return nil
}

// Uninstall releases the active driver. Safe to call even if nothing is
// installed.
func Uninstall() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}

// Active returns the currently installed driver, or nil.
func Active() BlockDriver {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// SectorSize is the fixed sector length SD chunking is measured in.
const SectorSize = 512

// ChunkLength is the device-side SD paging buffer size (spec §4.10):
// sector_count = chunk_bytes/512, and chunk length must be a multiple of
// 512.
const ChunkLength = 128 * 1024

// ValidateChunkLength reports whether length is usable as an SD chunk size.
func ValidateChunkLength(length int) error {
	if length <= 0 || length%SectorSize != 0 {
		return sc64err.New(sc64err.LengthMismatch, "SD chunk length must be a positive multiple of the sector size")
	}
	return nil
}

// FatResult mirrors the embedded FAT library's FRESULT taxonomy (spec §7:
// "twenty-one variants forwarded from the embedded library"), forwarded
// verbatim rather than reinterpreted.
type FatResult uint32

const (
	FatOK FatResult = iota
	FatDiskErr
	FatIntErr
	FatNotReady
	FatNoFile
	FatNoPath
	FatInvalidName
	FatDenied
	FatExist
	FatInvalidObject
	FatWriteProtected
	FatInvalidDrive
	FatNotEnabled
	FatNoFilesystem
	FatMkfsAborted
	FatTimeout
	FatLocked
	FatNotEnoughCore
	FatTooManyOpenFiles
	FatInvalidParameter
	FatUnknown
)

func (r FatResult) String() string {
	switch r {
	case FatOK:
		return "ok"
	case FatDiskErr:
		return "disk error"
	case FatIntErr:
		return "internal error"
	case FatNotReady:
		return "drive not ready"
	case FatNoFile:
		return "no such file"
	case FatNoPath:
		return "no such path"
	case FatInvalidName:
		return "invalid path name"
	case FatDenied:
		return "access denied"
	case FatExist:
		return "already exists"
	case FatInvalidObject:
		return "invalid object"
	case FatWriteProtected:
		return "write protected"
	case FatInvalidDrive:
		return "invalid drive"
	case FatNotEnabled:
		return "volume not enabled"
	case FatNoFilesystem:
		return "no filesystem"
	case FatMkfsAborted:
		return "mkfs aborted"
	case FatTimeout:
		return "timeout"
	case FatLocked:
		return "locked"
	case FatNotEnoughCore:
		return "not enough memory"
	case FatTooManyOpenFiles:
		return "too many open files"
	case FatInvalidParameter:
		return "invalid parameter"
	default:
		return "unknown FAT result"
	}
}
