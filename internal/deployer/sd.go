package deployer

import (
	"sc64/internal/sc64err"
	"sc64/internal/sdcard"
)

// sdBufferAddress is the device-side scratch buffer the SD paging commands
// stage sector data through before/after a host-side transfer, reusing the
// ROM-shadow scratch window since both are transient staging areas never
// live at the same time as an SD session.
const sdBufferAddress = romShadowAddress

// InstallSDDriver registers driver as the active block driver for the
// duration of an SD session, then issues the device-side init op.
func (d *Deployer) InstallSDDriver(driver sdcard.BlockDriver) error {
	if err := sdcard.Install(driver); err != nil {
		return err
	}
	_, status, err := d.sdOp(uint32(sdcard.OpInit), 0)
	if err != nil {
		sdcard.Uninstall()
		return err
	}
	if sdcard.FatResult(status) != sdcard.FatOK {
		sdcard.Uninstall()
		return sc64err.New(sc64err.ReadError, sdcard.FatResult(status).String())
	}
	return nil
}

// UninstallSDDriver issues the device-side deinit op and releases the
// global driver.
func (d *Deployer) UninstallSDDriver() error {
	defer sdcard.Uninstall()
	_, _, err := d.sdOp(uint32(sdcard.OpDeinit), 0)
	return err
}

// SDStatus queries the device's current card status.
func (d *Deployer) SDStatus() (sdcard.FatResult, error) {
	_, status, err := d.sdOp(uint32(sdcard.OpStatus), 0)
	return sdcard.FatResult(status), err
}

// SDSetByteSwap toggles the device-side byte-swap applied to sector
// transfers, used when the attached card's sector endianness differs from
// the host's expectation.
func (d *Deployer) SDSetByteSwap(enabled bool) error {
	arg := uint32(0)
	if enabled {
		arg = 1
	}
	_, status, err := d.sdOp(uint32(sdcard.OpByteSwap), arg)
	if err != nil {
		return err
	}
	if sdcard.FatResult(status) != sdcard.FatOK {
		return sc64err.New(sc64err.ReadError, sdcard.FatResult(status).String())
	}
	return nil
}

// ReadSectors reads count sectors starting at sector into a host buffer,
// paging through the device-side scratch buffer ChunkLength bytes at a
// time, per spec §4.10's SD chunking rule (sector_count = chunk/512).
func (d *Deployer) ReadSectors(sector uint32, count uint32) ([]byte, error) {
	out := make([]byte, 0, int(count)*sdcard.SectorSize)
	sectorsPerChunk := uint32(sdcard.ChunkLength / sdcard.SectorSize)
	for remaining := count; remaining > 0; {
		n := sectorsPerChunk
		if n > remaining {
			n = remaining
		}
		if _, err := d.sdRead(sdBufferAddress, n, sector); err != nil {
			return nil, err
		}
		chunk, err := d.memoryRead(sdBufferAddress, int(n)*sdcard.SectorSize)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		sector += n
		remaining -= n
	}
	return out, nil
}

// WriteSectors writes data (a multiple of the sector size) to the card
// starting at sector, chunked the same way ReadSectors pages.
func (d *Deployer) WriteSectors(sector uint32, data []byte) error {
	if len(data)%sdcard.SectorSize != 0 {
		return sc64err.New(sc64err.LengthMismatch, "SD write data length must be a multiple of the sector size")
	}
	sectorsPerChunk := uint32(sdcard.ChunkLength / sdcard.SectorSize)
	offset := 0
	for offset < len(data) {
		n := sectorsPerChunk
		remainingSectors := uint32((len(data) - offset) / sdcard.SectorSize)
		if n > remainingSectors {
			n = remainingSectors
		}
		chunkLen := int(n) * sdcard.SectorSize
		if err := d.memoryWrite(sdBufferAddress, data[offset:offset+chunkLen]); err != nil {
			return err
		}
		if _, err := d.sdWrite(sdBufferAddress, n, sector); err != nil {
			return err
		}
		sector += n
		offset += chunkLen
	}
	return nil
}

// SetByteSwap satisfies sdcard.BlockDriver, so a Deployer can itself be
// installed as the embedded FAT library's global block driver (spec §5):
// the device is both the command target and, from the library's
// perspective, the disk.
func (d *Deployer) SetByteSwap(enabled bool) error { return d.SDSetByteSwap(enabled) }

// SendAux sends a 32-bit out-of-band AUX message to the device.
func (d *Deployer) SendAux(value uint32) error {
	return d.auxWrite(value)
}
