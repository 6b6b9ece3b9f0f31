package deployer

import "sc64/internal/sc64err"

// memoryWriteChunked splits data into MemoryChunkLength-sized pieces before
// each command_memory_write call, mirroring mod.rs's chunked upload helpers
// that keep any single USB/serial transfer within the device's buffer size.
// transform, if non-nil, is applied to each chunk before it is sent (used by
// upload_rom's byte-swap step).
func (d *Deployer) memoryWriteChunked(address uint32, data []byte, transform func([]byte) []byte) error {
	for offset := 0; offset < len(data); offset += memoryChunkLength {
		end := offset + memoryChunkLength
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		if transform != nil {
			chunk = transform(chunk)
		}
		if err := d.memoryWrite(address+uint32(offset), chunk); err != nil {
			return err
		}
	}
	return nil
}

// memoryReadChunked is memoryWriteChunked's mirror image for reads.
func (d *Deployer) memoryReadChunked(address uint32, length int, transform func([]byte) []byte) ([]byte, error) {
	out := make([]byte, 0, length)
	for offset := 0; offset < length; offset += memoryChunkLength {
		n := memoryChunkLength
		if offset+n > length {
			n = length - offset
		}
		chunk, err := d.memoryRead(address+uint32(offset), n)
		if err != nil {
			return nil, err
		}
		if transform != nil {
			chunk = transform(chunk)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// flashErase erases every block covering [address, address+length), sized by
// the device-reported erase block size (queried via flash_wait_busy with
// wait=false), mirroring mod.rs's flash_erase.
func (d *Deployer) flashErase(address, length uint32) error {
	blockSize, err := d.flashWaitBusy(false)
	if err != nil {
		return err
	}
	if blockSize == 0 {
		return sc64err.New(sc64err.MalformedResponse, "device reported a zero flash erase block size")
	}
	for offset := uint32(0); offset < length; offset += blockSize {
		if err := d.flashEraseBlock(address + offset); err != nil {
			return err
		}
	}
	return nil
}

// flashProgram erases the destination region then writes data into flash via
// the SDRAM staging region, draining the controller's busy flag with a single
// blocking flash_wait_busy(wait=1) call, the way mod.rs's flash_program does.
func (d *Deployer) flashProgram(address uint32, data []byte) error {
	if err := d.flashErase(address, uint32(len(data))); err != nil {
		return err
	}
	if err := d.memoryWriteChunked(address, data, nil); err != nil {
		return err
	}
	_, err := d.flashWaitBusy(true)
	return err
}
