package deployer

import (
	"bytes"
	"time"

	"sc64/internal/backend"
	"sc64/internal/firmware"
	"sc64/internal/link"
	"sc64/internal/sc64err"
	"sc64/internal/types"
)

// OpenLocal opens a directly-attached device over a serial or FTDI backend
// that the caller has already probed and reset.
func OpenLocal(b backend.Backend) *Deployer {
	return New(link.New(b))
}

// OpenRemote dials a relay server and wraps the resulting tunnel connection.
func OpenRemote(address string) (*Deployer, error) {
	tb, err := backend.DialTCP(address)
	if err != nil {
		return nil, err
	}
	return New(link.New(tb)), nil
}

// CheckDevice confirms the attached device answers the identifier command
// with the expected "SCv2" magic.
func (d *Deployer) CheckDevice() error {
	id, err := d.identifierGet()
	if err != nil {
		return err
	}
	if id != sc64V2Identifier {
		return sc64err.New(sc64err.UnexpectedResponse, "attached device did not report the expected identifier")
	}
	return nil
}

// CheckFirmwareVersion confirms the device's firmware has the supported
// major version and at least the minimum minor version this package was
// written against; any other major version is rejected.
func (d *Deployer) CheckFirmwareVersion() (VersionInfo, error) {
	v, err := d.versionGet()
	if err != nil {
		return v, err
	}
	if v.Major != supportedMajorVersion || v.Minor < supportedMinorVersion {
		return v, sc64err.New(sc64err.UnsupportedVersion, "attached firmware is older than the minimum supported version")
	}
	return v, nil
}

// supportsFlashUpdate reports whether this firmware exposes the flash-backed
// firmware update commands, gated on a later minor version than the base
// supported one.
func (d *Deployer) supportsFlashUpdate(v VersionInfo) bool {
	return v.Major > supportedMajorVersion || (v.Major == supportedMajorVersion && v.Minor >= flashUpdateSupportedMinorVersion)
}

// ResetState resets the device's runtime state machine (menu return, save
// writeback disabled, 64DD disabled, ...).
func (d *Deployer) ResetState() error {
	return d.stateReset()
}

// GetDeviceState assembles every readable config/setting value plus live
// diagnostics into a single snapshot, mirroring mod.rs's get_device_state.
type DeviceState struct {
	BootloaderSwitch  types.Switch
	RomWriteEnable    types.Switch
	RomShadowEnable   types.Switch
	RomExtendedEnable types.Switch
	DdMode            types.DdMode
	IsvAddress        uint32
	BootMode          types.BootMode
	SaveType          types.SaveType
	CicSeed           types.CicSeed
	TvType            types.TvType
	DdSdEnable        types.Switch
	DdDriveType       types.DdDriveType
	DdDiskState       types.DdDiskState
	ButtonState       types.ButtonState
	ButtonMode        types.ButtonMode
	LedEnable         types.Switch
	DateTime          time.Time
	FpgaDebug         types.FpgaDebugData
	Diagnostics       types.DiagnosticData
}

func (d *Deployer) GetDeviceState() (DeviceState, error) {
	var s DeviceState
	var err error

	get := func(id types.ConfigID) (types.Config, error) { return d.configGet(id) }

	if c, e := get(types.ConfigBootloaderSwitch); e == nil {
		s.BootloaderSwitch = c.BootloaderSwitch
	} else {
		err = e
	}
	if c, e := get(types.ConfigRomWriteEnable); e == nil {
		s.RomWriteEnable = c.RomWriteEnable
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigRomShadowEnable); e == nil {
		s.RomShadowEnable = c.RomShadowEnable
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigRomExtendedEnable); e == nil {
		s.RomExtendedEnable = c.RomExtendedEnable
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigDdMode); e == nil {
		s.DdMode = c.DdMode
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigIsvAddress); e == nil {
		s.IsvAddress = c.IsvAddress
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigBootMode); e == nil {
		s.BootMode = c.BootMode
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigSaveType); e == nil {
		s.SaveType = c.SaveType
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigCicSeed); e == nil {
		s.CicSeed = c.CicSeed
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigTvType); e == nil {
		s.TvType = c.TvType
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigDdSdEnable); e == nil {
		s.DdSdEnable = c.DdSdEnable
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigDdDriveType); e == nil {
		s.DdDriveType = c.DdDriveType
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigDdDiskState); e == nil {
		s.DdDiskState = c.DdDiskState
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigButtonState); e == nil {
		s.ButtonState = c.ButtonState
	} else if err == nil {
		err = e
	}
	if c, e := get(types.ConfigButtonMode); e == nil {
		s.ButtonMode = c.ButtonMode
	} else if err == nil {
		err = e
	}
	if st, e := d.settingGet(types.SettingLedEnable); e == nil {
		s.LedEnable = st.LedEnable
	} else if err == nil {
		err = e
	}
	if bcd, e := d.timeGet(); e == nil {
		if t, e2 := types.DateTimeFromBCD(bcd); e2 == nil {
			s.DateTime = t
		} else if err == nil {
			err = e2
		}
	} else if err == nil {
		err = e
	}
	if fd, e := d.fpgaDebugDataGet(); e == nil {
		s.FpgaDebug = fd
	} else if err == nil {
		err = e
	}
	if dd, e := d.diagnosticDataGet(); e == nil {
		s.Diagnostics = dd
	} else if err == nil {
		err = e
	}

	return s, err
}

// SetBootMode updates the device's boot behavior.
func (d *Deployer) SetBootMode(m types.BootMode) error {
	return d.configSet(types.Config{ID: types.ConfigBootMode, BootMode: m})
}

// SetSaveType updates the save region's addressing scheme.
func (d *Deployer) SetSaveType(st types.SaveType) error {
	return d.configSet(types.Config{ID: types.ConfigSaveType, SaveType: st})
}

// SetTvType updates the reported video standard.
func (d *Deployer) SetTvType(tv types.TvType) error {
	return d.configSet(types.Config{ID: types.ConfigTvType, TvType: tv})
}

// GetDateTime reads the device's real-time clock.
func (d *Deployer) GetDateTime() (time.Time, error) {
	bcd, err := d.timeGet()
	if err != nil {
		return time.Time{}, err
	}
	return types.DateTimeFromBCD(bcd)
}

// SetDateTime writes the device's real-time clock.
func (d *Deployer) SetDateTime(t time.Time) error {
	bcd := types.BCDFromDateTime(t)
	a0 := uint32(bcd[0])<<24 | uint32(bcd[1])<<16 | uint32(bcd[2])<<8 | uint32(bcd[3])
	a1 := uint32(bcd[4])<<24 | uint32(bcd[5])<<16 | uint32(bcd[6])<<8
	return d.timeSet(a0, a1)
}

// SetLEDBlink toggles the device's activity LED.
func (d *Deployer) SetLEDBlink(on bool) error {
	return d.settingSet(types.Setting{ID: types.SettingLedEnable, LedEnable: types.SwitchFromBool(on)})
}

// ConfigureIsViewer64 enables or disables the IS-Viewer-64 debug channel at
// the given SDRAM-relative address, refusing to overlap the ROM shadow
// region the way mod.rs's configure_is_viewer_64 does.
func (d *Deployer) ConfigureIsViewer64(enable bool, address uint32) error {
	if enable {
		shadow, err := d.configGet(types.ConfigRomShadowEnable)
		if err != nil {
			return err
		}
		if shadow.RomShadowEnable == types.On && address+isvBufferLength > romShadowAddress-sdramAddress {
			return sc64err.New(sc64err.InvalidAddressRange, "IS-Viewer-64 buffer would overlap the ROM shadow region")
		}
		if err := d.configSet(types.Config{ID: types.ConfigIsvAddress, IsvAddress: address}); err != nil {
			return err
		}
		return nil
	}
	return d.configSet(types.Config{ID: types.ConfigIsvAddress, IsvAddress: 0})
}

// Configure64DD sets the 64DD register-interface exposure level.
func (d *Deployer) Configure64DD(mode types.DdMode) error {
	return d.configSet(types.Config{ID: types.ConfigDdMode, DdMode: mode})
}

// Set64DDDiskState reports whether a disk image is currently inserted.
func (d *Deployer) Set64DDDiskState(state types.DdDiskState) error {
	return d.configSet(types.Config{ID: types.ConfigDdDiskState, DdDiskState: state})
}

// SetSaveWriteback enables device-initiated save writeback, which reaches
// the host as SaveWriteback packets. Passing false sends nothing.
func (d *Deployer) SetSaveWriteback(enable bool) error {
	if !enable {
		return nil
	}
	return d.writebackEnable()
}

// ReceiveDataPacket blocks for the next out-of-band device packet and
// classifies it by its leading id byte.
func (d *Deployer) ReceiveDataPacket() (types.DataPacketKind, []byte, error) {
	pkt, err := d.link.ReceivePacket()
	if err != nil {
		return 0, nil, err
	}
	return types.DataPacketKind(pkt.ID), pkt.Payload, nil
}

// TryReceiveDataPacket attempts a single non-blocking poll for the next
// out-of-band packet. ok is false when nothing was available yet.
func (d *Deployer) TryReceiveDataPacket() (kind types.DataPacketKind, payload []byte, ok bool, err error) {
	pkt, err := d.link.TryReceivePacket()
	if err != nil {
		return 0, nil, false, err
	}
	if pkt == nil {
		return 0, nil, false, nil
	}
	return types.DataPacketKind(pkt.ID), pkt.Payload, true, nil
}

// ReplyDiskPacket answers a pending disk read/write request: hasError
// signals the 64DD core should report a read/write failure to the console.
func (d *Deployer) ReplyDiskPacket(hasError bool) error {
	return d.ddSetBlockReady(hasError)
}

// WriteDiskScratch stages a 64DD block's bytes into the device's real-time
// transfer scratch buffer ahead of a ReplyDiskPacket(false) for a read
// request.
func (d *Deployer) WriteDiskScratch(data []byte) error {
	if len(data) > ddBufferLength {
		return sc64err.New(sc64err.LengthMismatch, "disk block exceeds the scratch buffer size")
	}
	return d.memoryWrite(ddBufferAddress, data)
}

// SendDebugPacket forwards arbitrary data to the console's USB/debug
// channel tagged with the given datatype byte.
func (d *Deployer) SendDebugPacket(datatype byte, data []byte) error {
	return d.usbWrite(datatype, data)
}

// saveRegionAddress returns the address/length pair for a save type, per
// mod.rs's save address table (EEPROM lives at a fixed high address; every
// other save type shares the SDRAM-relative save region).
func saveRegionAddress(st types.SaveType) (uint32, int, error) {
	switch st {
	case types.SaveNone:
		return 0, 0, sc64err.New(sc64err.NoSaveTypeEnabled, "no save type is currently configured")
	case types.SaveEeprom4k:
		return eepromAddress, eeprom4kLength, nil
	case types.SaveEeprom16k:
		return eepromAddress, eeprom16kLength, nil
	case types.SaveSram:
		return saveAddress, sramLength, nil
	case types.SaveFlashram:
		return saveAddress, flashramLength, nil
	case types.SaveSramBanked:
		return saveAddress, sramBankedLength, nil
	case types.SaveSram1m:
		return saveAddress, sram1mLength, nil
	default:
		return 0, 0, sc64err.New(sc64err.MalformedResponse, "unknown save type")
	}
}

// UploadSave writes save data into the device's save region, sized to
// match the currently configured save type.
func (d *Deployer) UploadSave(data []byte) error {
	cfg, err := d.configGet(types.ConfigSaveType)
	if err != nil {
		return err
	}
	addr, length, err := saveRegionAddress(cfg.SaveType)
	if err != nil {
		return err
	}
	if len(data) != length {
		return sc64err.New(sc64err.LengthMismatch, "save data length does not match the configured save type")
	}
	return d.memoryWrite(addr, data)
}

// DownloadSave reads the device's save region back, sized to match the
// currently configured save type.
func (d *Deployer) DownloadSave() ([]byte, error) {
	cfg, err := d.configGet(types.ConfigSaveType)
	if err != nil {
		return nil, err
	}
	addr, length, err := saveRegionAddress(cfg.SaveType)
	if err != nil {
		return nil, err
	}
	return d.memoryRead(addr, length)
}

// detectEndianness inspects a ROM's magic header bytes and reports which
// byte-swap (if any) is needed to reach big-endian (.z64) order, the way
// mod.rs's upload_rom inspects the first four bytes before streaming.
func detectEndianness(header []byte) func([]byte) []byte {
	if len(header) < 4 {
		return func(b []byte) []byte { return b }
	}
	switch {
	case bytes.Equal(header[0:4], []byte{0x80, 0x37, 0x12, 0x40}):
		return func(b []byte) []byte { return b } // already big-endian
	case bytes.Equal(header[0:4], []byte{0x37, 0x80, 0x40, 0x12}):
		return swapEveryTwoBytes
	case bytes.Equal(header[0:4], []byte{0x40, 0x12, 0x37, 0x80}):
		return swapEveryFourBytes
	default:
		return func(b []byte) []byte { return b }
	}
}

func swapEveryTwoBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

func swapEveryFourBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := 0; i+3 < len(out); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = out[i+3], out[i+2], out[i+1], out[i]
	}
	return out
}

// UploadROM streams a ROM image into SDRAM, auto-detecting byte order from
// its header and splitting any overflow past sdramLength into the ROM
// shadow/extended regions via flash_program, the way mod.rs's upload_rom
// does. noShadow mirrors upload_rom's no_shadow flag: it suppresses the
// shadow split even when the image would otherwise need it.
func (d *Deployer) UploadROM(rom []byte, noShadow bool) error {
	if len(rom) < 0x1000 || len(rom) > maxRomLength {
		return sc64err.New(sc64err.InvalidAddressRange, "ROM length outside the supported range")
	}
	fix := detectEndianness(rom[0:4])
	fixed := fix(rom)
	length := uint32(len(fixed))

	if err := d.configSet(types.Config{ID: types.ConfigRomWriteEnable, RomWriteEnable: types.On}); err != nil {
		return err
	}
	defer d.configSet(types.Config{ID: types.ConfigRomWriteEnable, RomWriteEnable: types.Off})

	romShadowEnabled := !noShadow && length > sdramLength-romShadowLength
	romExtendedEnabled := length > sdramLength

	sdramPortion := length
	if romShadowEnabled {
		sdramPortion = min32(length, sdramLength-romShadowLength)
	} else {
		sdramPortion = min32(length, sdramLength)
	}

	if err := d.memoryWriteChunked(sdramAddress, fixed[:sdramPortion], nil); err != nil {
		return err
	}

	shadowSwitch := types.Off
	if romShadowEnabled {
		shadowSwitch = types.On
	}
	if err := d.configSet(types.Config{ID: types.ConfigRomShadowEnable, RomShadowEnable: shadowSwitch}); err != nil {
		return err
	}
	if romShadowEnabled {
		romShadowPortion := min32(length-sdramPortion, romShadowLength)
		if err := d.flashProgram(romShadowAddress, fixed[sdramPortion:sdramPortion+romShadowPortion]); err != nil {
			return err
		}
	}

	extendedSwitch := types.Off
	if romExtendedEnabled {
		extendedSwitch = types.On
	}
	if err := d.configSet(types.Config{ID: types.ConfigRomExtendedEnable, RomExtendedEnable: extendedSwitch}); err != nil {
		return err
	}
	if romExtendedEnabled {
		romExtendedPortion := min32(length-sdramLength, romExtendedLength)
		if err := d.flashProgram(romExtendedAddress, fixed[sdramLength:sdramLength+romExtendedPortion]); err != nil {
			return err
		}
	}

	return nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// UploadDDIPL streams a 64DD IPL image into its dedicated SDRAM region.
func (d *Deployer) UploadDDIPL(ipl []byte) error {
	if uint32(len(ipl)) > ddiplLength {
		return sc64err.New(sc64err.InvalidAddressRange, "64DD IPL length exceeds the available region")
	}
	return d.memoryWriteChunked(ddiplAddress, ipl, nil)
}

// DumpMemory reads back an arbitrary SDRAM-relative address range, bounded
// by the device's full addressable span.
func (d *Deployer) DumpMemory(address uint32, length int) ([]byte, error) {
	if uint64(address)+uint64(length) > uint64(MemoryLength) {
		return nil, sc64err.New(sc64err.InvalidAddressRange, "requested dump range exceeds device memory")
	}
	return d.memoryReadChunked(address, length, nil)
}

// CicParameters is the result of calculating a boot image's CIC seed and
// checksum, ready to hand to SetCicParameters.
type CicParameters struct {
	Seed     byte
	Checksum uint64
	Disable  bool
}

// CalculateCicParameters derives the CIC seed/checksum for a ROM's IPL3
// region (or accepts a caller-forced seed), without touching the device.
func CalculateCicParameters(rom []byte, forcedSeed *byte) (CicParameters, error) {
	const ipl3End = 0x40 + 0xFC0
	if len(rom) < ipl3End {
		return CicParameters{}, sc64err.New(sc64err.InvalidAddressRange, "ROM too short to contain an IPL3 region")
	}
	seed, checksum, err := signIPL3(rom[0x40:ipl3End], forcedSeed)
	if err != nil {
		return CicParameters{}, err
	}
	return CicParameters{Seed: seed, Checksum: checksum}, nil
}

// SetCicParameters pushes a previously calculated (or explicitly disabled)
// CIC configuration to the device.
func (d *Deployer) SetCicParameters(p CicParameters) error {
	return d.cicParamsSet(p.Disable, p.Seed, p.Checksum)
}

// BackupFirmware reads the currently running firmware image back from the
// device's flash-backed staging area.
func (d *Deployer) BackupFirmware() ([]byte, error) {
	status, length, err := d.firmwareBackup(firmwareAddressFlash)
	if err != nil {
		return nil, err
	}
	if status != types.FirmwareOk {
		return nil, sc64err.New(sc64err.ReadError, status.String())
	}
	return d.memoryReadChunked(firmwareAddressFlash, int(length), nil)
}

// UpdateFirmware verifies a firmware image's container format, uploads it,
// triggers the device-side update, and polls for completion, mirroring
// mod.rs's update_firmware async loop (bounded by firmwareUpdateTimeout).
func (d *Deployer) UpdateFirmware(data []byte) error {
	if _, err := firmware.Verify(data); err != nil {
		return err
	}
	if err := d.memoryWriteChunked(firmwareAddressSDRAM, data, nil); err != nil {
		return err
	}
	status, err := d.firmwareUpdate(firmwareAddressSDRAM, len(data))
	if err != nil {
		return err
	}
	if status != types.FirmwareOk {
		return sc64err.New(sc64err.InvalidHeader, status.String())
	}

	deadline := time.Now().Add(firmwareUpdateTimeout)
	var lastUpdateStatus types.UpdateStatus
	for time.Now().Before(deadline) {
		kind, payload, err := d.ReceiveDataPacket()
		if err != nil {
			if lastUpdateStatus == 0 {
				continue
			}
			return err
		}
		if kind != types.PacketUpdateStatus || len(payload) < 1 {
			continue
		}
		us := types.UpdateStatus(payload[0])
		switch us {
		case types.UpdateDone:
			time.Sleep(2 * time.Second)
			return nil
		case types.UpdateErr:
			return sc64err.New(sc64err.InvalidHeader, "device reported a fatal firmware update error")
		default:
			lastUpdateStatus = us
		}
	}
	return sc64err.New(sc64err.TimedOut, "timed out waiting for firmware update completion")
}
