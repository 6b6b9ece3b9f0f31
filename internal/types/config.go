// Package types implements the tagged-variant data model of spec §3/§4.3:
// Config/Setting enumerations, DataPacket kinds, and the small BCD-time and
// disk/debug packet wire conversions attached to them. Transcribed from
// original_source/sw/deployer/src/sc64/types.rs's ConfigId/Config/Switch/...
// TryFrom<u32> and From<T> for u32 pairs.
package types

import "sc64/internal/sc64err"

// ConfigID is the stable numeric id used as the first argument word of the
// config get/set commands ('c'/'C').
type ConfigID uint32

const (
	ConfigBootloaderSwitch ConfigID = iota
	ConfigRomWriteEnable
	ConfigRomShadowEnable
	ConfigDdMode
	ConfigIsvAddress
	ConfigBootMode
	ConfigSaveType
	ConfigCicSeed
	ConfigTvType
	ConfigDdSdEnable
	ConfigDdDriveType
	ConfigDdDiskState
	ConfigButtonState
	ConfigButtonMode
	ConfigRomExtendedEnable
)

// Switch is the binary on/off variant shared by several configs.
type Switch uint32

const (
	Off Switch = 0
	On  Switch = 1
)

func (s Switch) String() string {
	if s == On {
		return "Enabled"
	}
	return "Disabled"
}

func SwitchFromBool(b bool) Switch {
	if b {
		return On
	}
	return Off
}

func (s Switch) Bool() bool { return s != Off }

// DdMode selects how much of the 64DD register interface is exposed.
type DdMode uint32

const (
	DdModeNone DdMode = iota
	DdModeRegs
	DdModeIPL
	DdModeFull
)

func (m DdMode) String() string {
	switch m {
	case DdModeNone:
		return "Disabled"
	case DdModeRegs:
		return "Only registers"
	case DdModeIPL:
		return "Only 64DD IPL"
	case DdModeFull:
		return "Registers + 64DD IPL"
	default:
		return "Unknown"
	}
}

// BootMode selects what the device boots into.
type BootMode uint32

const (
	BootModeMenu BootMode = iota
	BootModeRom
	BootModeDdIPL
	BootModeDirectRom
	BootModeDirectDdIPL
)

func (m BootMode) String() string {
	switch m {
	case BootModeMenu:
		return "Menu"
	case BootModeRom:
		return "Bootloader -> ROM"
	case BootModeDdIPL:
		return "Bootloader -> 64DD IPL"
	case BootModeDirectRom:
		return "ROM (direct)"
	case BootModeDirectDdIPL:
		return "64DD IPL (direct)"
	default:
		return "Unknown"
	}
}

// SaveType determines the save region's address and length (§4.10). Both
// SramBanked and Sram1m are present and distinct per spec §9's resolved
// Open Question.
type SaveType uint32

const (
	SaveNone SaveType = iota
	SaveEeprom4k
	SaveEeprom16k
	SaveSram
	SaveFlashram
	SaveSramBanked
	SaveSram1m
)

func (s SaveType) String() string {
	switch s {
	case SaveNone:
		return "None"
	case SaveEeprom4k:
		return "EEPROM 4k"
	case SaveEeprom16k:
		return "EEPROM 16k"
	case SaveSram:
		return "SRAM"
	case SaveFlashram:
		return "FlashRAM"
	case SaveSramBanked:
		return "SRAM banked"
	case SaveSram1m:
		return "SRAM 1M"
	default:
		return "Unknown"
	}
}

func SaveTypeFromU32(v uint32) (SaveType, error) {
	if v > uint32(SaveSram1m) {
		return 0, sc64err.New(sc64err.MalformedResponse, "unknown save type code")
	}
	return SaveType(v), nil
}

// CicSeed is either an explicit seed byte or Auto (device-computed).
type CicSeed struct {
	Seed uint8
	Auto bool
}

func (c CicSeed) Value() uint32 {
	if c.Auto {
		return 0xFFFF
	}
	return uint32(c.Seed)
}

func CicSeedFromU32(v uint32) (CicSeed, error) {
	if v <= 0xFF {
		return CicSeed{Seed: uint8(v)}, nil
	}
	if v == 0xFFFF {
		return CicSeed{Auto: true}, nil
	}
	return CicSeed{}, sc64err.New(sc64err.MalformedResponse, "unknown CIC seed code")
}

// TvType selects the video standard the device reports to the console.
type TvType uint32

const (
	TvPAL TvType = iota
	TvNTSC
	TvMPAL
	TvAuto
)

// DdDriveType distinguishes the retail and development 64DD variants.
type DdDriveType uint32

const (
	DdDriveRetail DdDriveType = iota
	DdDriveDevelopment
)

// DdDiskState is the 64DD's disk-present state machine (spec §4.11).
type DdDiskState uint32

const (
	DiskEjected DdDiskState = iota
	DiskInserted
	DiskChanged
)

// ButtonState reflects the physical button, read-only from the host side.
type ButtonState uint32

const (
	ButtonNotPressed ButtonState = iota
	ButtonPressed
)

// ButtonMode selects what a button press does.
type ButtonMode uint32

const (
	ButtonModeNone ButtonMode = iota
	ButtonModeN64Irq
	ButtonModeUsbPacket
	ButtonModeDdDiskSwap
)

// Config is the sum type of every runtime knob (spec §3). Exactly one field
// is meaningful per ID; Value()/FromWire() convert to/from the wire pair
// (id, value) used by the 'c'/'C' commands.
type Config struct {
	ID               ConfigID
	BootloaderSwitch Switch
	RomWriteEnable   Switch
	RomShadowEnable  Switch
	DdMode           DdMode
	IsvAddress       uint32
	BootMode         BootMode
	SaveType         SaveType
	CicSeed          CicSeed
	TvType           TvType
	DdSdEnable       Switch
	DdDriveType      DdDriveType
	DdDiskState      DdDiskState
	ButtonState      ButtonState
	ButtonMode       ButtonMode
	RomExtendedEnable Switch
}

// Value returns the 32-bit wire value for the variant named by c.ID.
func (c Config) Value() uint32 {
	switch c.ID {
	case ConfigBootloaderSwitch:
		return uint32(c.BootloaderSwitch)
	case ConfigRomWriteEnable:
		return uint32(c.RomWriteEnable)
	case ConfigRomShadowEnable:
		return uint32(c.RomShadowEnable)
	case ConfigDdMode:
		return uint32(c.DdMode)
	case ConfigIsvAddress:
		return c.IsvAddress
	case ConfigBootMode:
		return uint32(c.BootMode)
	case ConfigSaveType:
		return uint32(c.SaveType)
	case ConfigCicSeed:
		return c.CicSeed.Value()
	case ConfigTvType:
		return uint32(c.TvType)
	case ConfigDdSdEnable:
		return uint32(c.DdSdEnable)
	case ConfigDdDriveType:
		return uint32(c.DdDriveType)
	case ConfigDdDiskState:
		return uint32(c.DdDiskState)
	case ConfigButtonState:
		return uint32(c.ButtonState)
	case ConfigButtonMode:
		return uint32(c.ButtonMode)
	case ConfigRomExtendedEnable:
		return uint32(c.RomExtendedEnable)
	default:
		return 0
	}
}

// ConfigFromWire builds the Config variant named by id from its wire value.
func ConfigFromWire(id ConfigID, value uint32) (Config, error) {
	c := Config{ID: id}
	var err error
	switch id {
	case ConfigBootloaderSwitch:
		c.BootloaderSwitch = Switch(min1(value))
	case ConfigRomWriteEnable:
		c.RomWriteEnable = Switch(min1(value))
	case ConfigRomShadowEnable:
		c.RomShadowEnable = Switch(min1(value))
	case ConfigDdMode:
		if value > uint32(DdModeFull) {
			return c, sc64err.New(sc64err.MalformedResponse, "unknown 64DD mode code")
		}
		c.DdMode = DdMode(value)
	case ConfigIsvAddress:
		c.IsvAddress = value
	case ConfigBootMode:
		if value > uint32(BootModeDirectDdIPL) {
			return c, sc64err.New(sc64err.MalformedResponse, "unknown boot mode code")
		}
		c.BootMode = BootMode(value)
	case ConfigSaveType:
		c.SaveType, err = SaveTypeFromU32(value)
	case ConfigCicSeed:
		c.CicSeed, err = CicSeedFromU32(value)
	case ConfigTvType:
		if value > uint32(TvAuto) {
			return c, sc64err.New(sc64err.MalformedResponse, "unknown TV type code")
		}
		c.TvType = TvType(value)
	case ConfigDdSdEnable:
		c.DdSdEnable = Switch(min1(value))
	case ConfigDdDriveType:
		if value > uint32(DdDriveDevelopment) {
			return c, sc64err.New(sc64err.MalformedResponse, "unknown 64DD drive type code")
		}
		c.DdDriveType = DdDriveType(value)
	case ConfigDdDiskState:
		if value > uint32(DiskChanged) {
			return c, sc64err.New(sc64err.MalformedResponse, "unknown 64DD disk state code")
		}
		c.DdDiskState = DdDiskState(value)
	case ConfigButtonState:
		c.ButtonState = ButtonState(min1(value))
	case ConfigButtonMode:
		if value > uint32(ButtonModeDdDiskSwap) {
			return c, sc64err.New(sc64err.MalformedResponse, "unknown button mode code")
		}
		c.ButtonMode = ButtonMode(value)
	case ConfigRomExtendedEnable:
		c.RomExtendedEnable = Switch(min1(value))
	default:
		return c, sc64err.New(sc64err.MalformedResponse, "unknown config id")
	}
	return c, err
}

// min1 clamps any nonzero value to 1, matching Switch/ButtonState's
// TryFrom<u32> leniency (anything nonzero means "on"/"pressed").
func min1(v uint32) uint32 {
	if v != 0 {
		return 1
	}
	return 0
}

// SettingID is the stable numeric id used by the 'a'/'A' commands.
type SettingID uint32

const (
	SettingLedEnable SettingID = iota
)

// Setting mirrors Config's shape for the smaller settings namespace.
type Setting struct {
	ID        SettingID
	LedEnable Switch
}

func (s Setting) Value() uint32 {
	switch s.ID {
	case SettingLedEnable:
		return uint32(s.LedEnable)
	default:
		return 0
	}
}

func SettingFromWire(id SettingID, value uint32) (Setting, error) {
	switch id {
	case SettingLedEnable:
		return Setting{ID: id, LedEnable: Switch(min1(value))}, nil
	default:
		return Setting{}, sc64err.New(sc64err.MalformedResponse, "unknown setting id")
	}
}
