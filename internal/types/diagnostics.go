package types

import (
	"encoding/binary"

	"sc64/internal/sc64err"
)

// CicStep names a value of the N64 security coprocessor's state machine, as
// reported by the debug-data command (spec §4.3/§9). A console is
// considered powered on whenever its CIC step is neither Unavailable nor
// PowerOff.
type CicStep byte

const (
	CicUnavailable CicStep = iota
	CicPowerOff
	CicConfigLoad
	CicID
	CicSeedStep
	CicChecksum
	CicInitRAM
	CicCommand
	CicCompare
	CicX105
	CicResetButton
	CicDieDisabled
	CicDie64DD
	CicDieInvalidRegion
	CicDieCommand
	CicUnknown
)

// PoweredOn reports whether this step implies the console is running.
func (s CicStep) PoweredOn() bool {
	return s != CicUnavailable && s != CicPowerOff
}

// FpgaDebugData is the 8-byte payload of the '?' command: a PI bus access
// counter and the CIC state machine's current step.
type FpgaDebugData struct {
	PIBusAccesses uint32
	CicStep       CicStep
}

func FpgaDebugDataFromWire(data []byte) (FpgaDebugData, error) {
	if len(data) != 8 {
		return FpgaDebugData{}, sc64err.New(sc64err.MalformedResponse, "invalid data length received for debug data command")
	}
	return FpgaDebugData{
		PIBusAccesses: binary.BigEndian.Uint32(data[0:4]),
		CicStep:       CicStep(data[4]),
	}, nil
}

// DiagnosticData is the versioned payload of the '%' command. Version 0
// carries no further fields; version 1 adds millivolt supply voltage and
// centidegree Celsius temperature readings, matching the device firmware's
// additive versioning scheme.
type DiagnosticData struct {
	Version     byte
	VoltageMV   uint16
	TempCentiC  int16
	HasReadings bool
}

func DiagnosticDataFromWire(data []byte) (DiagnosticData, error) {
	if len(data) < 1 {
		return DiagnosticData{}, sc64err.New(sc64err.MalformedResponse, "invalid data length received for diagnostic command")
	}
	d := DiagnosticData{Version: data[0]}
	if d.Version >= 1 && len(data) >= 5 {
		d.VoltageMV = binary.BigEndian.Uint16(data[1:3])
		d.TempCentiC = int16(binary.BigEndian.Uint16(data[3:5]))
		d.HasReadings = true
	}
	return d, nil
}
