package deployer

import (
	"encoding/binary"

	"sc64/internal/cic"
	"sc64/internal/link"
	"sc64/internal/sc64err"
	"sc64/internal/sc64proto"
	"sc64/internal/types"
)

// Deployer is the high-level SC64 command surface, grounded on mod.rs's
// SC64 struct.
type Deployer struct {
	link *link.Link
}

// New wraps an already-connected Link.
func New(l *link.Link) *Deployer {
	return &Deployer{link: l}
}

// Close releases the underlying link.
func (d *Deployer) Close() error { return d.link.Close() }

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func (d *Deployer) exec(id byte, a0, a1 uint32, payload []byte, ignoreError bool) (*sc64proto.Response, error) {
	return d.link.ExecuteCommand(&sc64proto.Command{ID: id, Args: [2]uint32{a0, a1}, Payload: payload}, ignoreError)
}

func (d *Deployer) identifierGet() ([4]byte, error) {
	resp, err := d.exec('v', 0, 0, nil, false)
	if err != nil {
		return [4]byte{}, err
	}
	if len(resp.Payload) != 4 {
		return [4]byte{}, sc64err.New(sc64err.MalformedResponse, "invalid data length received for identifier get command")
	}
	var id [4]byte
	copy(id[:], resp.Payload)
	return id, nil
}

// VersionInfo reports the device's firmware version.
type VersionInfo struct {
	Major    uint16
	Minor    uint16
	Revision uint32
}

func (d *Deployer) versionGet() (VersionInfo, error) {
	resp, err := d.exec('V', 0, 0, nil, false)
	if err != nil {
		return VersionInfo{}, err
	}
	if len(resp.Payload) != 8 {
		return VersionInfo{}, sc64err.New(sc64err.MalformedResponse, "invalid data length received for version get command")
	}
	return VersionInfo{
		Major:    binary.BigEndian.Uint16(resp.Payload[0:2]),
		Minor:    binary.BigEndian.Uint16(resp.Payload[2:4]),
		Revision: binary.BigEndian.Uint32(resp.Payload[4:8]),
	}, nil
}

func (d *Deployer) stateReset() error {
	_, err := d.exec('R', 0, 0, nil, false)
	return err
}

func (d *Deployer) cicParamsSet(disable bool, seed byte, checksum uint64) error {
	checksumHigh := uint32((checksum >> 32) & 0xFFFF)
	checksumLow := uint32(checksum & 0xFFFFFFFF)
	disableBit := uint32(0)
	if disable {
		disableBit = 1
	}
	a0 := (disableBit << 24) | (uint32(seed) << 16) | checksumHigh
	_, err := d.exec('B', a0, checksumLow, nil, false)
	return err
}

func (d *Deployer) configGet(id types.ConfigID) (types.Config, error) {
	resp, err := d.exec('c', uint32(id), 0, nil, false)
	if err != nil {
		return types.Config{}, err
	}
	if len(resp.Payload) != 4 {
		return types.Config{}, sc64err.New(sc64err.MalformedResponse, "invalid data length received for config get command")
	}
	return types.ConfigFromWire(id, binary.BigEndian.Uint32(resp.Payload))
}

func (d *Deployer) configSet(c types.Config) error {
	_, err := d.exec('C', uint32(c.ID), c.Value(), nil, false)
	return err
}

func (d *Deployer) settingGet(id types.SettingID) (types.Setting, error) {
	resp, err := d.exec('a', uint32(id), 0, nil, false)
	if err != nil {
		return types.Setting{}, err
	}
	if len(resp.Payload) != 4 {
		return types.Setting{}, sc64err.New(sc64err.MalformedResponse, "invalid data length received for setting get command")
	}
	return types.SettingFromWire(id, binary.BigEndian.Uint32(resp.Payload))
}

func (d *Deployer) settingSet(s types.Setting) error {
	_, err := d.exec('A', uint32(s.ID), s.Value(), nil, false)
	return err
}

func (d *Deployer) timeGet() ([7]byte, error) {
	resp, err := d.exec('t', 0, 0, nil, false)
	if err != nil {
		return [7]byte{}, err
	}
	if len(resp.Payload) != 8 {
		return [7]byte{}, sc64err.New(sc64err.MalformedResponse, "invalid data length received for time get command")
	}
	var bcd [7]byte
	copy(bcd[:], resp.Payload[0:7])
	return bcd, nil
}

func (d *Deployer) timeSet(a0, a1 uint32) error {
	_, err := d.exec('T', a0, a1, nil, false)
	return err
}

func (d *Deployer) memoryRead(address uint32, length int) ([]byte, error) {
	resp, err := d.exec('m', address, uint32(length), nil, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) != length {
		return nil, sc64err.New(sc64err.MalformedResponse, "invalid data length received for memory read command")
	}
	return resp.Payload, nil
}

func (d *Deployer) memoryWrite(address uint32, data []byte) error {
	_, err := d.exec('M', address, uint32(len(data)), data, false)
	return err
}

func (d *Deployer) usbWrite(datatype byte, data []byte) error {
	_, err := d.exec('U', uint32(datatype), uint32(len(data)), data, true)
	return err
}

func (d *Deployer) auxWrite(value uint32) error {
	_, err := d.exec('X', value, 0, nil, false)
	return err
}

func (d *Deployer) sdOp(op uint32, arg uint32) (result uint32, status uint32, err error) {
	resp, err := d.exec('i', arg, op, nil, false)
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Payload) != 8 {
		return 0, 0, sc64err.New(sc64err.MalformedResponse, "invalid data length received for SD op command")
	}
	return binary.BigEndian.Uint32(resp.Payload[0:4]), binary.BigEndian.Uint32(resp.Payload[4:8]), nil
}

func (d *Deployer) sdRead(bufAddress uint32, count uint32, sector uint32) (uint32, error) {
	sectorPayload := be32(sector)
	resp, err := d.exec('s', bufAddress, count, sectorPayload, false)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) != 4 {
		return 0, sc64err.New(sc64err.MalformedResponse, "invalid data length received for SD read command")
	}
	return binary.BigEndian.Uint32(resp.Payload), nil
}

func (d *Deployer) sdWrite(bufAddress uint32, count uint32, sector uint32) (uint32, error) {
	sectorPayload := be32(sector)
	resp, err := d.exec('S', bufAddress, count, sectorPayload, false)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) != 4 {
		return 0, sc64err.New(sc64err.MalformedResponse, "invalid data length received for SD write command")
	}
	return binary.BigEndian.Uint32(resp.Payload), nil
}

func (d *Deployer) ddSetBlockReady(hasError bool) error {
	errBit := uint32(0)
	if hasError {
		errBit = 1
	}
	_, err := d.exec('D', errBit, 0, nil, false)
	return err
}

func (d *Deployer) writebackEnable() error {
	_, err := d.exec('W', 0, 0, nil, false)
	return err
}

func (d *Deployer) flashWaitBusy(wait bool) (uint32, error) {
	waitBit := uint32(0)
	if wait {
		waitBit = 1
	}
	resp, err := d.exec('p', waitBit, 0, nil, false)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) != 4 {
		return 0, sc64err.New(sc64err.MalformedResponse, "invalid data length received for flash wait busy command")
	}
	return binary.BigEndian.Uint32(resp.Payload), nil
}

func (d *Deployer) flashEraseBlock(address uint32) error {
	_, err := d.exec('P', address, 0, nil, false)
	return err
}

func (d *Deployer) firmwareBackup(address uint32) (types.FirmwareStatus, uint32, error) {
	resp, err := d.exec('f', address, 0, nil, true)
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Payload) != 8 {
		return 0, 0, sc64err.New(sc64err.MalformedResponse, "invalid data length received for firmware backup command")
	}
	status := types.FirmwareStatus(binary.BigEndian.Uint32(resp.Payload[0:4]))
	length := binary.BigEndian.Uint32(resp.Payload[4:8])
	return status, length, nil
}

func (d *Deployer) firmwareUpdate(address uint32, length int) (types.FirmwareStatus, error) {
	resp, err := d.exec('F', address, uint32(length), nil, true)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) != 4 {
		return 0, sc64err.New(sc64err.MalformedResponse, "invalid data length received for firmware update command")
	}
	return types.FirmwareStatus(binary.BigEndian.Uint32(resp.Payload)), nil
}

func (d *Deployer) fpgaDebugDataGet() (types.FpgaDebugData, error) {
	resp, err := d.exec('?', 0, 0, nil, false)
	if err != nil {
		return types.FpgaDebugData{}, err
	}
	return types.FpgaDebugDataFromWire(resp.Payload)
}

func (d *Deployer) diagnosticDataGet() (types.DiagnosticData, error) {
	resp, err := d.exec('%', 0, 0, nil, false)
	if err != nil {
		return types.DiagnosticData{}, err
	}
	return types.DiagnosticDataFromWire(resp.Payload)
}

// signIPL3 determines the CIC seed for the given raw IPL3 bytes and returns
// it alongside the matching checksum, grounded on cic.rs's sign_ipl3 (the
// optional forced seed argument corresponds to forcedSeed here). Seed
// determination follows cic.rs's guess_ipl3_seed: a CRC32 lookup against
// known boot images, falling back to cic.DefaultSeed on a miss.
func signIPL3(ipl3 []byte, forcedSeed *byte) (byte, uint64, error) {
	var seed byte
	var err error
	if forcedSeed != nil {
		seed = *forcedSeed
	} else {
		seed, err = cic.GuessSeedByCRC32(ipl3)
		if err != nil {
			return 0, 0, err
		}
	}
	checksum, err := cic.CalculateChecksum(ipl3, seed)
	if err != nil {
		return 0, 0, err
	}
	value := uint64(0)
	for _, b := range checksum {
		value = value<<8 | uint64(b)
	}
	return seed, value, nil
}
