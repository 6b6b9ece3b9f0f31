// Package disk implements the zoned 64DD (.ndd) image format: parsing a
// disk's system area into a (track, head, block) -> (LBA, offset, length,
// writable) mapping, and servicing individual block reads/writes against
// the backing file. Transcribed from
// original_source/sw/deployer/src/disk.rs.
package disk

import (
	"io"
	"os"

	"sc64/internal/sc64err"
)

const (
	blocksPerTrack    = 2
	sectorsPerBlock   = 85
	systemSectorLength = 232
	badTracksPerZone  = 12
)

// Format distinguishes the two 64DD disk families; each uses a different
// system-sector layout and sector length.
type Format int

const (
	Retail Format = iota
	Development
)

func (f Format) String() string {
	if f == Development {
		return "Development"
	}
	return "Retail"
}

type systemAreaInfo struct {
	format       Format
	sectorLength int
	sysLBA       []int
	badLBA       []int
}

var systemArea = []systemAreaInfo{
	{
		format:       Retail,
		sectorLength: 232,
		sysLBA:       []int{9, 8, 1, 0},
		badLBA:       []int{2, 3, 10, 11, 12, 16, 17, 18, 19, 20, 21, 22, 23},
	},
	{
		format:       Development,
		sectorLength: 192,
		sysLBA:       []int{11, 10, 3, 2},
		badLBA:       []int{0, 1, 8, 9, 16, 17, 18, 19, 20, 21, 22, 23},
	},
}

var idLBAs = []int{15, 14}

type diskZone struct {
	head         int
	sectorLength int
	tracks       int
	trackOffset  int
}

var zoneMapping = []diskZone{
	{0, 232, 158, 0},
	{0, 216, 158, 158},
	{0, 208, 149, 316},
	{0, 192, 149, 465},
	{0, 176, 149, 614},
	{0, 160, 149, 763},
	{0, 144, 149, 912},
	{0, 128, 114, 1061},
	{1, 216, 158, 0},
	{1, 208, 158, 158},
	{1, 192, 149, 316},
	{1, 176, 149, 465},
	{1, 160, 149, 614},
	{1, 144, 149, 763},
	{1, 128, 149, 912},
	{1, 112, 114, 1061},
}

var vzoneToPzone = [7][16]int{
	{0, 1, 2, 9, 8, 3, 4, 5, 6, 7, 15, 14, 13, 12, 11, 10},
	{0, 1, 2, 3, 10, 9, 8, 4, 5, 6, 7, 15, 14, 13, 12, 11},
	{0, 1, 2, 3, 4, 11, 10, 9, 8, 5, 6, 7, 15, 14, 13, 12},
	{0, 1, 2, 3, 4, 5, 12, 11, 10, 9, 8, 6, 7, 15, 14, 13},
	{0, 1, 2, 3, 4, 5, 6, 13, 12, 11, 10, 9, 8, 7, 15, 14},
	{0, 1, 2, 3, 4, 5, 6, 7, 14, 13, 12, 11, 10, 9, 8, 15},
	{0, 1, 2, 3, 4, 5, 6, 7, 15, 14, 13, 12, 11, 10, 9, 8},
}

var romZones = []int{5, 7, 9, 11, 13, 15, 16}

type mapping struct {
	lba      int
	offset   int
	length   int
	writable bool
}

// Disk services one open .ndd image.
type Disk struct {
	file    *os.File
	format  Format
	mapping map[int]mapping
}

// Format returns the disk's system-area family.
func (d *Disk) Format() Format { return d.format }

// GetLBA returns the logical block address for a (track, head, block)
// location, or false if that location has no mapping. Tracks 0-11 on head 0
// are the fixed system area and use a closed-form LBA instead of the
// zone-walk table.
func (d *Disk) GetLBA(track, head, block uint32) (int, bool) {
	if head == 0 && track < 12 {
		return int((track << 1) | (block ^ (track % 2))), true
	}
	location := int((track << 2) | (head << 1) | block)
	m, ok := d.mapping[location]
	if !ok {
		return 0, false
	}
	return m.lba, true
}

// ReadBlock reads the bytes mapped to a (track, head, block) location, or
// returns ok=false if no mapping exists there.
func (d *Disk) ReadBlock(track, head, block uint32) (data []byte, ok bool, err error) {
	location := int((track << 2) | (head << 1) | block)
	m, present := d.mapping[location]
	if !present {
		return nil, false, nil
	}
	data = make([]byte, m.length)
	if _, err := d.file.Seek(int64(m.offset), io.SeekStart); err != nil {
		return nil, false, sc64err.Wrap(sc64err.Io, err)
	}
	if _, err := io.ReadFull(d.file, data); err != nil {
		return nil, false, sc64err.Wrap(sc64err.Io, err)
	}
	return data, true, nil
}

// WriteBlock writes data to the (track, head, block) location if it is
// mapped, writable, and the exact mapped length. ok is false in every other
// case (no mapping, read-only zone, length mismatch).
func (d *Disk) WriteBlock(track, head, block uint32, data []byte) (ok bool, err error) {
	location := int((track << 2) | (head << 1) | block)
	m, present := d.mapping[location]
	if !present || !m.writable || m.length != len(data) {
		return false, nil
	}
	if _, err := d.file.Seek(int64(m.offset), io.SeekStart); err != nil {
		return false, sc64err.Wrap(sc64err.Io, err)
	}
	if _, err := d.file.Write(data); err != nil {
		return false, sc64err.Wrap(sc64err.Io, err)
	}
	return true, nil
}

// Close releases the underlying file handle.
func (d *Disk) Close() error { return d.file.Close() }

// Open parses a .ndd image at path and returns a ready Disk.
func Open(path string) (*Disk, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	format, m, err := loadNDD(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Disk{file: file, format: format, mapping: m}, nil
}

// OpenMultiple opens several .ndd images (e.g. a multi-disk release) and
// verifies they all share the same system-area format.
func OpenMultiple(paths []string) ([]*Disk, error) {
	disks := make([]*Disk, 0, len(paths))
	for _, path := range paths {
		d, err := Open(path)
		if err != nil {
			for _, opened := range disks {
				opened.Close()
			}
			return nil, err
		}
		disks = append(disks, d)
	}
	for i := 1; i < len(disks); i++ {
		if disks[i].format != disks[0].format {
			for _, opened := range disks {
				opened.Close()
			}
			return nil, sc64err.New(sc64err.DiskFormatMismatch, "disk format mismatch")
		}
	}
	return disks, nil
}

func loadNDD(file *os.File) (Format, map[int]mapping, error) {
	var (
		haveFormat bool
		diskFormat Format
		diskType   int
		sysData    = make([]byte, systemSectorLength)
		badLBAs    []int
	)

	for _, info := range systemArea {
		badLBAs = badLBAs[:0]
		for _, lba := range info.sysLBA {
			data, err := loadSysLBA(file, lba)
			if err != nil {
				return 0, nil, err
			}
			if verifySysLBA(data, info.sectorLength) {
				if data[4] != 0x10 || (data[5]&0xF0) != 0x10 {
					badLBAs = append(badLBAs, lba)
				} else {
					haveFormat = true
					diskFormat = info.format
					diskType = int(data[5] & 0x0F)
					sysData = append([]byte(nil), data[0:systemSectorLength]...)
				}
			} else {
				badLBAs = append(badLBAs, lba)
			}
		}
		if haveFormat {
			badLBAs = append(badLBAs, info.badLBA...)
			break
		}
	}
	if !haveFormat {
		return 0, nil, sc64err.New(sc64err.InvalidDiskFormat, "provided 64DD disk file is not valid")
	}
	if diskType >= len(vzoneToPzone) {
		return 0, nil, sc64err.New(sc64err.InvalidDiskFormat, "unknown disk type")
	}

	idLBAValid := false
	for _, lba := range idLBAs {
		data, err := loadSysLBA(file, lba)
		if err != nil {
			return 0, nil, err
		}
		valid := verifySysLBA(data, systemSectorLength)
		if !valid {
			badLBAs = append(badLBAs, lba)
		}
		idLBAValid = idLBAValid || valid
	}
	if !idLBAValid {
		return 0, nil, sc64err.New(sc64err.InvalidDiskFormat, "no valid ID LBA found")
	}

	zoneBadTracks := make([][]int, len(zoneMapping))
	for zone, info := range zoneMapping {
		var badTracks []int
		start := 0
		if zone != 0 {
			start = int(sysData[0x07+zone])
		}
		stop := int(sysData[0x07+zone+1])
		for offset := start; offset < stop; offset++ {
			badTracks = append(badTracks, int(sysData[0x20+offset]))
		}
		for track := 0; track < badTracksPerZone-len(badTracks); track++ {
			badTracks = append(badTracks, info.tracks-track-1)
		}
		zoneBadTracks[zone] = badTracks
	}

	result := make(map[int]mapping)
	lba := 0
	offset := 0
	startingBlock := 0

	for vzone, pzone := range vzoneToPzone[diskType] {
		zone := zoneMapping[pzone]

		tracks := make([]int, zone.tracks)
		if zone.head == 0 {
			for i := range tracks {
				tracks[i] = i
			}
		} else {
			for i := range tracks {
				tracks[i] = zone.tracks - 1 - i
			}
		}

		for _, zoneTrack := range tracks {
			if !containsInt(zoneBadTracks[pzone], zoneTrack) {
				for block := 0; block < blocksPerTrack; block++ {
					track := zone.trackOffset + zoneTrack
					location := (track << 2) | (zone.head << 1) | (startingBlock ^ block)
					length := zone.sectorLength * sectorsPerBlock
					if !containsInt(badLBAs, lba) {
						writable := vzone >= romZones[diskType]
						result[location] = mapping{lba: lba, offset: offset, length: length, writable: writable}
					}
					lba++
					offset += length
				}
				startingBlock ^= 1
			}
		}
	}

	return diskFormat, result, nil
}

func loadSysLBA(file *os.File, lba int) ([]byte, error) {
	length := systemSectorLength * sectorsPerBlock
	if _, err := file.Seek(int64(lba*length), io.SeekStart); err != nil {
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, sc64err.Wrap(sc64err.Io, err)
	}
	return data, nil
}

func verifySysLBA(data []byte, sectorLength int) bool {
	sysData := data[0:sectorLength]
	for sector := 1; sector < sectorsPerBlock; sector++ {
		offset := sector * sectorLength
		verifyData := data[offset : offset+sectorLength]
		for i := range sysData {
			if sysData[i] != verifyData[i] {
				return false
			}
		}
	}
	return true
}

func containsInt(s []int, v int) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
