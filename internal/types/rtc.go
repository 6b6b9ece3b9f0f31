package types

import (
	"time"

	"sc64/internal/sc64err"
)

// u8FromBCD and bcdFromU8 convert between a packed BCD byte and its decimal
// value, grounded on original_source's utils.rs u8_from_bcd/bcd_from_u8.
func u8FromBCD(b byte) uint8 {
	return (b>>4)*10 + (b & 0x0F)
}

func bcdFromU8(v uint8) byte {
	return byte((v/10)<<4 | (v % 10))
}

// DateTimeFromBCD decodes the 7-byte BCD RTC payload used by the 't'
// command reply: year (two BCD digits), month, day, weekday, hour, minute,
// second. The weekday byte is not read; time.Date derives the weekday from
// the date. On the wire the weekday is 1-based (1=Sunday), which is how
// BCDFromDateTime writes it.
func DateTimeFromBCD(b [7]byte) (time.Time, error) {
	yy := int(u8FromBCD(b[0]))
	month := time.Month(u8FromBCD(b[1]))
	day := int(u8FromBCD(b[2]))
	hour := int(u8FromBCD(b[4]))
	minute := int(u8FromBCD(b[5]))
	second := int(u8FromBCD(b[6]))
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, sc64err.New(sc64err.MalformedResponse, "invalid BCD date field")
	}
	return time.Date(2000+yy, month, day, hour, minute, second, 0, time.UTC), nil
}

// BCDFromDateTime is the inverse of DateTimeFromBCD, used by the 'T' command.
func BCDFromDateTime(t time.Time) [7]byte {
	t = t.UTC()
	weekday := uint8(t.Weekday()) + 1
	return [7]byte{
		bcdFromU8(uint8(t.Year() % 100)),
		bcdFromU8(uint8(t.Month())),
		bcdFromU8(uint8(t.Day())),
		bcdFromU8(weekday),
		bcdFromU8(uint8(t.Hour())),
		bcdFromU8(uint8(t.Minute())),
		bcdFromU8(uint8(t.Second())),
	}
}
