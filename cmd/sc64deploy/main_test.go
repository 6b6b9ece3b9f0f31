package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sc64/internal/types"
)

func TestParseGlobalFlagsPort(t *testing.T) {
	g, rest, err := parseGlobalFlags([]string{"--port", "serial:///dev/ttyUSB0", "upload", "--rom", "game.z64"})
	require.NoError(t, err)
	require.Equal(t, "serial:///dev/ttyUSB0", g.port)
	require.Equal(t, "", g.remote)
	require.Equal(t, []string{"upload", "--rom", "game.z64"}, rest)
}

func TestParseGlobalFlagsRemote(t *testing.T) {
	g, rest, err := parseGlobalFlags([]string{"--remote", "10.0.0.5:9064", "info"})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:9064", g.remote)
	require.Equal(t, []string{"info"}, rest)
}

func TestParseGlobalFlagsNoFlags(t *testing.T) {
	g, rest, err := parseGlobalFlags([]string{"list"})
	require.NoError(t, err)
	require.Equal(t, globalFlags{}, g)
	require.Equal(t, []string{"list"}, rest)
}

func TestParseGlobalFlagsMissingValue(t *testing.T) {
	_, _, err := parseGlobalFlags([]string{"--port"})
	require.Error(t, err)
}

func TestParseUint32Decimal(t *testing.T) {
	v, err := parseUint32("1000")
	require.NoError(t, err)
	require.Equal(t, uint32(1000), v)
}

func TestParseUint32Hex(t *testing.T) {
	v, err := parseUint32("0x1000")
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), v)
}

func TestParseUint32DecimalWithHexDigitsIsNotMisreadAsHex(t *testing.T) {
	// "1000" contains only hex-valid digits but has no 0x prefix, so it must
	// parse as decimal 1000, not hex 0x1000 (4096).
	v, err := parseUint32("1000")
	require.NoError(t, err)
	require.Equal(t, uint32(1000), v)
	require.NotEqual(t, uint32(0x1000), v)
}

func TestParseUint32RejectsGarbage(t *testing.T) {
	_, err := parseUint32("not-a-number")
	require.Error(t, err)
}

func TestParseSaveTypeRecognizesEveryVariant(t *testing.T) {
	cases := map[string]types.SaveType{
		"none":        types.SaveNone,
		"eeprom4k":    types.SaveEeprom4k,
		"eeprom16k":   types.SaveEeprom16k,
		"sram":        types.SaveSram,
		"flashram":    types.SaveFlashram,
		"sram-banked": types.SaveSramBanked,
		"sram1m":      types.SaveSram1m,
		"SRAM":        types.SaveSram,
	}
	for name, want := range cases {
		got, err := parseSaveType(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
}

func TestParseSaveTypeRejectsUnknown(t *testing.T) {
	_, err := parseSaveType("not-a-save-type")
	require.Error(t, err)
}
