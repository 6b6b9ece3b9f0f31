package firmware

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildChunk(id ChunkID, payload []byte) []byte {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(id))
	binary.LittleEndian.PutUint32(header[4:8], uint32(8+len(payload)))
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))
	return append(header, payload...)
}

func TestVerifyParsesChunks(t *testing.T) {
	data := append([]byte{}, updateToken[:]...)
	data = append(data, buildChunk(ChunkUpdateInfo, []byte("v2.0.0"))...)
	data = append(data, buildChunk(ChunkFpgaData, []byte{1, 2, 3, 4})...)

	fw, err := Verify(data)
	require.NoError(t, err)
	require.True(t, fw.HasUpdateInfo)
	require.Equal(t, "v2.0.0", fw.UpdateInfo)
	require.Equal(t, []byte{1, 2, 3, 4}, fw.FpgaData)
	require.Nil(t, fw.McuData)
}

func TestVerifyRejectsBadToken(t *testing.T) {
	_, err := Verify(make([]byte, 32))
	require.Error(t, err)
}

func TestVerifyRejectsBadChecksum(t *testing.T) {
	data := append([]byte{}, updateToken[:]...)
	chunk := buildChunk(ChunkMcuData, []byte{9, 9, 9})
	chunk[8] ^= 0xFF // corrupt the checksum field
	data = append(data, chunk...)

	_, err := Verify(data)
	require.Error(t, err)
}

func TestVerifyRejectsTruncatedChunk(t *testing.T) {
	data := append([]byte{}, updateToken[:]...)
	data = append(data, buildChunk(ChunkPrimerData, []byte{1, 2, 3, 4, 5})[:10]...)
	_, err := Verify(data)
	require.Error(t, err)
}

func TestVerifyHandlesAlignmentPadding(t *testing.T) {
	data := append([]byte{}, updateToken[:]...)
	header := make([]byte, 16)
	payload := []byte{0xAA, 0xBB, 0xCC}
	binary.LittleEndian.PutUint32(header[0:4], uint32(ChunkBootloaderData))
	binary.LittleEndian.PutUint32(header[4:8], uint32(8+len(payload)+5)) // 5 bytes of padding
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))
	data = append(data, header...)
	data = append(data, payload...)
	data = append(data, make([]byte, 5)...)

	fw, err := Verify(data)
	require.NoError(t, err)
	require.Equal(t, payload, fw.BootloaderData)
}
