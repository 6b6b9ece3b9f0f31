package sc64proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeCommandWritesTagAndID(t *testing.T) {
	cmd := &Command{ID: 'v', Args: [2]uint32{1, 2}, Payload: []byte("hi")}
	encoded := EncodeCommand(cmd)
	require.Equal(t, "CMD", string(encoded[0:3]))
	require.Equal(t, byte('v'), encoded[3])
}

func TestDecodeHeaderRecognizesEveryTag(t *testing.T) {
	cases := []struct {
		tag  string
		kind ReplyKind
	}{
		{"CMP", ReplyResponse},
		{"PKT", ReplyPacket},
		{"ERR", ReplyError},
	}
	for _, c := range cases {
		var header [HeaderSize]byte
		copy(header[0:3], c.tag)
		header[3] = 'v'
		header[7] = 5
		kind, id, length, ok := DecodeHeader(header)
		require.True(t, ok)
		require.Equal(t, c.kind, kind)
		require.Equal(t, byte('v'), id)
		require.Equal(t, uint32(5), length)
	}
}

func TestDecodeHeaderRejectsUnknownTag(t *testing.T) {
	var header [HeaderSize]byte
	copy(header[0:3], "XXX")
	_, _, _, ok := DecodeHeader(header)
	require.False(t, ok)
}

func TestTunnelCommandRoundTrips(t *testing.T) {
	cmd := &Command{ID: 'M', Args: [2]uint32{0x1000, 4}, Payload: []byte{1, 2, 3, 4}}
	encoded := EncodeTunnelCommand(cmd)
	require.Equal(t, uint32(TunnelCommand), beUint32(encoded[0:4]))

	got, err := DecodeTunnelCommand(encoded[4:])
	require.NoError(t, err)
	require.Equal(t, cmd.ID, got.ID)
	require.Equal(t, cmd.Args, got.Args)
	require.Equal(t, cmd.Payload, got.Payload)
}

func TestDecodeTunnelCommandRejectsLengthMismatch(t *testing.T) {
	cmd := &Command{ID: 'M', Args: [2]uint32{1, 2}, Payload: []byte{1, 2, 3}}
	encoded := EncodeTunnelCommand(cmd)
	truncated := encoded[4 : len(encoded)-1]
	_, err := DecodeTunnelCommand(truncated)
	require.Error(t, err)
}

func TestDecodeTunnelCommandRejectsShortBody(t *testing.T) {
	_, err := DecodeTunnelCommand([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestEncodeTunnelResponseSetsErrorByte(t *testing.T) {
	r := &Response{ID: 'v', Error: true, Payload: []byte{9}}
	encoded := EncodeTunnelResponse(r)
	require.Equal(t, uint32(TunnelResponse), beUint32(encoded[0:4]))
	require.Equal(t, byte('v'), encoded[4])
	require.Equal(t, byte(1), encoded[5])
}

func TestEncodeTunnelPacketShape(t *testing.T) {
	p := &Packet{ID: 'B', Payload: []byte{7, 8}}
	encoded := EncodeTunnelPacket(p)
	require.Equal(t, uint32(TunnelPacket), beUint32(encoded[0:4]))
	require.Equal(t, byte('B'), encoded[4])
	require.Equal(t, uint32(2), beUint32(encoded[5:9]))
}

func TestEncodeTunnelKeepaliveIsJustTheTag(t *testing.T) {
	encoded := EncodeTunnelKeepalive()
	require.Len(t, encoded, 4)
	require.Equal(t, uint32(TunnelKeepalive), beUint32(encoded))
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
