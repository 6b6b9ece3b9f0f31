// Package sc64proto defines the on-wire frame shapes exchanged with an
// attached device: command frames sent by the host, and response/packet
// frames sent back by the device, plus the tunnel framing the relay server
// and its clients speak over TCP.
package sc64proto

import "encoding/binary"

// Command is a single request sent to the device: an opcode id, two
// big-endian argument words, and an optional raw payload.
type Command struct {
	ID      byte
	Args    [2]uint32
	Payload []byte
}

// Response is a synchronous reply to a Command.
type Response struct {
	ID      byte
	Error   bool
	Payload []byte
}

// Packet is a device-originated message not in direct reply to a Command
// (disk requests, debug output, button presses, firmware progress, ...).
type Packet struct {
	ID      byte
	Payload []byte
}

// Frame tags on the serial/USB wire, see spec §3/§4.2.
const (
	tagCMD = "CMD"
	tagCMP = "CMP"
	tagPKT = "PKT"
	tagERR = "ERR"
)

// HeaderSize is the length of a device->host reply header: 3-byte tag,
// 1-byte id, 4-byte big-endian length.
const HeaderSize = 8

// EncodeCommand renders a Command as the bytes written to the backend:
// "CMD" + id + args[0] (BE) + args[1] (BE) + payload.
func EncodeCommand(c *Command) []byte {
	buf := make([]byte, 3+1+4+4+len(c.Payload))
	copy(buf[0:3], tagCMD)
	buf[3] = c.ID
	binary.BigEndian.PutUint32(buf[4:8], c.Args[0])
	binary.BigEndian.PutUint32(buf[8:12], c.Args[1])
	copy(buf[12:], c.Payload)
	return buf
}

// ReplyKind distinguishes the three device->host header tags.
type ReplyKind int

const (
	ReplyResponse ReplyKind = iota
	ReplyPacket
	ReplyError
)

// DecodeHeader interprets an 8-byte device reply header. It never reads the
// payload itself; the caller reads Length more bytes separately.
func DecodeHeader(header [HeaderSize]byte) (kind ReplyKind, id byte, length uint32, ok bool) {
	switch string(header[0:3]) {
	case tagCMP:
		kind = ReplyResponse
	case tagPKT:
		kind = ReplyPacket
	case tagERR:
		kind = ReplyError
	default:
		return 0, 0, 0, false
	}
	id = header[3]
	length = binary.BigEndian.Uint32(header[4:8])
	return kind, id, length, true
}

// TunnelType is the 4-byte big-endian type tag that prefixes every frame
// exchanged between a relay client and the relay server (spec §6).
type TunnelType uint32

const (
	TunnelCommand   TunnelType = 1
	TunnelResponse  TunnelType = 2
	TunnelPacket    TunnelType = 3
	TunnelKeepalive TunnelType = 0xCAFEBEEF
)

// EncodeTunnelCommand re-encodes a Command with an explicit payload length
// word, as required by the relay tunnel protocol (spec §6).
func EncodeTunnelCommand(c *Command) []byte {
	buf := make([]byte, 4+1+4+4+4+len(c.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(TunnelCommand))
	buf[4] = c.ID
	binary.BigEndian.PutUint32(buf[5:9], c.Args[0])
	binary.BigEndian.PutUint32(buf[9:13], c.Args[1])
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(c.Payload)))
	copy(buf[17:], c.Payload)
	return buf
}

// DecodeTunnelCommand parses the body following the type tag for a
// TunnelCommand frame.
func DecodeTunnelCommand(body []byte) (*Command, error) {
	if len(body) < 13 {
		return nil, errShortTunnelCommand
	}
	id := body[0]
	a0 := binary.BigEndian.Uint32(body[1:5])
	a1 := binary.BigEndian.Uint32(body[5:9])
	length := binary.BigEndian.Uint32(body[9:13])
	if uint32(len(body)-13) != length {
		return nil, errShortTunnelCommand
	}
	return &Command{ID: id, Args: [2]uint32{a0, a1}, Payload: body[13:]}, nil
}

// EncodeTunnelResponse encodes a Response with tunnel framing: type tag,
// id, error byte, length, payload.
func EncodeTunnelResponse(r *Response) []byte {
	buf := make([]byte, 4+1+1+4+len(r.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(TunnelResponse))
	buf[4] = r.ID
	if r.Error {
		buf[5] = 1
	}
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(r.Payload)))
	copy(buf[10:], r.Payload)
	return buf
}

// EncodeTunnelPacket encodes a Packet with tunnel framing: type tag, id,
// length, payload.
func EncodeTunnelPacket(p *Packet) []byte {
	buf := make([]byte, 4+1+4+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(TunnelPacket))
	buf[4] = p.ID
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(p.Payload)))
	copy(buf[9:], p.Payload)
	return buf
}

// EncodeTunnelKeepalive encodes a bare keepalive frame: just the type tag.
func EncodeTunnelKeepalive() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(TunnelKeepalive))
	return buf
}
