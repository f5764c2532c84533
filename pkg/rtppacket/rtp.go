// Package rtppacket implements the 12-byte RTP header and the RTCP
// packet-type classification used to tell control packets from media.
package rtppacket

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed RTP header length this gateway supports (no
	// CSRC list, no extension).
	HeaderSize = 12
	// MaxPacketSize is one Ethernet-ish MTU; Parse does not check packets
	// against it.
	MaxPacketSize = 1500
)

// Header is the fixed 12-byte RTP header.
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	CSRCCount      uint8
	Marker         bool
	PayloadType    uint8 // 7 bits
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// Packet is an RTP header plus payload, parsed from or destined for the
// wire.
type Packet struct {
	Header
	Payload []byte
}

// Parse decodes buf into a Packet. It fails if buf is shorter than the
// 12-byte fixed header; callers (the RTP worker, the session) are expected
// to drop the datagram and continue per the gateway's per-frame error rule.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("rtppacket: short packet (%d bytes)", len(buf))
	}
	b0, b1 := buf[0], buf[1]
	p := &Packet{
		Header: Header{
			Version:        b0 >> 6,
			Padding:        b0&0x20 != 0,
			Extension:      b0&0x10 != 0,
			CSRCCount:      b0 & 0x0F,
			Marker:         b1&0x80 != 0,
			PayloadType:    b1 & 0x7F,
			SequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
			Timestamp:      binary.BigEndian.Uint32(buf[4:8]),
			SSRC:           binary.BigEndian.Uint32(buf[8:12]),
		},
	}
	p.Payload = append([]byte(nil), buf[HeaderSize:]...)
	return p, nil
}

// Serialize renders the packet with V=2, P=0, X=0, CC=0, as required for
// outgoing RTP generated by this gateway.
func (p *Packet) Serialize() []byte {
	out := make([]byte, HeaderSize+len(p.Payload))
	out[0] = 0x80 // V=2, P=0, X=0, CC=0
	b1 := p.PayloadType & 0x7F
	if p.Marker {
		b1 |= 0x80
	}
	out[1] = b1
	binary.BigEndian.PutUint16(out[2:4], p.SequenceNumber)
	binary.BigEndian.PutUint32(out[4:8], p.Timestamp)
	binary.BigEndian.PutUint32(out[8:12], p.SSRC)
	copy(out[HeaderSize:], p.Payload)
	return out
}

// SequenceNumber reads the sequence field directly from a raw buffer,
// returning 0 if the buffer is too short to contain a header.
func SequenceNumber(buf []byte) uint16 {
	if len(buf) < HeaderSize {
		return 0
	}
	return binary.BigEndian.Uint16(buf[2:4])
}

// PayloadType reads the payload-type field directly from a raw buffer,
// returning 0 if the buffer is too short.
func PayloadType(buf []byte) uint8 {
	if len(buf) < HeaderSize {
		return 0
	}
	return buf[1] & 0x7F
}
