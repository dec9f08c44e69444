// Package packet frames GBN datagrams: a 4-byte header (type, sequence
// number, big-endian internet checksum) followed by the payload.
package packet

import (
	"encoding/binary"
	"fmt"

	"gbn/seqspace"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	HeaderLen   = 4
	MaxDatagram = 2048 // receive buffer size on both ends
	MaxPayload  = MaxDatagram - HeaderLen
)

var (
	ErrPayloadTooLarge = errors.New("payload does not fit in a datagram")
	ErrShortPacket     = errors.New("datagram shorter than the GBN header")
)

// Type is the packet type code in byte 0.
type Type uint8

const (
	DATA   Type = 1
	ACK    Type = 2
	FIN    Type = 4
	FINACK Type = 6
)

func (t Type) String() string {
	switch t {
	case DATA:
		return "DATA"
	case ACK:
		return "ACK"
	case FIN:
		return "FIN"
	case FINACK:
		return "FINACK"
	}
	return "Unknown"
}

// Packet is an encoded datagram. Packets handed out by Encode are never
// modified afterwards; use Clone before mutating.
type Packet []byte

// Encode builds a packet with the checksum field filled in.
func Encode(t Type, seq seqspace.Seq, payload []byte) (Packet, error) {
	if len(payload) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes (max %d)", len(payload), MaxPayload)
	}
	pkt := make(Packet, HeaderLen, HeaderLen+len(payload))
	pkt[0] = byte(t)
	pkt[1] = byte(seq)
	pkt = append(pkt, payload...)
	binary.BigEndian.PutUint16(pkt[2:4], Checksum(pkt))
	return pkt, nil
}

// Decode extracts the header fields and payload. It does not verify the
// checksum; callers check IsCorrupt first.
func Decode(b []byte) (Type, seqspace.Seq, []byte, error) {
	if len(b) < HeaderLen {
		return 0, 0, nil, errors.Wrapf(ErrShortPacket, "%d bytes", len(b))
	}
	return Type(b[0]), seqspace.Seq(b[1]), b[HeaderLen:], nil
}

// IsCorrupt recomputes the checksum over the whole datagram, checksum field
// included. Anything but zero means the datagram was damaged in transit.
func IsCorrupt(b []byte) bool {
	if len(b) < HeaderLen {
		return true
	}
	return Checksum(b) != 0
}

// Checksum is the 16-bit one's complement internet checksum of b. An odd
// trailing byte is added as a standalone low-order byte.
func Checksum(b []byte) uint16 {
	even := len(b) &^ 1
	sum := header.Checksum(b[:even], 0)
	if even != len(b) {
		sum = header.ChecksumCombine(sum, uint16(b[even]))
	}
	return sum ^ 0xffff
}

func (p Packet) Type() Type { return Type(p[0]) }

func (p Packet) Seq() seqspace.Seq { return seqspace.Seq(p[1]) }

func (p Packet) Payload() []byte { return p[HeaderLen:] }

func (p Packet) Clone() Packet {
	return append(Packet(nil), p...)
}

// FlipBit returns a copy of p with bit i (counting from the MSB of byte 0)
// inverted. p itself is left untouched.
func (p Packet) FlipBit(i int) Packet {
	c := p.Clone()
	c[i/8] ^= 0x80 >> (i % 8)
	return c
}

// String renders the header symbolically for logs.
func (p Packet) String() string {
	if len(p) < HeaderLen {
		return fmt.Sprintf("short(%d)", len(p))
	}
	data := p.Payload()
	if len(data) > 12 {
		data = data[:12]
	}
	return fmt.Sprintf("%6s %3d %q", p.Type(), p.Seq().Int(), data)
}
