// Package protocol implements the byte-level link to the aiming
// microcontroller: single-byte mode commands inbound, fixed six-byte target
// packets outbound.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/aimtrack/internal/geometry"
)

// Command is an inbound mode command byte.
type Command byte

const (
	CmdAimBullseye    Command = 0xA1
	CmdCircleTracking Command = 0xA2
	CmdIdle           Command = 0xA3
)

// Commands lists the recognized commands in byte order.
var Commands = []Command{CmdAimBullseye, CmdCircleTracking, CmdIdle}

// ParseCommand reports whether b is a recognized command.
func ParseCommand(b byte) (Command, bool) {
	switch c := Command(b); c {
	case CmdAimBullseye, CmdCircleTracking, CmdIdle:
		return c, true
	}
	return 0, false
}

// Description is a human-readable name for the command.
func (c Command) Description() string {
	switch c {
	case CmdAimBullseye:
		return "aim at bullseye"
	case CmdCircleTracking:
		return "circle tracking"
	case CmdIdle:
		return "idle"
	default:
		return "unknown"
	}
}

func (c Command) String() string {
	return fmt.Sprintf("0x%02X", byte(c))
}

const (
	// PacketLen is the size of an outbound target packet.
	PacketLen = 6
	// CoordMax is the largest transmissible coordinate value.
	CoordMax = 255
)

var (
	header  = [2]byte{0x3C, 0x3B}
	trailer = [2]byte{0x01, 0x01}
)

// ErrBadPacket is returned by DecodePacket for malformed input.
var ErrBadPacket = errors.New("malformed target packet")

// Clamp limits each axis of p to the transmissible range.
func Clamp(p geometry.Point) geometry.Point {
	return p.Clamp(0, CoordMax)
}

// EncodePacket frames p as header, big-endian (x<<8)|y, trailer. Coordinates
// are clamped first.
func EncodePacket(p geometry.Point) [PacketLen]byte {
	c := Clamp(p)
	var pkt [PacketLen]byte
	copy(pkt[0:2], header[:])
	binary.BigEndian.PutUint16(pkt[2:4], uint16(c.X)<<8|uint16(c.Y))
	copy(pkt[4:6], trailer[:])
	return pkt
}

// DecodePacket parses a packet produced by EncodePacket.
func DecodePacket(b []byte) (geometry.Point, error) {
	if len(b) != PacketLen {
		return geometry.Point{}, fmt.Errorf("%w: length %d", ErrBadPacket, len(b))
	}
	if b[0] != header[0] || b[1] != header[1] {
		return geometry.Point{}, fmt.Errorf("%w: header % X", ErrBadPacket, b[0:2])
	}
	if b[4] != trailer[0] || b[5] != trailer[1] {
		return geometry.Point{}, fmt.Errorf("%w: trailer % X", ErrBadPacket, b[4:6])
	}
	v := binary.BigEndian.Uint16(b[2:4])
	return geometry.Point{X: int(v >> 8), Y: int(v & 0xFF)}, nil
}
