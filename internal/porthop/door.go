package porthop

import (
	"fmt"
	"math/bits"
)

// Protocol selects the transport a door is knocked on.
type Protocol int

const (
	ProtoTCP Protocol = iota
	ProtoUDP
	ProtoICMP

	numProtocols = 3
)

// Number of flag selectors each protocol supports. UDP has none, so its
// flags always resolve to selector 0.
const (
	flagsTCP  = 6
	flagsUDP  = 1
	flagsICMP = 7

	maxFlagSelector = flagsICMP - 1
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	}
	return fmt.Sprintf("proto(%d)", int(p))
}

// ParseProtocol maps "tcp", "udp" or "icmp" to a Protocol.
func ParseProtocol(s string) (Protocol, bool) {
	switch s {
	case "tcp":
		return ProtoTCP, true
	case "udp":
		return ProtoUDP, true
	case "icmp":
		return ProtoICMP, true
	}
	return 0, false
}

func (p Protocol) flagModulus() int {
	switch p {
	case ProtoTCP:
		return flagsTCP
	case ProtoICMP:
		return flagsICMP
	}
	return flagsUDP
}

// Door is one port/protocol/flags triple of a knock sequence. ProtoMask and
// ProtoFlagsMask carry 1<<selector so callers can test them bitwise.
type Door struct {
	Port           uint16 `json:"port"`
	ProtoMask      uint16 `json:"proto_mask"`
	ProtoFlagsMask uint16 `json:"proto_flags_mask"`
}

// Protocol returns the selector encoded in ProtoMask.
func (d Door) Protocol() Protocol {
	return Protocol(bits.TrailingZeros16(d.ProtoMask))
}

// Flags returns the selector encoded in ProtoFlagsMask.
func (d Door) Flags() int {
	return bits.TrailingZeros16(d.ProtoFlagsMask)
}

func (d Door) String() string {
	return fmt.Sprintf("%s/%d flags=%d", d.Protocol(), d.Port, d.Flags())
}
