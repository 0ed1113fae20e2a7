package porthop

import (
	"crypto/sha512"
	"fmt"
	"strconv"
)

const (
	digestHexLen = sha512.Size * 2

	// Hex characters of init hash reserved per door.
	otpCharsPerDoor = 6
	oorCharsPerDoor = 5

	// Largest offset a single hex digit can select.
	maxOTPStart = 15

	// Dynamic marks Proto or ProtoFlags as derived per door.
	Dynamic = -1
)

// Decoding selects how the OTP hash becomes decimal digits.
type Decoding int

const (
	// DecodingCompat accumulates the OTP hash into a float64 and uses the
	// exact decimal expansion of that double. With dynamic protocol and
	// flags this matches existing C knock peers; those peers ignore a fixed
	// protocol or flags value and always emit selector 0 for it.
	DecodingCompat Decoding = iota
	// DecodingExact decodes the OTP hash with arbitrary precision.
	DecodingExact
)

func (d Decoding) String() string {
	switch d {
	case DecodingCompat:
		return "compat"
	case DecodingExact:
		return "exact"
	}
	return fmt.Sprintf("decoding(%d)", int(d))
}

// ParseDecoding accepts "", "compat" or "exact".
func ParseDecoding(s string) (Decoding, bool) {
	switch s {
	case "", "compat":
		return DecodingCompat, true
	case "exact":
		return DecodingExact, true
	}
	return 0, false
}

// Params configures one knock. InitHashPos is a negative offset: it picks the
// start-offset digit at 64+InitHashPos, anchors the OOR hash that many
// characters from the right of the init hash, and seeds the OOR cursor.
type Params struct {
	NumPorts      int
	RotateSeconds int
	InitHashPos   int
	PortMin       uint16
	PortMax       uint16
	Proto         int
	ProtoFlags    int
	Decoding      Decoding
}

// MaxPorts is the largest door count whose OTP hash fits the init hash for
// every possible start offset.
const MaxPorts = (digestHexLen - maxOTPStart) / otpCharsPerDoor

// Validate rejects parameters that could select hash material outside the
// init hash. Derivation with validated parameters only fails on corrupted
// input or on a cursor that runs out of OOR digits.
func (p Params) Validate() error {
	if p.NumPorts < 1 {
		return fmt.Errorf("%w: ports must be at least 1", ErrInvalidParams)
	}
	if p.RotateSeconds < 1 {
		return fmt.Errorf("%w: rotate_seconds must be at least 1", ErrInvalidParams)
	}
	if p.PortMin > p.PortMax {
		return fmt.Errorf("%w: port_range min %d > max %d", ErrInvalidParams, p.PortMin, p.PortMax)
	}
	if p.Proto < Dynamic || p.Proto >= numProtocols {
		return fmt.Errorf("%w: protocol %d", ErrInvalidParams, p.Proto)
	}
	if p.ProtoFlags < Dynamic || p.ProtoFlags > maxFlagSelector {
		return fmt.Errorf("%w: protocol_flags %d", ErrInvalidParams, p.ProtoFlags)
	}
	if p.Decoding != DecodingCompat && p.Decoding != DecodingExact {
		return fmt.Errorf("%w: %s", ErrInvalidParams, p.Decoding)
	}
	if p.NumPorts > MaxPorts {
		return fmt.Errorf("%w: %d ports need up to %d otp characters, hash has %d",
			ErrCapacity, p.NumPorts, maxOTPStart+p.otpLen(), digestHexLen)
	}
	if p.InitHashPos > -1 {
		return fmt.Errorf("%w: init_hash_pos must be negative", ErrCapacity)
	}
	if lo := p.minInitHashPos(); p.InitHashPos < lo {
		return fmt.Errorf("%w: init_hash_pos %d below %d for %d ports", ErrCapacity, p.InitHashPos, lo, p.NumPorts)
	}
	// Every door may need one OOR digit per digit of the port span.
	if need, have := p.NumPorts*p.spanDigits(), p.oorLen()+p.InitHashPos+1; need > have {
		return fmt.Errorf("%w: init_hash_pos %d leaves %d oor digits, worst case needs %d", ErrCapacity, p.InitHashPos, have, need)
	}
	return nil
}

func (p Params) spanDigits() int {
	return len(strconv.FormatUint(uint64(p.PortMax-p.PortMin), 10))
}

func (p Params) otpLen() int { return p.NumPorts * otpCharsPerDoor }
func (p Params) oorLen() int { return p.NumPorts * oorCharsPerDoor }

func (p Params) minInitHashPos() int {
	lo := -sha512.Size
	if v := p.oorLen() - digestHexLen; v > lo {
		lo = v
	}
	return lo
}

func (p Params) dynamicProto() bool { return p.Proto < 0 }
func (p Params) dynamicFlags() bool { return p.ProtoFlags < 0 }
