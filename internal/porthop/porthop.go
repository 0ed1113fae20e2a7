// Package porthop derives the time-rotating door sequence a client must knock
// and a server listens for. Both sides compute it from the SHA-512 hex digest
// of a shared password and the current time slot.
package porthop

import (
	"fmt"
	"math"
	"time"

	"doorknock/internal/hexcodec"
)

// Generate derives the doors for slot. It either returns p.NumPorts doors or
// an error; there are no partial results.
func Generate(digest []byte, p Params, slot int64) ([]Door, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if i := hexcodec.Valid(digest); i >= 0 {
		return nil, fmt.Errorf("secret digest: %w at offset %d", ErrInvalidHex, i)
	}
	if len(digest) != digestHexLen {
		return nil, fmt.Errorf("%w: secret digest has %d hex characters, want %d", ErrInvalidParams, len(digest), digestHexLen)
	}

	m, err := hashSlot(digest, p, slot)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	text, err := decimalText(m.otp, p.Decoding)
	if err != nil {
		return nil, err
	}
	defer text.Close()

	raw := decodeSegments(text.Bytes(), p)
	cur := cursor(p.InitHashPos)
	doors := make([]Door, len(raw))
	for i, r := range raw {
		port, err := correctPort(r.port, p.PortMin, p.PortMax, m.oor, &cur)
		if err != nil {
			return nil, fmt.Errorf("door %d: %w", i, err)
		}
		doors[i] = Door{
			Port:           port,
			ProtoMask:      1 << uint(r.proto),
			ProtoFlagsMask: 1 << uint(r.flags),
		}
	}
	return doors, nil
}

// Derive returns the doors for the slot now falls in.
func Derive(digest []byte, p Params, now time.Time) ([]Door, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return Generate(digest, p, StepIndex(now, p.RotateSeconds))
}

// Window returns the sequences for slots slot-skew through slot+skew, oldest
// first. A peer whose clock is within skew slots knocks one of them.
func Window(digest []byte, p Params, slot int64, skew int) ([][]Door, error) {
	if skew < 0 {
		skew = 0
	}
	out := make([][]Door, 0, 2*skew+1)
	for s := slot - int64(skew); s <= slot+int64(skew); s++ {
		doors, err := Generate(digest, p, s)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", s, err)
		}
		out = append(out, doors)
	}
	return out, nil
}

// UniqueDoors flattens sequences into the distinct doors they use, in first
// seen order.
func UniqueDoors(seqs ...[]Door) []Door {
	m := map[Door]struct{}{}
	res := make([]Door, 0)
	for _, seq := range seqs {
		for _, d := range seq {
			if _, ok := m[d]; !ok {
				m[d] = struct{}{}
				res = append(res, d)
			}
		}
	}
	return res
}

// ClampSkew reports whether step is within skew slots of current.
func ClampSkew(step int64, current int64, skew int) bool {
	d := math.Abs(float64(step - current))
	return d <= float64(skew)
}
