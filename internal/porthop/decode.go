package porthop

import (
	"fmt"
	"math/big"
	"strconv"

	"doorknock/internal/hexcodec"
	"doorknock/internal/secmem"
)

// rawDoor is a decoded segment before port correction.
type rawDoor struct {
	port  int
	proto Protocol
	flags int
}

// decimalText renders the OTP hash as the integer decimal digits the chosen
// decoding produces.
func decimalText(otp []byte, mode Decoding) (*secmem.Buffer, error) {
	switch mode {
	case DecodingCompat:
		v, err := hexcodec.ParseFloat(otp)
		if err != nil {
			return nil, fmt.Errorf("decode otp hash: %w", err)
		}
		// 'f' with no fractional digits prints every integer digit of the
		// double exactly, as "%.*g" with the digit count does.
		return secmem.Wrap(strconv.AppendFloat(make([]byte, 0, 2*len(otp)), v, 'f', 0, 64)), nil
	case DecodingExact:
		n := new(big.Int)
		nib := new(big.Int)
		for i, c := range otp {
			v, err := hexcodec.Nibble(c)
			if err != nil {
				return nil, fmt.Errorf("decode otp hash: %w at offset %d", err, i)
			}
			n.Lsh(n, 4)
			n.Or(n, nib.SetUint64(uint64(v)))
		}
		out := secmem.Wrap(n.Append(make([]byte, 0, 2*len(otp)), 10))
		clearInt(n)
		clearInt(nib)
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidParams, mode)
}

func clearInt(n *big.Int) {
	w := n.Bits()
	for i := range w {
		w[i] = 0
	}
	n.SetInt64(0)
}

// decodeSegments splits the decimal text into one segment per door and
// resolves each segment's protocol and flags.
func decodeSegments(digits []byte, p Params) []rawDoor {
	fields, width := layoutFor(p)
	doors := make([]rawDoor, p.NumPorts)
	for i := range doors {
		seg := clip(digits, i*width, (i+1)*width)

		protoDigit, flagsDigit, port := 0, 0, 0
		off := 0
		for _, f := range fields {
			v := atoiDigits(clip(seg, off, off+f.width))
			off += f.width
			switch f.field {
			case fieldProto:
				protoDigit = v
			case fieldFlags:
				flagsDigit = v
			case fieldPort:
				port = v
			}
		}

		proto := Protocol(p.Proto)
		if p.dynamicProto() {
			proto = Protocol(protoDigit % numProtocols)
		}
		flags := p.ProtoFlags
		if p.dynamicFlags() {
			flags = flagsDigit
		}
		doors[i] = rawDoor{
			port:  port,
			proto: proto,
			flags: flags % proto.flagModulus(),
		}
	}
	return doors
}

// clip returns s[from:to] limited to the bounds of s.
func clip(s []byte, from, to int) []byte {
	if from >= len(s) {
		return nil
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// atoiDigits parses a run of decimal digits. A short or empty run parses to
// whatever digits are present, zero for none.
func atoiDigits(s []byte) int {
	v := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		v = v*10 + int(c-'0')
	}
	return v
}
