// Package hexcodec converts between hexadecimal text and unsigned integers or
// float64 values with explicit overflow and invalid-input detection.
package hexcodec

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidHex = errors.New("invalid hex")
	ErrOverflow   = errors.New("hex value overflows target type")
)

const lowerMap = "0123456789abcdef"

const base = 16

// Nibble maps a single hex character to its value 0..15.
func Nibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	}
	return 0, ErrInvalidHex
}

// ParseUint decodes s into an unsigned integer of the given bit size
// (8, 16, 32 or 64). Decoding stops with ErrOverflow as soon as the next
// shift would exceed the maximum for bitSize.
func ParseUint(s []byte, bitSize int) (uint64, error) {
	var max uint64
	switch bitSize {
	case 8, 16, 32:
		max = 1<<uint(bitSize) - 1
	case 64:
		max = math.MaxUint64
	default:
		return 0, fmt.Errorf("hexcodec: unsupported bit size %d", bitSize)
	}
	if len(s) == 0 {
		return 0, fmt.Errorf("%w: empty input", ErrInvalidHex)
	}
	var v uint64
	for i, c := range s {
		n, err := Nibble(c)
		if err != nil {
			return 0, fmt.Errorf("%w at offset %d", err, i)
		}
		if v > max/base {
			return 0, fmt.Errorf("%w: uint%d at offset %d", ErrOverflow, bitSize, i)
		}
		v = v*base + uint64(n)
	}
	return v, nil
}

// ParseFloat decodes s into a float64 using the same left-to-right
// accumulation as ParseUint. Precision is lost once the value needs more than
// 53 significant bits; callers that need every digit must keep s short.
func ParseFloat(s []byte) (float64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("%w: empty input", ErrInvalidHex)
	}
	var v float64
	for i, c := range s {
		n, err := Nibble(c)
		if err != nil {
			return 0, fmt.Errorf("%w at offset %d", err, i)
		}
		if v > math.MaxFloat64/base {
			return 0, fmt.Errorf("%w: float64 at offset %d", ErrOverflow, i)
		}
		// two roundings, never fused
		v = float64(v * base)
		v = float64(v + float64(n))
	}
	return v, nil
}

// Valid reports the offset of the first non-hex character, or -1.
func Valid(s []byte) int {
	for i, c := range s {
		if _, err := Nibble(c); err != nil {
			return i
		}
	}
	return -1
}

// EncodedLen returns the hex length of n source bytes.
func EncodedLen(n int) int { return n * 2 }

// Encode writes the lowercase hex form of src into dst and returns the number
// of bytes written. dst must hold EncodedLen(len(src)) bytes.
func Encode(dst, src []byte) int {
	j := 0
	for _, b := range src {
		dst[j] = lowerMap[b>>4]
		dst[j+1] = lowerMap[b&0x0f]
		j += 2
	}
	return j
}

// AppendEncode appends the lowercase hex form of src to dst.
func AppendEncode(dst, src []byte) []byte {
	for _, b := range src {
		dst = append(dst, lowerMap[b>>4], lowerMap[b&0x0f])
	}
	return dst
}
