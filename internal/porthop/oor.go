package porthop

import (
	"fmt"
	"strconv"

	"doorknock/internal/hexcodec"
)

// cursor addresses the OOR hash from its right end: -1 is the last character.
// One cursor serves every door of a derivation and only moves backwards.
type cursor int

// next returns the character under the cursor and steps one to the left.
func (c *cursor) next(oor []byte) (byte, error) {
	i := len(oor) + int(*c)
	if i < 0 || i >= len(oor) {
		return 0, fmt.Errorf("%w: cursor %d of %d", ErrHashExhausted, int(*c), len(oor))
	}
	*c--
	return oor[i], nil
}

// correctPort returns port unchanged when it lies in [lo, hi]. Otherwise it
// builds a replacement offset digit by digit: each digit d of hi-lo is
// replaced with nibble mod (d+1), so the offset never exceeds the range.
func correctPort(port int, lo, hi uint16, oor []byte, cur *cursor) (uint16, error) {
	if port >= int(lo) && port <= int(hi) {
		return uint16(port), nil
	}

	span := strconv.AppendUint(make([]byte, 0, 5), uint64(hi-lo), 10)
	offset := 0
	for _, d := range span {
		c, err := cur.next(oor)
		if err != nil {
			return 0, err
		}
		v, err := hexcodec.ParseUint([]byte{c}, 8)
		if err != nil {
			return 0, fmt.Errorf("oor digit: %w", err)
		}
		offset = offset*10 + int(v)%(int(d-'0')+1)
	}
	return lo + uint16(offset), nil
}
