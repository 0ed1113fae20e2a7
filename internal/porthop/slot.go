package porthop

import (
	"crypto/sha512"
	"fmt"
	"strconv"
	"time"

	"doorknock/internal/hexcodec"
	"doorknock/internal/secmem"
)

// StepIndex returns the time slot now falls in.
func StepIndex(now time.Time, rotateSeconds int) int64 {
	return floorDiv(now.Unix(), int64(rotateSeconds))
}

// NextRotation returns how long until the slot after now begins.
func NextRotation(now time.Time, rotateSeconds int) time.Duration {
	s := StepIndex(now, rotateSeconds)
	next := time.Unix((s+1)*int64(rotateSeconds), 0)
	return next.Sub(now)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// sha512Hex hashes plain and returns the lowercase hex digest in a buffer the
// caller must Close.
func sha512Hex(plain []byte) *secmem.Buffer {
	sum := sha512.Sum512(plain)
	out := secmem.New(digestHexLen)
	out.Append(make([]byte, digestHexLen)...)
	hexcodec.Encode(out.Bytes(), sum[:])
	secmem.Zero(sum[:])
	return out
}

// material is the hash text one derivation works from. otp and oor alias the
// init hash, so Close clears all three.
type material struct {
	init *secmem.Buffer
	otp  []byte
	oor  []byte
}

func (m *material) Close() { m.init.Close() }

// hashSlot binds the secret digest to the time slot and selects the OTP and
// OOR substrings of the result.
func hashSlot(digest []byte, p Params, slot int64) (*material, error) {
	slotText := secmem.From(strconv.AppendInt(nil, slot, 10))
	slotHash := sha512Hex(slotText.Bytes())
	slotText.Close()

	concat := secmem.New(len(digest) + digestHexLen)
	concat.Append(digest...)
	concat.Append(slotHash.Bytes()...)
	slotHash.Close()

	init := sha512Hex(concat.Bytes())
	concat.Close()

	m := &material{init: init}
	if err := m.selectOTP(p); err != nil {
		m.Close()
		return nil, err
	}
	if err := m.selectOOR(p); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *material) selectOTP(p Params) error {
	h := m.init.Bytes()
	pos := sha512.Size + p.InitHashPos
	if pos < 0 || pos >= len(h) {
		return fmt.Errorf("%w: start digit at %d", ErrCapacity, pos)
	}
	start, err := hexcodec.Nibble(h[pos])
	if err != nil {
		return fmt.Errorf("otp start digit: %w", err)
	}
	end := int(start) + p.otpLen()
	if end > len(h) {
		return fmt.Errorf("%w: otp hash [%d:%d] of %d", ErrCapacity, start, end, len(h))
	}
	m.otp = h[start:end:end]
	return nil
}

func (m *material) selectOOR(p Params) error {
	h := m.init.Bytes()
	end := len(h) + p.InitHashPos
	start := end - p.oorLen()
	if start < 0 || end > len(h) || start > end {
		return fmt.Errorf("%w: oor hash [%d:%d] of %d", ErrCapacity, start, end, len(h))
	}
	m.oor = h[start:end:end]
	return nil
}
