package porthop

import (
	"errors"

	"doorknock/internal/hexcodec"
)

var (
	// ErrInvalidHex and ErrOverflow are the two derivation failures; both come
	// from hex decoding of the secret digest or the hash material.
	ErrInvalidHex = hexcodec.ErrInvalidHex
	ErrOverflow   = hexcodec.ErrOverflow

	// ErrInvalidParams reports a configuration that can never derive doors.
	ErrInvalidParams = errors.New("invalid knock parameters")

	// ErrCapacity reports a hash selection that falls outside the init hash.
	ErrCapacity = errors.New("knock parameters exceed hash capacity")

	// ErrHashExhausted reports that port correction walked off the OOR hash.
	ErrHashExhausted = errors.New("out-of-range hash exhausted")
)
