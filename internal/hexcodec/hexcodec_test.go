package hexcodec

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestNibble(t *testing.T) {
	t.Parallel()

	for i, c := range []byte("0123456789abcdef") {
		got, err := Nibble(c)
		if err != nil {
			t.Fatalf("Nibble(%q): %v", c, err)
		}
		if int(got) != i {
			t.Fatalf("Nibble(%q): got %d, want %d", c, got, i)
		}
	}
	for i, c := range []byte("ABCDEF") {
		got, err := Nibble(c)
		if err != nil || int(got) != 10+i {
			t.Fatalf("Nibble(%q): got %d, %v", c, got, err)
		}
	}
	for _, c := range []byte("gG /:@`\x00") {
		if _, err := Nibble(c); !errors.Is(err, ErrInvalidHex) {
			t.Fatalf("Nibble(%q): expected ErrInvalidHex, got %v", c, err)
		}
	}
}

func TestParseUint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		bits    int
		want    uint64
		wantErr error
	}{
		{in: "0", bits: 64, want: 0},
		{in: "f", bits: 64, want: 15},
		{in: "Ff", bits: 8, want: 255},
		{in: "100", bits: 8, wantErr: ErrOverflow},
		{in: "0ff", bits: 8, want: 255},
		{in: "ffff", bits: 16, want: math.MaxUint16},
		{in: "10000", bits: 16, wantErr: ErrOverflow},
		{in: "7fffffff", bits: 32, want: math.MaxInt32},
		{in: "ffffffff", bits: 32, want: math.MaxUint32},
		{in: "100000000", bits: 32, wantErr: ErrOverflow},
		{in: "ffffffffffffffff", bits: 64, want: math.MaxUint64},
		{in: "0000ffffffffffffffff", bits: 64, want: math.MaxUint64},
		{in: "10000000000000000", bits: 64, wantErr: ErrOverflow},
		{in: "", bits: 64, wantErr: ErrInvalidHex},
		{in: "1g", bits: 64, wantErr: ErrInvalidHex},
		{in: "g1", bits: 64, wantErr: ErrInvalidHex},
	}

	for _, tt := range tests {
		got, err := ParseUint([]byte(tt.in), tt.bits)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseUint(%q, %d): expected %v, got %v (value %d)", tt.in, tt.bits, tt.wantErr, err, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseUint(%q, %d): %v", tt.in, tt.bits, err)
		}
		if got != tt.want {
			t.Fatalf("ParseUint(%q, %d): got %d, want %d", tt.in, tt.bits, got, tt.want)
		}
	}
}

func TestParseUintRejectsBitSize(t *testing.T) {
	t.Parallel()

	if _, err := ParseUint([]byte("1"), 12); err == nil {
		t.Fatal("expected error for unsupported bit size")
	}
}

func TestParseUintRoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint64{0, 1, 0xab, 0x1234, 0xdeadbeef, 1 << 40, math.MaxUint64 - 1, math.MaxUint64}
	for _, x := range values {
		var raw [8]byte
		for i := 0; i < 8; i++ {
			raw[7-i] = byte(x >> (8 * uint(i)))
		}
		enc := AppendEncode(nil, raw[:])
		got, err := ParseUint(enc, 64)
		if err != nil {
			t.Fatalf("ParseUint(%s): %v", enc, err)
		}
		if got != x {
			t.Fatalf("round trip %d: got %d via %s", x, got, enc)
		}
	}
}

func TestParseFloat(t *testing.T) {
	t.Parallel()

	got, err := ParseFloat([]byte("ffffff"))
	if err != nil {
		t.Fatal(err)
	}
	if got != 16777215 {
		t.Fatalf("got %v, want 16777215", got)
	}

	// 256 hex digits of f exceed float64 max.
	if _, err := ParseFloat([]byte(strings.Repeat("f", 257))); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	// 1 followed by 255 zeros is 2^1020, still representable.
	if _, err := ParseFloat([]byte("1" + strings.Repeat("0", 255))); err != nil {
		t.Fatalf("2^1020: %v", err)
	}
	if _, err := ParseFloat([]byte("12x4")); !errors.Is(err, ErrInvalidHex) {
		t.Fatalf("expected ErrInvalidHex, got %v", err)
	}
	if _, err := ParseFloat(nil); !errors.Is(err, ErrInvalidHex) {
		t.Fatalf("expected ErrInvalidHex for empty input, got %v", err)
	}
}

func TestParseFloatMatchesUintWithinPrecision(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"1", "abcdef", "1fffffffffffff", "0123456789abc"} {
		u, err := ParseUint([]byte(s), 64)
		if err != nil {
			t.Fatal(err)
		}
		f, err := ParseFloat([]byte(s))
		if err != nil {
			t.Fatal(err)
		}
		if float64(u) != f {
			t.Fatalf("%s: uint %d, float %v", s, u, f)
		}
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	src := []byte{0x00, 0x0f, 0xa5, 0xff}
	dst := make([]byte, EncodedLen(len(src)))
	if n := Encode(dst, src); n != 8 {
		t.Fatalf("Encode wrote %d bytes", n)
	}
	if string(dst) != "000fa5ff" {
		t.Fatalf("got %q", dst)
	}
	if got := string(AppendEncode([]byte("x"), src)); got != "x000fa5ff" {
		t.Fatalf("AppendEncode got %q", got)
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if got := Valid([]byte("00aaFF")); got != -1 {
		t.Fatalf("got %d", got)
	}
	if got := Valid([]byte("00agFF")); got != 3 {
		t.Fatalf("got %d", got)
	}
}
