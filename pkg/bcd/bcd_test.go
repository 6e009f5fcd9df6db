package bcd

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		n       uint64
		digits  int
		want    []byte
		wantErr bool
	}{
		{name: "Amount One Cent", n: 1, digits: 12, want: Hex("00 00 00 00 00 01")},
		{name: "Amount", n: 12500, digits: 12, want: Hex("00 00 00 01 25 00")},
		{name: "Currency EUR", n: 978, digits: 4, want: Hex("09 78")},
		{name: "Zero", n: 0, digits: 2, want: Hex("00")},
		{name: "Overflow", n: 100, digits: 2, wantErr: true},
		{name: "Odd Digits", n: 1, digits: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.n, tt.digits)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestDecode_InvalidNibble(t *testing.T) {
	if _, err := Decode([]byte{0x1A}); err == nil {
		t.Error("expected error for nibble A")
	}
	if _, err := Decode([]byte{0xF1}); err == nil {
		t.Error("expected error for nibble F")
	}
}

func TestEncodeString(t *testing.T) {
	got, err := EncodeString("123456")
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	if !bytes.Equal(got, Hex("12 34 56")) {
		t.Errorf("EncodeString = %X, want 123456", got)
	}

	// Leading zeros survive the round trip.
	back, err := DecodeString(Hex("01 23 45"))
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if back != "012345" {
		t.Errorf("DecodeString = %q, want 012345", back)
	}

	if _, err := EncodeString("12345"); err == nil {
		t.Error("expected error for odd-length string")
	}
	if _, err := EncodeString("12345x"); err == nil {
		t.Error("expected error for non-digit")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Uint64Range(0, 999999999999).Draw(t, "n")
		raw, err := Encode(n, 12)
		if err != nil {
			t.Fatalf("Encode(%d): %v", n, err)
		}
		back, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%X): %v", raw, err)
		}
		if back != n {
			t.Fatalf("round trip %d -> %X -> %d", n, raw, back)
		}
	})
}

func TestIntWordSplit(t *testing.T) {
	w := IntWordSplit(0x1234)
	if w != [2]byte{0x34, 0x12} {
		t.Errorf("IntWordSplit = %X, want [34 12]", w)
	}
	if got := WordFromBytes(w[0], w[1]); got != 0x1234 {
		t.Errorf("WordFromBytes = %04X, want 1234", got)
	}
}
