package bcd

import (
	"fmt"
)

// VARIABLE-LENGTH FIELDS (LLVAR / LLLVAR):
// The length prefix is written as two (LLVAR) or three (LLLVAR) decimal
// digits, one digit per byte, each carried in the low nibble of a byte
// whose high nibble is F. A ten-byte LLVAR payload is therefore prefixed
// with F1 F0. Maximum lengths are 99 and 999.

// MaxLLVar and MaxLLLVar are the largest payloads the two- and
// three-digit length prefixes can describe.
const (
	MaxLLVar  = 99
	MaxLLLVar = 999
)

// AppendLLVar appends a two-digit length prefix and the payload to dst.
func AppendLLVar(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxLLVar {
		return nil, fmt.Errorf("bcd: LLVAR payload of %d bytes exceeds %d", len(payload), MaxLLVar)
	}
	l := len(payload)
	dst = append(dst, 0xF0|byte(l/10), 0xF0|byte(l%10))
	return append(dst, payload...), nil
}

// AppendLLLVar appends a three-digit length prefix and the payload to dst.
func AppendLLLVar(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxLLLVar {
		return nil, fmt.Errorf("bcd: LLLVAR payload of %d bytes exceeds %d", len(payload), MaxLLLVar)
	}
	l := len(payload)
	dst = append(dst, 0xF0|byte(l/100), 0xF0|byte(l/10%10), 0xF0|byte(l%10))
	return append(dst, payload...), nil
}

// ConsumeLLVar reads a two-digit prefixed field from src and returns the
// payload together with the unread remainder.
func ConsumeLLVar(src []byte) (payload, rest []byte, err error) {
	return consumeVar(src, 2)
}

// ConsumeLLLVar reads a three-digit prefixed field from src and returns
// the payload together with the unread remainder.
func ConsumeLLLVar(src []byte) (payload, rest []byte, err error) {
	return consumeVar(src, 3)
}

func consumeVar(src []byte, digits int) (payload, rest []byte, err error) {
	if len(src) < digits {
		return nil, nil, fmt.Errorf("bcd: need %d length digits, have %d bytes", digits, len(src))
	}

	length := 0
	for i := 0; i < digits; i++ {
		d := src[i] & 0x0F
		if src[i]&0xF0 != 0xF0 || d > 9 {
			return nil, nil, fmt.Errorf("bcd: invalid length digit 0x%02X", src[i])
		}
		length = length*10 + int(d)
	}

	src = src[digits:]
	if len(src) < length {
		return nil, nil, fmt.Errorf("bcd: length prefix promises %d bytes, have %d", length, len(src))
	}
	return src[:length], src[length:], nil
}
