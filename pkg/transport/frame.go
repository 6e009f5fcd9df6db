package transport

import (
	"fmt"

	"github.com/GiterLab/crc16"
)

// SERIAL FRAMING:
// On byte-oriented channels every APDU travels inside a DLE/STX/ETX
// envelope: DLE STX payload DLE ETX crc_lo crc_hi. Every DLE byte in
// the payload is doubled so the terminator stays unambiguous. The
// trailer is a CRC-CCITT (polynomial 0x1021 reflected, seed 0xFFFF)
// over the unescaped payload plus the ETX byte, little-endian on the
// wire. The receiver answers a valid frame with ACK and a corrupt one
// with NAK, prompting a retransmit.

// Control bytes of the serial framing.
const (
	STX = 0x02
	ETX = 0x03
	ACK = 0x06
	DLE = 0x10
	NAK = 0x15
)

// MaxResends bounds the retransmits after NAK before a send fails.
const MaxResends = 2

// FrameError reports a malformed frame: bad header, stray escape byte,
// checksum mismatch.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "transport: frame error: " + e.Reason
}

func frameErrorf(format string, args ...any) error {
	return &FrameError{Reason: fmt.Sprintf(format, args...)}
}

var crcTable = crc16.MakeTable(crc16.CRC16_MCRF4XX)

// Checksum computes the frame trailer over the unescaped payload plus
// the closing ETX.
func Checksum(payload []byte) uint16 {
	crc := crc16.Update(0xFFFF, payload, crcTable)
	return crc16.Update(crc, []byte{ETX}, crcTable)
}

// Frame wraps an APDU payload into its serial envelope, doubling every
// payload DLE and appending the little-endian checksum.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, DLE, STX)
	for _, b := range payload {
		if b == DLE {
			out = append(out, DLE)
		}
		out = append(out, b)
	}
	out = append(out, DLE, ETX)

	crc := Checksum(payload)
	return append(out, byte(crc), byte(crc>>8))
}

// Unframe unpacks a complete serial frame, undoing the byte stuffing
// and verifying the checksum.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) < 6 {
		return nil, frameErrorf("frame of %d bytes is too short", len(frame))
	}
	if frame[0] != DLE || frame[1] != STX {
		return nil, frameErrorf("header %02X %02X, want DLE STX", frame[0], frame[1])
	}

	payload := make([]byte, 0, len(frame)-6)
	i := 2
	for {
		if i >= len(frame) {
			return nil, frameErrorf("unterminated frame")
		}
		b := frame[i]
		i++

		if b != DLE {
			payload = append(payload, b)
			continue
		}
		if i >= len(frame) {
			return nil, frameErrorf("stray DLE at frame end")
		}
		switch frame[i] {
		case DLE:
			payload = append(payload, DLE)
			i++
		case ETX:
			i++
			if len(frame)-i != 2 {
				return nil, frameErrorf("%d trailer bytes, want 2", len(frame)-i)
			}
			crc := uint16(frame[i]) | uint16(frame[i+1])<<8
			if want := Checksum(payload); crc != want {
				return nil, frameErrorf("checksum %04X, want %04X", crc, want)
			}
			return payload, nil
		default:
			return nil, frameErrorf("DLE followed by %02X", frame[i])
		}
	}
}
