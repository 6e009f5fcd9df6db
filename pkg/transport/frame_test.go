package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
)

func TestFrame_Structure(t *testing.T) {
	payload := bcd.Hex("06 00 06 12 34 56 BE 09 78")
	frame := Frame(payload)

	assert.Equal(t, []byte{DLE, STX}, frame[:2])
	assert.Equal(t, []byte{DLE, ETX}, frame[len(frame)-4:len(frame)-2])
	assert.Len(t, frame, len(payload)+6)

	crc := Checksum(payload)
	assert.Equal(t, byte(crc), frame[len(frame)-2], "CRC low byte first")
	assert.Equal(t, byte(crc>>8), frame[len(frame)-1])
}

func TestFrame_StuffsDLE(t *testing.T) {
	payload := []byte{0x10, 0x02, 0x10}
	frame := Frame(payload)

	// DLE STX | 10 10 02 10 10 | DLE ETX crc crc
	want := []byte{DLE, STX, 0x10, 0x10, 0x02, 0x10, 0x10, DLE, ETX}
	assert.Equal(t, want, frame[:len(frame)-2])
}

func TestUnframe_Errors(t *testing.T) {
	valid := Frame(bcd.Hex("80 00 00"))

	corrupt := append([]byte(nil), valid...)
	corrupt[len(corrupt)-1] ^= 0xFF

	tests := []struct {
		name  string
		frame []byte
	}{
		{"Too Short", []byte{DLE, STX, DLE}},
		{"Bad Header", append([]byte{0x00, STX}, valid[2:]...)},
		{"Bad CRC", corrupt},
		{"Unterminated", valid[:len(valid)-4]},
		{"Stray DLE", []byte{DLE, STX, 0x01, DLE, 0x55, DLE, ETX, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unframe(tt.frame)
			require.Error(t, err)
			assert.IsType(t, &FrameError{}, err)
		})
	}
}

// Any payload survives the frame/unframe round trip, and the framed
// form never contains an unescaped DLE ETX before the terminator.
func TestFrame_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOf(rapid.Byte()).Draw(t, "payload")

		frame := Frame(payload)
		back, err := Unframe(frame)
		if err != nil {
			t.Fatalf("Unframe(Frame(%x)): %v", payload, err)
		}
		if !bytes.Equal(back, payload) {
			t.Fatalf("round trip: %x -> %x", payload, back)
		}

		// Scan the stuffed region: an odd run of DLEs followed by ETX
		// may only occur at the terminator.
		terminator := len(frame) - 4
		run := 0
		for i := 2; i < len(frame)-2; i++ {
			if frame[i] == DLE {
				run++
				continue
			}
			if frame[i] == ETX && run%2 == 1 && i-1 != terminator {
				t.Fatalf("unescaped DLE ETX at %d in %x", i, frame)
			}
			run = 0
		}
	})
}

// Every payload DLE appears doubled in the framed output.
func TestFrame_DLECount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOf(rapid.Byte()).Draw(t, "payload")

		frame := Frame(payload)
		inPayload := bytes.Count(payload, []byte{DLE})
		// The CRC trailer may contain 0x10 by chance; skip it.
		inFrame := bytes.Count(frame[:len(frame)-2], []byte{DLE})

		// Header and trailer contribute one DLE each.
		if inFrame != 2*inPayload+2 {
			t.Fatalf("%d DLEs in frame of payload with %d", inFrame, inPayload)
		}
	})
}

func TestChecksum_Detects(t *testing.T) {
	a := Checksum([]byte{0x06, 0x00})
	b := Checksum([]byte{0x06, 0x01})
	assert.NotEqual(t, a, b)
}
