package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
)

// SerialTransport drives the PT over an RS-232 line at 9600 8E1 with
// DTR asserted, the classic ZVT link. The channel is half duplex:
// after a send the caller reads responses until master rights return.
type SerialTransport struct {
	device string
	cfg    Config

	port serial.Port
	rw   io.ReadWriter // the port; replaced by a loopback in tests
}

// NewSerial builds a serial transport for a device path such as
// /dev/ttyUSB0 or COM3. The link is opened by Connect.
func NewSerial(device string, cfg Config) *SerialTransport {
	return &SerialTransport{device: device, cfg: cfg.withDefaults()}
}

// Connect opens the port.
func (t *SerialTransport) Connect() error {
	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(t.device, mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrConnectionFailed, t.device, err)
	}
	if err := port.SetDTR(true); err != nil {
		port.Close()
		return fmt.Errorf("%w: assert DTR on %s: %v", ErrConnectionFailed, t.device, err)
	}

	t.port = port
	t.rw = port
	return nil
}

// Send frames the payload, writes it and waits for the peer's single
// acknowledge byte. A NAK triggers a retransmit of the identical
// frame, up to MaxResends times.
func (t *SerialTransport) Send(payload []byte) error {
	if t.rw == nil {
		return fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}

	frame := Frame(payload)
	t.cfg.Logger.Debug("serial write", "frame", bcd.HexString(frame))

	for attempt := 0; ; attempt++ {
		if _, err := t.rw.Write(frame); err != nil {
			return fmt.Errorf("transport: write: %w", err)
		}

		b, err := t.readByte(time.Now().Add(t.cfg.AckTimeout))
		if err != nil {
			return err
		}

		switch b {
		case ACK:
			return nil
		case NAK:
			if attempt >= MaxResends {
				return frameErrorf("peer sent NAK %d times", attempt+1)
			}
			t.cfg.Logger.Warn("frame rejected, resending", "attempt", attempt+1)
		default:
			return frameErrorf("0x%02X in place of ACK", b)
		}
	}
}

// Receive reads the next frame. Corrupt frames are answered with NAK
// and the read continues, waiting for the retransmit; a valid frame is
// acknowledged with ACK and its payload returned.
func (t *SerialTransport) Receive(timeout time.Duration) ([]byte, error) {
	if t.rw == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}

	deadline := time.Now().Add(timeout)
	for {
		payload, err := t.readFrame(deadline)
		if err == nil {
			if _, err := t.rw.Write([]byte{ACK}); err != nil {
				return nil, fmt.Errorf("transport: write ACK: %w", err)
			}
			t.cfg.Logger.Debug("serial read", "payload", bcd.HexString(payload))
			return payload, nil
		}

		var fe *FrameError
		if !errors.As(err, &fe) {
			return nil, err
		}

		t.cfg.Logger.Warn("corrupt frame", "err", err)
		if _, err := t.rw.Write([]byte{NAK}); err != nil {
			return nil, fmt.Errorf("transport: write NAK: %w", err)
		}
	}
}

// readFrame consumes one frame from the line, unstuffing DLE pairs and
// verifying the checksum. Stray ACK/NAK bytes between frames are
// skipped with a debug notice.
func (t *SerialTransport) readFrame(deadline time.Time) ([]byte, error) {
	for {
		b, err := t.readByte(deadline)
		if err != nil {
			return nil, err
		}
		switch b {
		case ACK, NAK:
			t.cfg.Logger.Debug("stray acknowledge byte", "byte", fmt.Sprintf("%02X", b))
			continue
		case DLE:
		default:
			return nil, frameErrorf("0x%02X in place of DLE STX", b)
		}
		break
	}

	b, err := t.readByte(deadline)
	if err != nil {
		return nil, err
	}
	if b != STX {
		return nil, frameErrorf("DLE followed by %02X, want STX", b)
	}

	var payload []byte
	for {
		b, err := t.readByte(deadline)
		if err != nil {
			return nil, err
		}
		if b != DLE {
			payload = append(payload, b)
			continue
		}

		b, err = t.readByte(deadline)
		if err != nil {
			return nil, err
		}
		switch b {
		case DLE:
			payload = append(payload, DLE)
		case ETX:
			lo, err := t.readByte(deadline)
			if err != nil {
				return nil, err
			}
			hi, err := t.readByte(deadline)
			if err != nil {
				return nil, err
			}
			crc := uint16(lo) | uint16(hi)<<8
			if want := Checksum(payload); crc != want {
				return nil, frameErrorf("checksum %04X, want %04X", crc, want)
			}
			return payload, nil
		default:
			return nil, frameErrorf("DLE followed by %02X", b)
		}
	}
}

// readByte reads a single byte, polling the port until the deadline.
// The serial library reports a read timeout as a zero-byte read.
func (t *SerialTransport) readByte(deadline time.Time) (byte, error) {
	buf := make([]byte, 1)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, ErrTimeout
		}
		if t.port != nil {
			if err := t.port.SetReadTimeout(remaining); err != nil {
				return 0, fmt.Errorf("transport: set read timeout: %w", err)
			}
		}

		n, err := t.rw.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("transport: read: %w", err)
		}
		if n == 1 {
			return buf[0], nil
		}
	}
}

// Reset drops and reopens the port. With InsertDelays the transport
// waits a second so the terminal can settle.
func (t *SerialTransport) Reset() error {
	if err := t.Close(); err != nil {
		return err
	}
	if err := t.Connect(); err != nil {
		return err
	}
	if t.cfg.InsertDelays {
		time.Sleep(time.Second)
	}
	return nil
}

// Close releases the port.
func (t *SerialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.rw = nil
	return err
}

// InsertDelays reports whether conservative pacing was requested.
func (t *SerialTransport) InsertDelays() bool {
	return t.cfg.InsertDelays
}
