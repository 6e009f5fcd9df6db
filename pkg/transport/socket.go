package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
)

// DefaultZVTPort is the TCP port terminals listen on.
const DefaultZVTPort = "20007"

// SocketTransport exchanges raw APDU payloads over TCP. The stream
// carries no DLE framing, no checksum and no ACK/NAK bytes; the length
// field inside each APDU delimits the messages and flow control
// reduces to TCP's own.
type SocketTransport struct {
	addr string
	cfg  Config

	conn net.Conn
}

// NewSocket builds a TCP transport from a socket://host:port address;
// a missing port defaults to the ZVT port.
func NewSocket(device string, cfg Config) (*SocketTransport, error) {
	addr := strings.TrimPrefix(device, SocketScheme)
	if addr == "" || strings.Contains(addr, "/") {
		return nil, fmt.Errorf("transport: invalid socket address %q", device)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultZVTPort)
	}
	return &SocketTransport{addr: addr, cfg: cfg.withDefaults()}, nil
}

// Connect dials the terminal.
func (t *SocketTransport) Connect() error {
	conn, err := net.DialTimeout("tcp", t.addr, t.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, t.addr, err)
	}
	t.conn = conn
	return nil
}

// Send writes the payload verbatim. There is no link-level
// acknowledge on TCP; the PT answers at the APDU layer.
func (t *SocketTransport) Send(payload []byte) error {
	if t.conn == nil {
		return fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}

	t.cfg.Logger.Debug("socket write", "payload", bcd.HexString(payload))
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.AckTimeout)); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if _, err := t.conn.Write(payload); err != nil {
		return wrapNetErr("write", err)
	}
	return nil
}

// Receive reads one APDU off the stream: the two header bytes, the
// length field and exactly the body it announces.
func (t *SocketTransport) Receive(timeout time.Duration) ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}

	// Header and one-byte length.
	apdu := make([]byte, 3, 16)
	if err := t.readFull(apdu); err != nil {
		return nil, err
	}

	length := int(apdu[2])
	if length == 0xFF {
		ext := make([]byte, 2)
		if err := t.readFull(ext); err != nil {
			return nil, err
		}
		apdu = append(apdu, ext...)
		length = int(bcd.WordFromBytes(ext[0], ext[1]))
	}

	body := make([]byte, length)
	if err := t.readFull(body); err != nil {
		return nil, err
	}
	apdu = append(apdu, body...)

	t.cfg.Logger.Debug("socket read", "payload", bcd.HexString(apdu))
	return apdu, nil
}

func (t *SocketTransport) readFull(buf []byte) error {
	for read := 0; read < len(buf); {
		n, err := t.conn.Read(buf[read:])
		if err != nil {
			return wrapNetErr("read", err)
		}
		read += n
	}
	return nil
}

func wrapNetErr(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("transport: %s: %w", op, err)
}

// Reset drops and redials the connection, with the optional settling
// delay.
func (t *SocketTransport) Reset() error {
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

// Close releases the connection.
func (t *SocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// InsertDelays reports whether conservative pacing was requested.
func (t *SocketTransport) InsertDelays() bool {
	return t.cfg.InsertDelays
}
