// Package transport moves APDU payloads between ECR and PT, either
// framed over a half-duplex serial line or raw over a TCP stream.
package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Errors surfaced by the transports. Frame-level corruption is handled
// locally with NAK and retransmits; these are what remains after that.
var (
	// ErrConnectionFailed reports a failed connect or reopen at the
	// OS layer. Fatal to the current client.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrTimeout reports that the peer did not answer within the
	// caller's deadline.
	ErrTimeout = errors.New("transport: timeout")
)

// Transport is a connected byte channel carrying one APDU per message.
// Send delivers a payload including any link-level acknowledgement
// handshake; Receive blocks for the next payload. Implementations are
// not safe for concurrent use; the transmission owns the transport for
// the duration of one command.
type Transport interface {
	// Connect establishes the link. It is called once by the client;
	// Reset re-establishes after failures.
	Connect() error

	// Send writes one APDU payload and, on acknowledged channels,
	// waits for the link-level ACK, retransmitting on NAK up to
	// MaxResends times.
	Send(payload []byte) error

	// Receive blocks until the next APDU payload arrives or the
	// timeout elapses.
	Receive(timeout time.Duration) ([]byte, error)

	// Reset drops and re-establishes the link. Terminals tolerate a
	// settling delay afterwards; transports with InsertDelays wait
	// one second.
	Reset() error

	// Close releases the link. Required on every error path; leaks
	// manifest as held file descriptors.
	Close() error

	// InsertDelays reports whether conservative pacing between
	// frames was requested.
	InsertDelays() bool
}

// Config carries the transport tuning shared by both implementations.
type Config struct {
	// Logger receives hex dumps of the wire traffic at debug level.
	Logger *log.Logger

	// AckTimeout bounds the wait for the frame acknowledge byte.
	// Defaults to 5 seconds.
	AckTimeout time.Duration

	// ConnectTimeout bounds socket dialing. Defaults to 5 seconds.
	ConnectTimeout time.Duration

	// InsertDelays opts into conservative pacing between frames.
	InsertDelays bool
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = log.New(io.Discard)
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// SocketScheme prefixes TCP device addresses.
const SocketScheme = "socket://"

// New selects a transport from the device address: paths and COM names
// pick the serial transport at 9600 8E1, socket:// URIs pick TCP.
func New(device string, cfg Config) (Transport, error) {
	switch {
	case strings.HasPrefix(device, "/") || strings.HasPrefix(device, "COM"):
		return NewSerial(device, cfg), nil
	case strings.HasPrefix(device, SocketScheme):
		return NewSocket(device, cfg)
	default:
		return nil, fmt.Errorf("transport: unsupported device address %q", device)
	}
}
