// Package packets implements the APDU layer of the ZVT protocol: the
// codec that assembles and parses Application Protocol Data Units, the
// registry that maps command tags to typed packet variants, and the
// bitmap-encoded optional fields the APDUs carry.
package packets

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
)

// APDU STRUCTURE:
// An APDU starts with a two-byte command tag (class, instruction)
// followed by a length and the body. The length is one byte for bodies
// below 0xFF; longer bodies use the escape 0xFF followed by a 16-bit
// little-endian length. The body holds the variant's fixed fields in
// declaration order, then any number of bitmap-encoded optional fields.

// Command classes seen on the wire.
const (
	ClassStandard  = 0x06 // standard commands, mostly ECR to PT
	ClassPT        = 0x04 // commands from PT to ECR
	ClassStatus    = 0x05 // status enquiry
	ClassService   = 0x08 // service commands
	ClassReceived  = 0x80 // APDU-level positive acknowledge
	ClassRecvError = 0x84 // APDU-level negative acknowledge
)

// CurrencyEUR is the ISO 4217 numeric code for Euro, the only currency
// most German terminals accept.
const CurrencyEUR uint16 = 978

// Response timeouts. Authorisation-class commands involve cardholder
// interaction and host round trips; everything else answers quickly.
const (
	DefaultTimeout = 5 * time.Second
	LongTimeout    = 180 * time.Second
)

// ErrNotEnoughData reports an APDU whose length field promises more
// bytes than the body holds.
var ErrNotEnoughData = errors.New("not enough data")

// ProtocolError reports an APDU that could not be interpreted at the
// protocol level: an unknown or malformed bitmap. Errors in the fixed
// fields are returned as plain wrapped errors.
type ProtocolError struct {
	Header Header
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %s", e.Header, e.Reason)
}

var logger = log.New(io.Discard)

// SetLogger routes the package's notices (unknown packets, the
// registration config warning) to the given logger.
func SetLogger(l *log.Logger) {
	if l != nil {
		logger = l
	}
}

// Header is the two-byte command tag identifying a packet variant.
type Header struct {
	Class byte
	Instr byte
}

// Key folds the header into the 16-bit registry key.
func (h Header) Key() uint16 {
	return uint16(h.Class)<<8 | uint16(h.Instr)
}

func (h Header) String() string {
	return fmt.Sprintf("%02X %02X", h.Class, h.Instr)
}

// Packet is one APDU in typed form. Implementations hold the fixed
// fields as struct members and the optional fields as bitmaps.
type Packet interface {
	Header() Header

	// AppendFixed serialises the variant's fixed fields onto dst in
	// declaration order.
	AppendFixed(dst []byte) ([]byte, error)

	// ConsumeFixed parses the fixed fields from the length-trimmed
	// body and returns the remaining bitmap bytes.
	ConsumeFixed(body []byte) (rest []byte, err error)

	// Bitmaps exposes the packet's optional fields in insertion order.
	Bitmaps() *Bitmaps
}

// Command is a packet the ECR may initiate on the channel.
type Command interface {
	Packet

	// WaitForCompletion reports whether the exchange stays open until
	// the PT returns master rights with a Completion or Abort.
	WaitForCompletion() bool

	// ResponseTimeout is the per-response deadline for this command.
	ResponseTimeout() time.Duration
}

// base provides the bitmap store and no-op fixed-field handling shared
// by all variants.
type base struct {
	bitmaps Bitmaps
}

func (b *base) Bitmaps() *Bitmaps                         { return &b.bitmaps }
func (b *base) AppendFixed(dst []byte) ([]byte, error) { return dst, nil }
func (b *base) ConsumeFixed(body []byte) ([]byte, error) { return body, nil }

// Raw is the anonymous fallback for command tags no variant claims.
// The payload is preserved untouched so nothing is lost in transit.
type Raw struct {
	base
	Tag  Header
	Body []byte
}

func (r *Raw) Header() Header { return r.Tag }

func (r *Raw) AppendFixed(dst []byte) ([]byte, error) {
	return append(dst, r.Body...), nil
}

func (r *Raw) ConsumeFixed(body []byte) ([]byte, error) {
	r.Body = body
	return nil, nil
}

func (r *Raw) String() string {
	return fmt.Sprintf("Raw{%s} %s", r.Tag, bcd.HexString(r.Body))
}

// Marshal serialises a packet into its full APDU byte form:
// header, length, fixed fields, bitmaps.
func Marshal(p Packet) ([]byte, error) {
	body, err := p.AppendFixed(nil)
	if err != nil {
		return nil, fmt.Errorf("packet %s: %w", p.Header(), err)
	}

	for _, bm := range *p.Bitmaps() {
		body, err = appendBitmap(body, bm)
		if err != nil {
			return nil, fmt.Errorf("packet %s: %w", p.Header(), err)
		}
	}

	h := p.Header()
	out := make([]byte, 0, len(body)+5)
	out = append(out, h.Class, h.Instr)
	out = appendBodyLength(out, len(body))
	return append(out, body...), nil
}

// Parse decodes a raw APDU into its typed variant. Unknown command tags
// yield a *Raw packet and a debug notice rather than an error.
func Parse(raw []byte) (Packet, error) {
	if len(raw) < 3 {
		return nil, fmt.Errorf("apdu of %d bytes: %w", len(raw), ErrNotEnoughData)
	}

	h := Header{Class: raw[0], Instr: raw[1]}
	p := newPacket(h)

	body, err := trimBodyLength(raw[2:])
	if err != nil {
		return nil, fmt.Errorf("packet %s: %w", h, err)
	}

	rest, err := p.ConsumeFixed(body)
	if err != nil {
		return nil, fmt.Errorf("packet %s: %w", h, err)
	}

	for len(rest) > 0 {
		var bm Bitmap
		bm, rest, err = readBitmap(rest)
		if err != nil {
			return nil, &ProtocolError{Header: h, Reason: err.Error()}
		}
		p.Bitmaps().add(bm)
	}
	return p, nil
}

// appendBodyLength writes the 1- or 3-byte length field. Bodies of up
// to 254 bytes use the single-byte form; 0xFF escapes to the 16-bit
// little-endian form.
func appendBodyLength(dst []byte, length int) []byte {
	if length < 0xFF {
		return append(dst, byte(length))
	}
	w := bcd.IntWordSplit(uint16(length))
	return append(dst, 0xFF, w[0], w[1])
}

// trimBodyLength decodes the length field and returns exactly the body
// bytes it promises.
func trimBodyLength(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrNotEnoughData
	}

	length := int(data[0])
	data = data[1:]
	if length == 0xFF {
		if len(data) < 2 {
			return nil, ErrNotEnoughData
		}
		length = int(bcd.WordFromBytes(data[0], data[1]))
		data = data[2:]
	}

	if len(data) < length {
		return nil, fmt.Errorf("length %d, body %d: %w", length, len(data), ErrNotEnoughData)
	}
	return data[:length], nil
}
