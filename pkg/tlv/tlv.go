// Package tlv parses and serialises the BER-style tag-length-value trees
// embedded in ZVT APDUs (receipt blocks, status extensions, the TLV
// container bitmap).
package tlv

import (
	"fmt"

	"github.com/gregLibert/zvt-ecr/pkg/bits"
)

// TAG ENCODING (ISO 7816 BER, as used by ZVT):
// The first tag byte carries the class (bits 8-7), the constructed flag
// (bit 6) and the tag number (bits 5-1). If the number bits are all set,
// the tag continues into subsequent bytes for as long as bit 8 of the
// just-read byte is set. ZVT tags never exceed a handful of bytes; the
// parser caps multi-byte tags at 8 bytes.
//
// LENGTH ENCODING:
// One byte below 0x80 is the length itself. 0x81 and 0x82 announce one
// and two (big-endian) following length bytes. Longer and indefinite
// forms do not occur in ZVT and are rejected.

const maxTagBytes = 8

// Class of a TLV tag, from bits 8-7 of its first byte.
type Class byte

const (
	Universal       Class = 0
	Application     Class = 1
	ContextSpecific Class = 2
	Private         Class = 3
)

// Object is one node of a TLV tree. Data always holds the raw value
// bytes; Children is populated in addition when the tag is constructed.
// Unknown tags are preserved verbatim, never dropped.
type Object struct {
	Tag      uint32
	Data     []byte
	Children []Object
}

// firstTagByte returns the most significant encoded byte of the tag.
func (o Object) firstTagByte() byte {
	t := o.Tag
	for t > 0xFF {
		t >>= 8
	}
	return byte(t)
}

// Constructed reports whether the object carries nested TLV objects.
func (o Object) Constructed() bool {
	return bits.IsSet(o.firstTagByte(), 6)
}

// Class returns the tag class encoded in bits 8-7 of the first tag byte.
func (o Object) Class() Class {
	return Class(bits.GetRange(o.firstTagByte(), 8, 7))
}

// Find returns the first direct child with the given tag.
func (o Object) Find(tag uint32) (Object, bool) {
	for _, c := range o.Children {
		if c.Tag == tag {
			return c, true
		}
	}
	return Object{}, false
}

func (o Object) String() string {
	return fmt.Sprintf("TLV{%X, %d bytes, %d children}", o.Tag, len(o.Data), len(o.Children))
}

// Parse decodes data into an ordered sequence of TLV objects covering
// the whole slice. Constructed objects are recursed into.
func Parse(data []byte) ([]Object, error) {
	var objects []Object

	for len(data) > 0 {
		obj, rest, err := parseOne(data)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
		data = rest
	}
	return objects, nil
}

func parseOne(data []byte) (Object, []byte, error) {
	tag, rest, err := parseTag(data)
	if err != nil {
		return Object{}, nil, err
	}

	length, rest, err := parseLength(rest)
	if err != nil {
		return Object{}, nil, fmt.Errorf("tag %X: %w", tag, err)
	}
	if length > len(rest) {
		return Object{}, nil, fmt.Errorf("tag %X: length %d exceeds remaining %d bytes", tag, length, len(rest))
	}

	obj := Object{Tag: tag, Data: rest[:length]}
	if obj.Constructed() {
		children, err := Parse(obj.Data)
		if err != nil {
			return Object{}, nil, fmt.Errorf("tag %X: %w", tag, err)
		}
		obj.Children = children
	}
	return obj, rest[length:], nil
}

func parseTag(data []byte) (uint32, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("tlv: truncated tag")
	}

	b := data[0]
	tag := uint32(b)
	data = data[1:]
	if b&0x1F != 0x1F {
		return tag, data, nil
	}

	// Multi-byte tag: continue while bit 8 of the just-read byte is set.
	for i := 1; ; i++ {
		if len(data) == 0 {
			return 0, nil, fmt.Errorf("tlv: truncated multi-byte tag %X", tag)
		}
		if i >= maxTagBytes {
			return 0, nil, fmt.Errorf("tlv: tag longer than %d bytes", maxTagBytes)
		}
		b = data[0]
		data = data[1:]
		tag = tag<<8 | uint32(b)
		if !bits.IsSet(b, 8) {
			return tag, data, nil
		}
	}
}

func parseLength(data []byte) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("truncated length")
	}

	b0 := data[0]
	data = data[1:]
	switch {
	case b0 < 0x80:
		return int(b0), data, nil
	case b0 == 0x81:
		if len(data) < 1 {
			return 0, nil, fmt.Errorf("truncated 0x81 length")
		}
		return int(data[0]), data[1:], nil
	case b0 == 0x82:
		if len(data) < 2 {
			return 0, nil, fmt.Errorf("truncated 0x82 length")
		}
		return int(data[0])<<8 | int(data[1]), data[2:], nil
	default:
		return 0, nil, fmt.Errorf("unsupported length form 0x%02X", b0)
	}
}

// Serialize re-encodes a TLV tree using minimal length forms. For a
// constructed object the children take precedence over the raw data, so
// edits below the node propagate upward.
func Serialize(objects []Object) []byte {
	var out []byte
	for _, o := range objects {
		out = appendObject(out, o)
	}
	return out
}

func appendObject(dst []byte, o Object) []byte {
	dst = appendTag(dst, o.Tag)

	value := o.Data
	if o.Constructed() && o.Children != nil {
		value = Serialize(o.Children)
	}

	dst = appendLength(dst, len(value))
	return append(dst, value...)
}

func appendTag(dst []byte, tag uint32) []byte {
	switch {
	case tag > 0xFFFFFF:
		return append(dst, byte(tag>>24), byte(tag>>16), byte(tag>>8), byte(tag))
	case tag > 0xFFFF:
		return append(dst, byte(tag>>16), byte(tag>>8), byte(tag))
	case tag > 0xFF:
		return append(dst, byte(tag>>8), byte(tag))
	default:
		return append(dst, byte(tag))
	}
}

func appendLength(dst []byte, length int) []byte {
	switch {
	case length < 0x80:
		return append(dst, byte(length))
	case length <= 0xFF:
		return append(dst, 0x81, byte(length))
	default:
		return append(dst, 0x82, byte(length>>8), byte(length))
	}
}

// New builds a primitive object.
func New(tag uint32, data []byte) Object {
	return Object{Tag: tag, Data: data}
}

// NewConstructed builds a constructed object from its children.
func NewConstructed(tag uint32, children ...Object) Object {
	return Object{Tag: tag, Children: children}
}
