package packets

import (
	"fmt"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
	"github.com/gregLibert/zvt-ecr/pkg/tlv"
)

// BITMAP FIELDS:
// Optional APDU fields are encoded as bitmap entries: a one-byte id
// followed by the field value in the codec the id implies. No explicit
// length precedes fixed-width fields; the codec determines how many
// bytes to consume. The process-wide registry below maps each id to its
// codec and a symbolic name. It is populated once at startup and is
// read-only afterwards.

// Codec formats one bitmap value on the wire.
type Codec interface {
	Append(dst []byte, v any) ([]byte, error)
	Consume(src []byte) (v any, rest []byte, err error)
}

// Definition describes one well-known bitmap field.
type Definition struct {
	ID    byte
	Name  string
	Codec Codec
	Info  string
}

// Bitmap is one optional field instance. The dynamic type of Value
// depends on the codec: uint64 for BCD numbers, byte for flag bytes,
// []byte for fixed-width and LL/LLL fields, []tlv.Object for the TLV
// container.
type Bitmap struct {
	ID    byte
	Value any
}

// Name returns the registered symbolic name, or the hex id for fields
// outside the registry.
func (b Bitmap) Name() string {
	if def, ok := bitmapsByID[b.ID]; ok {
		return def.Name
	}
	return fmt.Sprintf("bitmap-%02X", b.ID)
}

func (b Bitmap) String() string {
	if objs, ok := b.Value.([]tlv.Object); ok {
		return fmt.Sprintf("%s:\n%s", b.Name(), tlv.Describe(tlv.Serialize(objs)))
	}
	return fmt.Sprintf("%s=%v", b.Name(), b.Value)
}

// Bitmaps is the ordered collection of a packet's optional fields.
type Bitmaps []Bitmap

func (bs *Bitmaps) add(b Bitmap) { *bs = append(*bs, b) }

// Get returns the first entry with the given id.
func (bs Bitmaps) Get(id byte) (Bitmap, bool) {
	for _, b := range bs {
		if b.ID == id {
			return b, true
		}
	}
	return Bitmap{}, false
}

// Number returns the entry's value as an unsigned number. It covers the
// BCD and flag-byte codecs.
func (bs Bitmaps) Number(id byte) (uint64, bool) {
	b, ok := bs.Get(id)
	if !ok {
		return 0, false
	}
	switch v := b.Value.(type) {
	case uint64:
		return v, true
	case byte:
		return uint64(v), true
	default:
		return 0, false
	}
}

// Bytes returns the entry's value as raw bytes (fixed-width, LLVAR and
// LLLVAR codecs).
func (bs Bitmaps) Bytes(id byte) ([]byte, bool) {
	b, ok := bs.Get(id)
	if !ok {
		return nil, false
	}
	raw, ok := b.Value.([]byte)
	return raw, ok
}

// TLV returns the entry's value as a TLV tree (container codec).
func (bs Bitmaps) TLV(id byte) ([]tlv.Object, bool) {
	b, ok := bs.Get(id)
	if !ok {
		return nil, false
	}
	objs, ok := b.Value.([]tlv.Object)
	return objs, ok
}

// Well-known bitmap ids referenced throughout the protocol.
const (
	BmpTimeout        = 0x01
	BmpMaxStatusInfos = 0x02
	BmpServiceByte    = 0x03
	BmpAmount         = 0x04
	BmpPumpNr         = 0x05
	BmpTLV            = 0x06
	BmpTraceNumber    = 0x0B
	BmpTime           = 0x0C
	BmpDateDay        = 0x0D
	BmpCardExpire     = 0x0E
	BmpPaymentType    = 0x19
	BmpCardNumber     = 0x22
	BmpTrack2         = 0x23
	BmpTrack3         = 0x24
	BmpResultCode     = 0x27
	BmpTID            = 0x29
	BmpVuNumber       = 0x2A
	BmpTrack1         = 0x2D
	BmpCVV            = 0x3A
	BmpAID            = 0x3B
	BmpAdditional     = 0x3C
	BmpPassword       = 0x3D
	BmpCurrencyCode   = 0x49
	BmpTotals         = 0x60
	BmpReceiptNumber  = 0x87
	BmpTurnoverNumber = 0x88
	BmpCardType       = 0x8A
	BmpCardName       = 0x8B
	BmpCardOperator   = 0x8C
	BmpDate           = 0xAA
	BmpDuration       = 0xF0
	BmpLine1          = 0xF1
	BmpLine8          = 0xF8
	BmpBeeps          = 0xF9
)

var (
	bitmapsByID   = map[byte]Definition{}
	bitmapsByName = map[string]Definition{}
)

func registerBitmap(id byte, name string, codec Codec, info string) {
	def := Definition{ID: id, Name: name, Codec: codec, Info: info}
	bitmapsByID[id] = def
	bitmapsByName[name] = def
}

func init() {
	registerBitmap(BmpTimeout, "timeout", BCDCodec{Digits: 2}, "timeout in seconds")
	registerBitmap(BmpMaxStatusInfos, "max_status_infos", BCDCodec{Digits: 2}, "maximum number of status infos")
	registerBitmap(BmpServiceByte, "service_byte", ByteCodec{}, "service byte")
	registerBitmap(BmpAmount, "amount", BCDCodec{Digits: 12}, "amount in minor currency units")
	registerBitmap(BmpPumpNr, "pump_nr", ByteCodec{}, "pump number")
	registerBitmap(BmpTLV, "tlv", TLVCodec{}, "TLV container")
	registerBitmap(BmpTraceNumber, "trace_number", BCDCodec{Digits: 6}, "trace number")
	registerBitmap(BmpTime, "time", BCDCodec{Digits: 6}, "time HHMMSS")
	registerBitmap(BmpDateDay, "date_day", BCDCodec{Digits: 4}, "date MMDD")
	registerBitmap(BmpCardExpire, "card_expire", BCDCodec{Digits: 4}, "card expiry YYMM")
	registerBitmap(BmpPaymentType, "payment_type", ByteCodec{}, "payment type")
	registerBitmap(BmpCardNumber, "card_number", LLVarCodec{}, "card number / PAN")
	registerBitmap(BmpTrack2, "track_2", LLVarCodec{}, "track 2 data")
	registerBitmap(BmpTrack3, "track_3", LLLVarCodec{}, "track 3 data")
	registerBitmap(BmpResultCode, "result_code", ByteCodec{}, "result code")
	registerBitmap(BmpTID, "tid", BCDCodec{Digits: 8}, "terminal identifier")
	registerBitmap(BmpVuNumber, "vu_number", FixedCodec{N: 15}, "contract number")
	registerBitmap(BmpTrack1, "track_1", LLVarCodec{}, "track 1 data")
	registerBitmap(BmpCVV, "cvv", BCDCodec{Digits: 4}, "card verification value")
	registerBitmap(BmpAID, "aid", FixedCodec{N: 8}, "authorisation attribute")
	registerBitmap(BmpAdditional, "additional", LLLVarCodec{}, "additional text")
	registerBitmap(BmpPassword, "password", BCDCodec{Digits: 6}, "password")
	registerBitmap(BmpCurrencyCode, "currency_code", BCDCodec{Digits: 4}, "ISO 4217 numeric currency")
	registerBitmap(BmpTotals, "totals", LLLVarCodec{}, "end-of-day totals block")
	registerBitmap(BmpReceiptNumber, "receipt_number", BCDCodec{Digits: 4}, "receipt number")
	registerBitmap(BmpTurnoverNumber, "turnover_number", BCDCodec{Digits: 6}, "turnover record number")
	registerBitmap(BmpCardType, "card_type", ByteCodec{}, "card type")
	registerBitmap(BmpCardName, "card_name", LLVarCodec{}, "card name")
	registerBitmap(BmpCardOperator, "card_operator", ByteCodec{}, "card operator")
	registerBitmap(BmpDate, "date", BCDCodec{Digits: 6}, "date YYMMDD")
	registerBitmap(BmpDuration, "display_duration", ByteCodec{}, "display duration in seconds")
	for i := byte(0); i < 8; i++ {
		registerBitmap(BmpLine1+i, fmt.Sprintf("line%d", i+1), LLVarCodec{}, "display text line")
	}
	registerBitmap(BmpBeeps, "beeps", ByteCodec{}, "number of beep tones")
}

// NewBitmap builds an entry by symbolic name, validating the value
// against the registered codec.
func NewBitmap(name string, v any) (Bitmap, error) {
	def, ok := bitmapsByName[name]
	if !ok {
		return Bitmap{}, fmt.Errorf("unknown bitmap %q", name)
	}
	if _, err := def.Codec.Append(nil, v); err != nil {
		return Bitmap{}, fmt.Errorf("bitmap %q: %w", name, err)
	}
	return Bitmap{ID: def.ID, Value: v}, nil
}

// appendBitmap writes id and codec-formatted value.
func appendBitmap(dst []byte, b Bitmap) ([]byte, error) {
	def, ok := bitmapsByID[b.ID]
	if !ok {
		return nil, fmt.Errorf("unknown bitmap id 0x%02X", b.ID)
	}
	dst = append(dst, b.ID)
	return def.Codec.Append(dst, b.Value)
}

// readBitmap peeks the id, selects the codec from the registry and
// consumes exactly the bytes the codec requires. Unknown ids abort
// parsing of the current APDU.
func readBitmap(src []byte) (Bitmap, []byte, error) {
	id := src[0]
	def, ok := bitmapsByID[id]
	if !ok {
		return Bitmap{}, nil, fmt.Errorf("unknown bitmap id 0x%02X", id)
	}

	v, rest, err := def.Codec.Consume(src[1:])
	if err != nil {
		return Bitmap{}, nil, fmt.Errorf("bitmap %s: %w", def.Name, err)
	}
	return Bitmap{ID: id, Value: v}, rest, nil
}

// FixedCodec transfers exactly N raw bytes.
type FixedCodec struct{ N int }

func (c FixedCodec) Append(dst []byte, v any) ([]byte, error) {
	raw, ok := v.([]byte)
	if !ok || len(raw) != c.N {
		return nil, fmt.Errorf("need %d raw bytes, got %T", c.N, v)
	}
	return append(dst, raw...), nil
}

func (c FixedCodec) Consume(src []byte) (any, []byte, error) {
	if len(src) < c.N {
		return nil, nil, fmt.Errorf("need %d bytes, have %d", c.N, len(src))
	}
	return append([]byte(nil), src[:c.N]...), src[c.N:], nil
}

// ByteCodec transfers a single flag byte.
type ByteCodec struct{}

func (ByteCodec) Append(dst []byte, v any) ([]byte, error) {
	b, ok := v.(byte)
	if !ok {
		return nil, fmt.Errorf("need a byte, got %T", v)
	}
	return append(dst, b), nil
}

func (ByteCodec) Consume(src []byte) (any, []byte, error) {
	if len(src) < 1 {
		return nil, nil, fmt.Errorf("need 1 byte")
	}
	return src[0], src[1:], nil
}

// BCDCodec transfers a packed decimal number of the given digit count.
type BCDCodec struct{ Digits int }

func (c BCDCodec) Append(dst []byte, v any) ([]byte, error) {
	n, ok := v.(uint64)
	if !ok {
		return nil, fmt.Errorf("need a uint64, got %T", v)
	}
	raw, err := bcd.Encode(n, c.Digits)
	if err != nil {
		return nil, err
	}
	return append(dst, raw...), nil
}

func (c BCDCodec) Consume(src []byte) (any, []byte, error) {
	n := c.Digits / 2
	if len(src) < n {
		return nil, nil, fmt.Errorf("need %d BCD bytes, have %d", n, len(src))
	}
	v, err := bcd.Decode(src[:n])
	if err != nil {
		return nil, nil, err
	}
	return v, src[n:], nil
}

// LLVarCodec transfers a field with a two-digit length prefix.
type LLVarCodec struct{}

func (LLVarCodec) Append(dst []byte, v any) ([]byte, error) {
	raw, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("need raw bytes, got %T", v)
	}
	return bcd.AppendLLVar(dst, raw)
}

func (LLVarCodec) Consume(src []byte) (any, []byte, error) {
	payload, rest, err := bcd.ConsumeLLVar(src)
	if err != nil {
		return nil, nil, err
	}
	return append([]byte(nil), payload...), rest, nil
}

// LLLVarCodec transfers a field with a three-digit length prefix.
type LLLVarCodec struct{}

func (LLLVarCodec) Append(dst []byte, v any) ([]byte, error) {
	raw, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("need raw bytes, got %T", v)
	}
	return bcd.AppendLLLVar(dst, raw)
}

func (LLLVarCodec) Consume(src []byte) (any, []byte, error) {
	payload, rest, err := bcd.ConsumeLLLVar(src)
	if err != nil {
		return nil, nil, err
	}
	return append([]byte(nil), payload...), rest, nil
}

// TLVCodec transfers a BER length-prefixed TLV container.
type TLVCodec struct{}

func (TLVCodec) Append(dst []byte, v any) ([]byte, error) {
	objs, ok := v.([]tlv.Object)
	if !ok {
		return nil, fmt.Errorf("need []tlv.Object, got %T", v)
	}
	inner := tlv.Serialize(objs)
	// The container itself is length-prefixed like a constructed TLV
	// object without a tag: BER length, then the serialised objects.
	dst = appendBERLength(dst, len(inner))
	return append(dst, inner...), nil
}

func (TLVCodec) Consume(src []byte) (any, []byte, error) {
	length, rest, err := consumeBERLength(src)
	if err != nil {
		return nil, nil, err
	}
	if length > len(rest) {
		return nil, nil, fmt.Errorf("TLV container of %d bytes, have %d", length, len(rest))
	}
	objs, err := tlv.Parse(rest[:length])
	if err != nil {
		return nil, nil, err
	}
	return objs, rest[length:], nil
}

func appendBERLength(dst []byte, length int) []byte {
	switch {
	case length < 0x80:
		return append(dst, byte(length))
	case length <= 0xFF:
		return append(dst, 0x81, byte(length))
	default:
		return append(dst, 0x82, byte(length>>8), byte(length))
	}
}

func consumeBERLength(src []byte) (int, []byte, error) {
	if len(src) == 0 {
		return 0, nil, fmt.Errorf("truncated TLV container length")
	}
	b0 := src[0]
	src = src[1:]
	switch {
	case b0 < 0x80:
		return int(b0), src, nil
	case b0 == 0x81 && len(src) >= 1:
		return int(src[0]), src[1:], nil
	case b0 == 0x82 && len(src) >= 2:
		return int(src[0])<<8 | int(src[1]), src[2:], nil
	default:
		return 0, nil, fmt.Errorf("unsupported TLV container length form 0x%02X", b0)
	}
}
