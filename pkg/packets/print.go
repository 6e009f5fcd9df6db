package packets

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/gregLibert/zvt-ecr/pkg/tlv"
)

// RECEIPT TEXT:
// The PT delivers receipts either line by line (06 D1) or as one TLV
// text block (06 D3). Text travels in code page 437; decoding falls
// back to a one-to-one byte mapping rather than failing an exchange
// over a receipt character.

// AttributeLastLine on a print line marks the end of the printout.
const AttributeLastLine = 0xFF

// TLV tags of the print-text block.
const (
	tagReceiptBlock = 0x06
	tagReceiptType  = 0x1F07
	tagPrintTexts   = 0x25
	tagTextLine     = 0x07
)

// PrintLine (06 D1) carries one line of receipt text.
type PrintLine struct {
	base
	Attribute byte
	Text      string
}

func (p *PrintLine) Header() Header                 { return Header{ClassStandard, 0xD1} }
func (p *PrintLine) WaitForCompletion() bool        { return false }
func (p *PrintLine) ResponseTimeout() time.Duration { return DefaultTimeout }

func (p *PrintLine) AppendFixed(dst []byte) ([]byte, error) {
	dst = append(dst, p.Attribute)
	return append(dst, encodeCP437(p.Text)...), nil
}

// ConsumeFixed takes the attribute byte and the rest of the body as
// CP437 text; print lines never carry bitmaps.
func (p *PrintLine) ConsumeFixed(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	p.Attribute = body[0]
	p.Text = decodeCP437(body[1:])
	return nil, nil
}

// LastLine reports whether this line ends the printout.
func (p *PrintLine) LastLine() bool {
	return p.Attribute == AttributeLastLine
}

func (p *PrintLine) String() string {
	return fmt.Sprintf("PrintLine{06 D1} attr=%02X %q", p.Attribute, p.Text)
}

// PrintTextBlock (06 D3) carries a whole receipt as a TLV tree:
// tag 06 wraps a receipt type (1F07) and a print-texts container (25)
// whose 07 children are the text lines, empty lines included.
type PrintTextBlock struct {
	base
	ReceiptType byte
	Lines       []string
	Objects     []tlv.Object // the decoded tree, unknown tags preserved
}

// NewPrintTextBlock builds a text block for the given ordered lines.
func NewPrintTextBlock(receiptType byte, lines []string) *PrintTextBlock {
	texts := make([]tlv.Object, 0, len(lines))
	for _, line := range lines {
		texts = append(texts, tlv.New(tagTextLine, encodeCP437(line)))
	}

	inner := tlv.Serialize([]tlv.Object{
		tlv.New(tagReceiptType, []byte{receiptType}),
		tlv.NewConstructed(tagPrintTexts, texts...),
	})

	return &PrintTextBlock{
		ReceiptType: receiptType,
		Lines:       append([]string(nil), lines...),
		Objects:     []tlv.Object{tlv.New(tagReceiptBlock, inner)},
	}
}

func (p *PrintTextBlock) Header() Header                 { return Header{ClassStandard, 0xD3} }
func (p *PrintTextBlock) WaitForCompletion() bool        { return false }
func (p *PrintTextBlock) ResponseTimeout() time.Duration { return DefaultTimeout }

func (p *PrintTextBlock) AppendFixed(dst []byte) ([]byte, error) {
	return append(dst, tlv.Serialize(p.Objects)...), nil
}

// ConsumeFixed decodes the TLV body. Tag 06 is primitive in BER terms,
// so its payload is parsed in a second pass.
func (p *PrintTextBlock) ConsumeFixed(body []byte) ([]byte, error) {
	objects, err := tlv.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("print text block: %w", err)
	}
	p.Objects = objects

	if len(objects) == 0 || objects[0].Tag != tagReceiptBlock {
		return nil, nil
	}

	inner, err := tlv.Parse(objects[0].Data)
	if err != nil {
		return nil, fmt.Errorf("print text block: %w", err)
	}

	for _, obj := range inner {
		switch obj.Tag {
		case tagReceiptType:
			if len(obj.Data) > 0 {
				p.ReceiptType = obj.Data[0]
			}
		case tagPrintTexts:
			for _, line := range obj.Children {
				if line.Tag != tagTextLine {
					continue
				}
				p.Lines = append(p.Lines, decodeCP437(line.Data))
			}
		}
	}
	return nil, nil
}

// Text joins the receipt lines, one per line, trailing newline
// included.
func (p *PrintTextBlock) Text() string {
	if len(p.Lines) == 0 {
		return ""
	}
	return strings.Join(p.Lines, "\n") + "\n"
}

func (p *PrintTextBlock) String() string {
	return fmt.Sprintf("PrintTextBlock{06 D3} type=%d lines=%d", p.ReceiptType, len(p.Lines))
}

// decodeCP437 decodes receipt bytes, falling back to a one-to-one
// byte-as-code-point mapping if the decoder objects.
func decodeCP437(data []byte) string {
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(data)
	if err == nil {
		return string(decoded)
	}

	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// encodeCP437 encodes text for the PT printer; characters outside the
// code page degrade to their low byte.
func encodeCP437(text string) []byte {
	encoded, err := charmap.CodePage437.NewEncoder().Bytes([]byte(text))
	if err == nil {
		return encoded
	}

	out := make([]byte, 0, len(text))
	for _, r := range text {
		out = append(out, byte(r))
	}
	return out
}
