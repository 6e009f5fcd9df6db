package packets

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
)

func TestPrintLine_Parse(t *testing.T) {
	body := append([]byte{0x00}, []byte("SUMME:        4,50 EUR")...)
	raw := append([]byte{0x06, 0xD1, byte(len(body))}, body...)

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	line := p.(*PrintLine)
	if line.Text != "SUMME:        4,50 EUR" {
		t.Errorf("text = %q", line.Text)
	}
	if line.LastLine() {
		t.Error("attribute 00 is not the last line")
	}
}

func TestPrintLine_LastLine(t *testing.T) {
	p, err := Parse(bcd.Hex("06 D1 01 FF"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.(*PrintLine).LastLine() {
		t.Error("attribute FF marks the end of the printout")
	}
}

func TestPrintLine_CP437(t *testing.T) {
	// 0x81 is ü in code page 437.
	body := append([]byte{0x00}, 0x81)
	raw := append([]byte{0x06, 0xD1, 0x02}, body...)

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := p.(*PrintLine).Text; got != "ü" {
		t.Errorf("text = %q, want ü", got)
	}

	// And back out again.
	line := &PrintLine{Text: "ü"}
	out, err := line.AppendFixed(nil)
	if err != nil {
		t.Fatalf("AppendFixed: %v", err)
	}
	if !bytes.Equal(out, []byte{0x00, 0x81}) {
		t.Errorf("encoded = %X, want 00 81", out)
	}
}

func TestPrintTextBlock_Parse(t *testing.T) {
	texts := append(append(bcd.Hex("07 08"), []byte("Line one")...), bcd.Hex("07 00")...)
	texts = append(texts, append(bcd.Hex("07 06"), []byte("Line 3")...)...)

	inner := bcd.Hex("1F 07 01 00")
	inner = append(inner, 0x25, byte(len(texts)))
	inner = append(inner, texts...)
	body := append([]byte{0x06, byte(len(inner))}, inner...)
	raw := append([]byte{0x06, 0xD3, byte(len(body))}, body...)

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	block := p.(*PrintTextBlock)

	if diff := cmp.Diff([]string{"Line one", "", "Line 3"}, block.Lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if block.Text() != "Line one\n\nLine 3\n" {
		t.Errorf("text = %q", block.Text())
	}
	if block.ReceiptType != 0 {
		t.Errorf("receipt type = %d, want 0", block.ReceiptType)
	}
}

func TestPrintTextBlock_RoundTrip(t *testing.T) {
	block := NewPrintTextBlock(1, []string{"Gesamtsumme:", "", "4,50 EUR"})
	raw, err := Marshal(block)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	back := p.(*PrintTextBlock)
	if diff := cmp.Diff(block.Lines, back.Lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if back.ReceiptType != 1 {
		t.Errorf("receipt type = %d, want 1", back.ReceiptType)
	}
}

func TestPrintTextBlock_UnknownTagsPreserved(t *testing.T) {
	// A block whose top tag is not the receipt container must survive
	// parse and re-marshal untouched.
	body := bcd.Hex("0A 02 CA FE")
	raw := append([]byte{0x06, 0xD3, byte(len(body))}, body...)

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	again, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Errorf("re-marshal = %X, want %X", again, raw)
	}
}

func TestDisplayText(t *testing.T) {
	d, err := NewDisplayText([]string{"Hello world!", "", "Bye"}, 5, 2)
	if err != nil {
		t.Fatalf("NewDisplayText: %v", err)
	}

	if diff := cmp.Diff([]string{"Hello world!", "", "Bye"}, d.Lines()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}

	duration, ok := d.Bitmaps().Number(BmpDuration)
	if !ok || duration != 5 {
		t.Errorf("duration = %d, %v", duration, ok)
	}

	if _, err := NewDisplayText([]string{"grüße"}, 0, 0); err == nil {
		t.Error("expected error for non-ASCII line")
	}
	if _, err := NewDisplayText(make([]string, 9), 0, 0); err == nil {
		t.Error("expected error for more than 8 lines")
	}
}

func TestDisplayText_Truncation(t *testing.T) {
	long := "0123456789012345678901234567890"
	d, err := NewDisplayText([]string{long}, 0, 0)
	if err != nil {
		t.Fatalf("NewDisplayText: %v", err)
	}
	if got := d.Lines()[0]; len(got) != MaxLineWidth {
		t.Errorf("line length = %d, want %d", len(got), MaxLineWidth)
	}
}
