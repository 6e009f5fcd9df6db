package tlv

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/moov-io/bertlv"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
)

func TestBER(t *testing.T) {
	obj := NewConstructed(0x25,
		New(0x07, []byte("hi")),
		New(0x1F07, []byte{0x00}),
	)

	got := obj.BER()
	want := bertlv.TLV{
		Tag: "25",
		TLVs: []bertlv.TLV{
			{Tag: "07", Value: []byte("hi")},
			{Tag: "1F07", Value: []byte{0x00}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BER mismatch (-want +got):\n%s", diff)
	}
}

func TestFromBER(t *testing.T) {
	in := bertlv.TLV{
		Tag: "25",
		TLVs: []bertlv.TLV{
			{Tag: "07", Value: []byte("hi")},
		},
	}

	obj, err := FromBER(in)
	if err != nil {
		t.Fatalf("FromBER: %v", err)
	}
	if obj.Tag != 0x25 || len(obj.Children) != 1 || obj.Children[0].Tag != 0x07 {
		t.Errorf("FromBER = %+v", obj)
	}
	// Raw data of the constructed node is rebuilt from the children.
	if !bytes.Equal(obj.Data, bcd.Hex("07 02 68 69")) {
		t.Errorf("rebuilt data = %X", obj.Data)
	}

	if _, err := FromBER(bertlv.TLV{Tag: "zz"}); err == nil {
		t.Error("expected error for invalid tag string")
	}
}

func TestFromBER_RoundTrip(t *testing.T) {
	data := bcd.Hex("07 03 41 42 43 0A 01 10")
	objects, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	for _, obj := range objects {
		back, err := FromBER(obj.BER())
		if err != nil {
			t.Fatalf("FromBER: %v", err)
		}
		if diff := cmp.Diff(obj, back); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDescribe(t *testing.T) {
	data := bcd.Hex("07 03 41 42 43")
	report := Describe(data)
	if !strings.Contains(report, "Tag 07") || !strings.Contains(report, `"ABC"`) {
		t.Errorf("report missing fields:\n%s", report)
	}
}

func TestDescribe_NotTLV(t *testing.T) {
	report := Describe([]byte{0xFF})
	if !strings.Contains(report, "(not TLV)") {
		t.Errorf("report = %q", report)
	}
}

func TestMakeSafeASCII(t *testing.T) {
	input := []byte{0x41, 0x42, 0x00, 0x1F, 0x7F, 0x43} // AB, null, US, DEL, C
	want := "AB...C"

	if got := MakeSafeASCII(input); got != want {
		t.Errorf("MakeSafeASCII() = %q, want %q", got, want)
	}
}
