package tlv

import (
	"encoding/hex"
	"fmt"

	"github.com/moov-io/bertlv"
)

// Interop with github.com/moov-io/bertlv, which models tags as hex
// strings. The conversions let callers hand ZVT TLV trees to tooling
// built around bertlv and re-import its output without losing unknown
// tags.

// BER converts the object into its bertlv representation.
func (o Object) BER() bertlv.TLV {
	t := bertlv.TLV{
		Tag:   fmt.Sprintf("%X", o.Tag),
		Value: o.Data,
	}
	if len(t.Tag)%2 != 0 {
		t.Tag = "0" + t.Tag
	}
	for _, c := range o.Children {
		t.TLVs = append(t.TLVs, c.BER())
	}
	return t
}

// FromBER converts a bertlv object back into the ZVT tree form.
func FromBER(t bertlv.TLV) (Object, error) {
	raw, err := hex.DecodeString(t.Tag)
	if err != nil || len(raw) == 0 || len(raw) > 4 {
		return Object{}, fmt.Errorf("tlv: invalid BER tag %q", t.Tag)
	}

	var tag uint32
	for _, b := range raw {
		tag = tag<<8 | uint32(b)
	}

	obj := Object{Tag: tag, Data: t.Value}
	for _, c := range t.TLVs {
		child, err := FromBER(c)
		if err != nil {
			return Object{}, err
		}
		obj.Children = append(obj.Children, child)
	}
	if obj.Constructed() && obj.Children != nil && len(obj.Data) == 0 {
		obj.Data = Serialize(obj.Children)
	}
	return obj, nil
}
