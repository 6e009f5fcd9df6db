package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// Describe renders TLV-encoded bytes as an indented human-readable
// report, one line per object with a hex dump and a printable-ASCII
// preview. It is used by the protocol loggers; undecodable input is
// reported as a raw hex line instead of failing.
func Describe(data []byte) string {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Sprintf("    - (not TLV) %s", strings.ToUpper(hex.EncodeToString(data)))
	}

	var sb strings.Builder
	writePackets(&sb, packets, 1)
	return strings.TrimRight(sb.String(), "\n")
}

func writePackets(sb *strings.Builder, packets []bertlv.TLV, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, p := range packets {
		if len(p.TLVs) > 0 {
			fmt.Fprintf(sb, "%s- Tag %s:\n", indent, strings.ToUpper(p.Tag))
			writePackets(sb, p.TLVs, depth+1)
			continue
		}

		valStr := strings.ToUpper(hex.EncodeToString(p.Value))
		fmt.Fprintf(sb, "%s- Tag %s: %s (%q)\n",
			indent, strings.ToUpper(p.Tag), valStr, MakeSafeASCII(p.Value))
	}
}

// MakeSafeASCII replaces non-printable bytes with dots.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
