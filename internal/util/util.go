package util

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Preview renders the head of a buffer as u16 chunks, one row per 32 bytes.
// For eyeballing what a read actually brought back.
func Preview(data []byte, limit int) string {
	if limit > len(data) {
		limit = len(data)
	}

	const bytesPerRow = 32
	var b strings.Builder

	fmt.Fprintf(&b, "-- %d bytes, showing %d (0x%04x) --\n", len(data), limit, limit)
	for i := 0; i < limit; i += bytesPerRow {
		fmt.Fprintf(&b, "0x%06x | ", i)

		for j := 0; j < bytesPerRow; j += 2 {
			if i+j+1 < limit {
				val := binary.BigEndian.Uint16(data[i+j : i+j+2])
				fmt.Fprintf(&b, "%04x ", val)
			} else if i+j < limit {
				// odd tail byte
				fmt.Fprintf(&b, "%02x__ ", data[i+j])
			}
			// Space every 8 bytes to keep your eyes from crossing
			if (j+2)%8 == 0 {
				b.WriteString(" ")
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}
