// Package btaddr converts Bluetooth device addresses between their textual
// MAC form ("00:02:B0:57:7D:D6") and the 48-bit integer identity used on the
// wire. The canonical textual form is six colon-separated two-digit uppercase
// hexadecimal octets, most significant first.
package btaddr

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse converts a textual MAC address to its 48-bit integer form.
// Colon separators are required between octets; hex digits may be any case.
func Parse(addr string) (uint64, error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 6 {
		return 0, fmt.Errorf("malformed address %q: want 6 colon-separated octets, got %d", addr, len(parts))
	}
	var out uint64
	for _, part := range parts {
		if len(part) != 2 {
			return 0, fmt.Errorf("malformed address %q: octet %q is not two hex digits", addr, part)
		}
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("malformed address %q: %w", addr, err)
		}
		out = out<<8 | b
	}
	return out, nil
}

// Format renders a 48-bit address in canonical form: uppercase hex octets
// joined by colons, most significant octet first.
func Format(addr uint64) string {
	parts := make([]string, 6)
	for i := 5; i >= 0; i-- {
		parts[i] = fmt.Sprintf("%02X", byte(addr))
		addr >>= 8
	}
	return strings.Join(parts, ":")
}

// Bytes returns the address as six bytes, least significant first, the layout
// expected by AF_BLUETOOTH socket addresses.
func Bytes(addr uint64) [6]byte {
	var b [6]byte
	for i := 0; i < 6; i++ {
		b[i] = byte(addr >> (8 * i))
	}
	return b
}
