package spp

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ServiceID is a 128-bit UUID identifying an RFCOMM service profile.
type ServiceID [16]byte

// SerialPort is the standard Serial Port Profile service UUID. It is the
// process-wide default; callers override per connection, never by mutating
// this value.
var SerialPort = mustServiceID("00001101-0000-1000-8000-00805f9b34fb")

// bluetoothBase is the Bluetooth SIG base UUID suffix that 16- and 32-bit
// short identifiers are expanded onto.
const bluetoothBase = "-0000-1000-8000-00805f9b34fb"

// ParseServiceID parses a service UUID string. Accepted forms:
//   - full 128-bit, dashed or undashed, any case
//   - 16-bit short form ("1101" or "0x1101"), expanded onto the SIG base UUID
func ParseServiceID(s string) (ServiceID, error) {
	var id ServiceID

	cleaned := strings.ToLower(strings.TrimSpace(s))
	cleaned = strings.TrimPrefix(cleaned, "0x")

	if len(cleaned) == 4 {
		cleaned = "0000" + cleaned + bluetoothBase
	}
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	if len(cleaned) != 32 {
		return id, fmt.Errorf("invalid service UUID %q", s)
	}
	if _, err := hex.Decode(id[:], []byte(cleaned)); err != nil {
		return id, fmt.Errorf("invalid service UUID %q: %w", s, err)
	}
	return id, nil
}

// String renders the UUID in canonical lowercase dashed form.
func (id ServiceID) String() string {
	h := hex.EncodeToString(id[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// Short returns the 16-bit short form ("1101") when the UUID sits on the
// Bluetooth base, the full form otherwise. Display only.
func (id ServiceID) Short() string {
	full := id.String()
	if strings.HasSuffix(full, bluetoothBase) && strings.HasPrefix(full, "0000") {
		return full[4:8]
	}
	return full
}

// IsZero reports whether the UUID is the zero value.
func (id ServiceID) IsZero() bool {
	return id == ServiceID{}
}

func mustServiceID(s string) ServiceID {
	id, err := ParseServiceID(s)
	if err != nil {
		panic(err)
	}
	return id
}
