package spp

import (
	"fmt"

	"github.com/srg/btspp/internal/btaddr"
)

// Device identifies a remote Bluetooth peer. The address is the only field
// used for equality and connection; the name is for display. A Device is
// immutable once constructed.
type Device struct {
	Name string
	Addr uint64 // 48-bit Bluetooth address, big-endian octet order
}

// NewDevice builds a Device from a display name and a textual MAC address
// ("AA:BB:CC:DD:EE:FF").
func NewDevice(name, addr string) (Device, error) {
	a, err := btaddr.Parse(addr)
	if err != nil {
		return Device{}, fmt.Errorf("invalid device address %q: %w", addr, err)
	}
	return Device{Name: name, Addr: a}, nil
}

// AddrString returns the canonical textual form of the device address.
func (d Device) AddrString() string {
	return btaddr.Format(d.Addr)
}

// String returns "name (address)" or only the address when no name is known.
func (d Device) String() string {
	if d.Name == "" {
		return d.AddrString()
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.AddrString())
}
