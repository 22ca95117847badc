package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srg/btspp/spp"
)

func TestFormatUserError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"permission", spp.ErrPermissionDenied, "Bluetooth access denied - check adapter permissions"},
		{"not found", spp.ErrDeviceNotFound, "device not found - is it powered on and in range?"},
		{"not pairing", spp.ErrDeviceNotPairing, "device refused to pair"},
		{"no service", spp.ErrServiceNotFound, "no serial-port service on this device"},
		{"not connected", spp.ErrNotConnected, "could not open a connection to the device"},
		{"plain error", errors.New("boom"), "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatUserError(tc.err))
		})
	}
}

func TestFormatUserErrorTimeout(t *testing.T) {
	err := &spp.Error{Kind: spp.KindTimedOut, Timeout: 3 * time.Second}
	assert.Equal(t, "connection timed out after 3s", FormatUserError(err))
}

func TestFormatUserErrorUnwrapsWrapped(t *testing.T) {
	wrapped := fmt.Errorf("connect to device: %w", spp.ErrServiceNotFound)
	assert.Equal(t, "no serial-port service on this device", FormatUserError(wrapped))
}
