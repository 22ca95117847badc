package main

import (
	"errors"
	"fmt"

	"github.com/srg/btspp/spp"
)

// FormatUserError turns a session error into a message aimed at the terminal
// user rather than a developer. Unrecognized errors pass through unchanged.
func FormatUserError(err error) string {
	var sessErr *spp.Error
	if errors.As(err, &sessErr) {
		switch sessErr.Kind {
		case spp.KindPermissionDenied:
			return "Bluetooth access denied - check adapter permissions"
		case spp.KindDeviceNotFound:
			return "device not found - is it powered on and in range?"
		case spp.KindDeviceNotPairing:
			return "device refused to pair"
		case spp.KindServiceNotFound:
			return "no serial-port service on this device"
		case spp.KindNotConnected:
			return "could not open a connection to the device"
		case spp.KindTimedOut:
			return fmt.Sprintf("connection timed out after %s", sessErr.Timeout)
		}
	}
	return err.Error()
}
