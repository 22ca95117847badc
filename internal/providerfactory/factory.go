// Package providerfactory selects the platform's native capability provider.
// The session core and the CLI depend only on this seam, so additional
// platforms slot in as alternative implementations without touching either.
package providerfactory

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/btspp/spp"
)

// New creates the native capability provider for the current platform.
// This is a variable so that tests can substitute the in-memory double.
var New = func(logger *logrus.Logger) (spp.Provider, error) {
	return newPlatformProvider(logger)
}
