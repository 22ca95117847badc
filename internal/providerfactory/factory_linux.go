//go:build linux

package providerfactory

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/btspp/internal/bluez"
	"github.com/srg/btspp/spp"
)

func newPlatformProvider(logger *logrus.Logger) (spp.Provider, error) {
	return bluez.New(logger)
}
