//go:build !linux

package providerfactory

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/srg/btspp/spp"
)

func newPlatformProvider(_ *logrus.Logger) (spp.Provider, error) {
	return nil, fmt.Errorf("no native Bluetooth provider for %s", runtime.GOOS)
}
