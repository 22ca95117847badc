package testutils

import (
	"io"

	"github.com/sirupsen/logrus"
)

// QuietLogger returns a logger that discards all output. Tests pass it where
// a logger is required but its output would only clutter the run.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
