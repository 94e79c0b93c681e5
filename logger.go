package netmock

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// logger is the package-level logger used by the coordination core,
// facade, and driver. Tests that want quiet output or structured capture
// can swap it with SetLogger.
var (
	loggerMu sync.RWMutex
	logger   = logrus.WithField("component", "netmock")
)

// SetLogger replaces the package-level logger, primarily for tests that
// want to assert on emitted fields or silence output.
func SetLogger(entry *logrus.Entry) {
	if entry == nil {
		return
	}
	loggerMu.Lock()
	logger = entry
	loggerMu.Unlock()
}

// GetLogger returns the current package-level logger.
func GetLogger() *logrus.Entry {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}
