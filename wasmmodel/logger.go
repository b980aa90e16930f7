// Package wasmmodel runs Verilator artifacts compiled to WASI modules
// under wazero.
//
// Each Library owns its own wazero runtime, so two Libraries opened from
// the same file never share model globals.
package wasmmodel

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the wasmmodel package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the wasmmodel package's logger.
func SetLogger(l *zap.Logger) {
	logger = l
}
