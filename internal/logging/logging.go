// Package logging builds the zap logger shared by all components.
package logging

import (
	"go.uber.org/zap"
)

// New returns a production logger, or a human-readable development logger
// when debug is set. The caller owns the returned logger and should Sync
// it on shutdown.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	// Stack traces on every error drown the useful line; errors here are
	// already wrapped with context strings.
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// NewNop returns a no-op logger for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
