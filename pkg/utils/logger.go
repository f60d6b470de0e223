package utils

import "go.uber.org/zap"

// NewLogger builds the process-wide zap logger. Debug mode selects the
// development config (console encoding, debug level); otherwise the
// production config (JSON, info level) is used.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
