// Package telemetry provides the diagnostic logging seam used throughout
// D2SLAM. It intentionally stays a thin wrapper over the standard logger:
// components log through Logf so tests can redirect or mute output without
// threading a logger interface through every constructor.
package telemetry

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests redirect it to capture or mute output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
