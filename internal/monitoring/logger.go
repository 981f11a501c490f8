package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debug atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output.
func SetDebug(on bool) { debug.Store(on) }

// DebugEnabled reports whether Debugf writes anything.
func DebugEnabled() bool { return debug.Load() }

// Debugf logs through Logf only when debug output is enabled.
func Debugf(format string, v ...interface{}) {
	if debug.Load() {
		Logf(format, v...)
	}
}

// Logger is a prefixed view of the package logger, used to tag every line
// of a per-subject pipeline.
type Logger struct {
	prefix string
}

// Prefixed returns a Logger that writes "[prefix] " before each message.
func Prefixed(prefix string) Logger {
	return Logger{prefix: "[" + prefix + "] "}
}

// Logf writes through the package logger with the prefix applied.
func (l Logger) Logf(format string, v ...interface{}) {
	Logf(l.prefix+format, v...)
}

// Debugf writes through Debugf with the prefix applied.
func (l Logger) Debugf(format string, v ...interface{}) {
	Debugf(l.prefix+format, v...)
}
