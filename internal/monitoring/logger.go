// Package monitoring holds the process-wide diagnostic logger shared by the
// transport, sensor, calibration and journal packages.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logger formats and writes one diagnostic line.
type Logger func(format string, v ...interface{})

var current atomic.Pointer[Logger]

func init() {
	SetLogger(log.Printf)
}

// SetLogger replaces the process logger. nil discards everything, which is
// what most tests want.
func SetLogger(f Logger) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	current.Store(&f)
}

// Logf writes through the current logger.
func Logf(format string, v ...interface{}) {
	(*current.Load())(format, v...)
}

// Prefixed returns a logger that tags every line with "[component] ".
// The process logger is looked up on each call so a later SetLogger
// still applies.
func Prefixed(component string) Logger {
	tag := "[" + component + "] "
	return func(format string, v ...interface{}) {
		Logf(tag+format, v...)
	}
}
