package monitoring

import (
	"fmt"
	"io"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogWriters holds the io.Writers for each package logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// LogStreams maps a -log level to per-stream writers. Each level enables
// itself and every quieter stream:
//
//	off   nothing
//	ops   connects, disconnects, data loss
//	diag  + lifecycle transitions, dropped frames
//	trace + per-frame telemetry
func LogStreams(level string, w io.Writer) (LogWriters, error) {
	switch level {
	case "off":
		return LogWriters{}, nil
	case "", "ops":
		return LogWriters{Ops: w}, nil
	case "diag":
		return LogWriters{Ops: w, Diag: w}, nil
	case "trace":
		return LogWriters{Ops: w, Diag: w, Trace: w}, nil
	default:
		return LogWriters{}, fmt.Errorf("unknown log level %q (want off, ops, diag or trace)", level)
	}
}
