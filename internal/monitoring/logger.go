package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level operational logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the operational logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetDiagnostics configures the two diagnostic streams. The diag stream carries
// per-rejection and eviction context; the trace stream carries high-frequency
// per-frame telemetry. Pass nil for either writer to disable that stream.
// Both are disabled by default.
func SetDiagnostics(diag, trace io.Writer) {
	diagLogger = newLogger("[foresight] ", diag)
	traceLogger = newLogger("[foresight] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Diagf logs to the diag stream (ingestion rejections, eviction notices).
func Diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// Tracef logs to the trace stream (per-frame telemetry).
func Tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
