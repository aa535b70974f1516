// Package logx provides the stderr diagnostic and trace logging used
// throughout echo-search. It intentionally wraps fmt.Fprintf rather than
// a structured logging library — the teacher carries none, and the only
// ambient logging contract the spec defines (RUNE_TRACE stage timing) is
// a one-line-per-event job a logging framework would not simplify.
package logx

import (
	"fmt"
	"os"
	"time"
)

const prefix = "[echo-search]"

// traceEnabled caches RUNE_TRACE=1 at process start, matching the
// original's module-level _RUNE_TRACE constant.
var traceEnabled = os.Getenv("RUNE_TRACE") == "1"

// Warnf writes an operator-facing warning to stderr.
func Warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, prefix+" "+format+"\n", args...)
}

// Errorf writes an operator-facing error to stderr.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, prefix+" error: "+format+"\n", args...)
}

// Trace logs the elapsed time since start for a named pipeline stage,
// but only when RUNE_TRACE=1. Mirrors server.py's _trace(stage, start).
func Trace(stage string, start time.Time) {
	if !traceEnabled {
		return
	}
	elapsed := time.Since(start)
	fmt.Fprintf(os.Stderr, "%s %s: %.1fms\n", prefix, stage, float64(elapsed.Microseconds())/1000.0)
}

// TraceEnabled reports whether RUNE_TRACE=1 was set at startup.
func TraceEnabled() bool {
	return traceEnabled
}
