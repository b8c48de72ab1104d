// Package goroutine provides the panic guard deferred at the top of every
// background goroutine in warden. A panicking sweep, scorer, or sink worker
// must log and exit, never take the process down.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// stackBufSize caps the captured stack trace; runtime.Stack truncates past it.
const stackBufSize = 4096

// Recover logs a recovered panic with its stack trace and lets the goroutine
// exit cleanly. It must be deferred directly in the goroutine's top-level
// function. A nil logger falls back to stderr so the panic is never lost.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}
	buf := make([]byte, stackBufSize)
	n := runtime.Stack(buf, false)

	if logger == nil {
		fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n%s\n", name, r, buf[:n])
		return
	}
	logger.Errorw("Goroutine panic recovered",
		"goroutine", name,
		"panic", r,
		"stack", string(buf[:n]))
}
