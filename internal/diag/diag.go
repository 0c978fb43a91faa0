// Package diag prints runtime diagnostics the way the rest of this
// codebase does: plain fmt.Fprintf to stderr, no structured logging
// dependency. Used for allocator fatal errors, debug-mode leak reports,
// and uncaught interpreter errors a driver chooses not to handle itself.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgdvm/core/pkg/interp"
)

// Out is where diagnostics are written; tests can point this at a buffer.
var Out io.Writer = os.Stderr

// Warnf prints a warning: a condition worth surfacing that doesn't abort
// the call producing it.
func Warnf(format string, args ...any) {
	fmt.Fprintf(Out, "Warning: "+format+"\n", args...)
}

// Errorf prints a non-fatal error report.
func Errorf(format string, args ...any) {
	fmt.Fprintf(Out, "Error: "+format+"\n", args...)
}

// Fatalf prints a fatal condition report: allocator exhaustion, a
// corrupted control block. The caller decides whether to exit; diag
// never calls os.Exit itself.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(Out, "Fatal: "+format+"\n", args...)
}

// ReportError prints an *interp.Error with its call trace, formatted the
// way an uncaught exception's backtrace reads in the teacher's REPL.
func ReportError(err *interp.Error) {
	fmt.Fprintf(Out, "%s error: %s\n", err.Kind, err.Message)
	for i := len(err.Trace) - 1; i >= 0; i-- {
		fmt.Fprintf(Out, "    at %s\n", err.Trace[i])
	}
}

// ReportLeaks prints an allocator's debug-mode leak report (see
// pkg/alloc.Arena.LeakReport), one line per still-live block.
func ReportLeaks(arena string, entries []string) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(Out, "%s: %d leaked block(s):\n", arena, len(entries))
	for _, e := range entries {
		fmt.Fprintf(Out, "  %s\n", e)
	}
}

// Section prints a banner line, used by cmd/corevm to separate scenario
// output when running its built-in demo programs.
func Section(title string) {
	fmt.Fprintf(Out, "\n== %s ==\n", strings.ToUpper(title))
}
