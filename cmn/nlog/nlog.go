// Package nlog - see api.go for the public surface.
/*
 * Adapted from the teacher's cmn/nlog package (file-buffered rotating
 * logger). The agent has no persistent store (spec §1 Non-goals) and only
 * two real sinks: stderr, or the journal when running under sshd — so the
 * heavy rotating-file machinery is gone, but the severity/timestamp
 * line format and the depth-aware caller lookup are kept.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) letter() byte {
	switch s {
	case sevWarn:
		return 'W'
	case sevErr:
		return 'E'
	default:
		return 'I'
	}
}

var (
	mu         sync.Mutex
	out        io.Writer = os.Stderr
	title      string
	useJournal bool
)

// SetOutput is exposed for tests; production code only ever targets
// stderr or the journal (UseJournal).
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func logf(sev severity, depth int, format string, args ...any) {
	emit(sev, depth+1, fmt.Sprintf(format, args...))
}

func logln(sev severity, depth int, args ...any) {
	emit(sev, depth+1, fmt.Sprint(args...))
}

func emit(sev severity, depth int, msg string) {
	now := time.Now()
	_, file, line, ok := runtime.Caller(depth + 2)
	if !ok {
		file, line = "???", 0
	} else {
		file = filepath.Base(file)
	}
	prefix := title
	if prefix != "" {
		prefix += " "
	}
	line1 := fmt.Sprintf("%c%s %02d:%02d:%02d.%06d %s%s:%d] %s\n",
		sev.letter(), now.Format("0102"), now.Hour(), now.Minute(), now.Second(), now.Nanosecond()/1e3,
		prefix, file, line, msg)

	mu.Lock()
	defer mu.Unlock()
	if useJournal {
		writeJournal(sev, line1)
		return
	}
	io.WriteString(out, line1)
}

// Flush is a no-op placeholder kept for API parity with the teacher's
// logger (there callers Flush before exit); stderr/journal writes here are
// unbuffered, so there is nothing to drain.
func Flush(...bool) {}
