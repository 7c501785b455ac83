package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Ning0612/rclonesync/internal/domain"
)

// TimeLayout is the UTC second-precision timestamp on every line
const TimeLayout = "2006-01-02T15:04:05Z"

// Formatter prefixes every non-empty line with a UTC timestamp and the
// short run id: "<timestamp> | <runid7> | <message>".
//
// It is safe for concurrent use, so the engine's stdout and stderr can
// share one Formatter.
type Formatter struct {
	mu      sync.Mutex
	out     io.Writer
	shortID string
	now     func() time.Time
	partial []byte
}

// New creates a Formatter writing to out for the given run
func New(out io.Writer, ident domain.RunIdentity) *Formatter {
	return &Formatter{
		out:     out,
		shortID: ident.ShortRunID(),
		now:     time.Now,
	}
}

// SetClock replaces the time source (used in tests)
func (f *Formatter) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Print emits msg. Empty messages produce no output; multi-line messages
// produce one prefixed line per non-empty line.
func (f *Formatter) Print(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitLines(msg)
}

// Printf formats according to a format specifier and emits the result
func (f *Formatter) Printf(format string, args ...any) {
	f.Print(fmt.Sprintf(format, args...))
}

// Write implements io.Writer. Text is buffered until a newline so that
// partial writes from a subprocess are not split across prefixes.
func (f *Formatter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.partial = append(f.partial, p...)
	idx := bytes.LastIndexByte(f.partial, '\n')
	if idx < 0 {
		return len(p), nil
	}

	complete := string(f.partial[:idx])
	f.partial = append(f.partial[:0], f.partial[idx+1:]...)
	f.emitLines(complete)
	return len(p), nil
}

// Flush emits any buffered text that was not terminated by a newline
func (f *Formatter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.partial) == 0 {
		return
	}
	rest := string(f.partial)
	f.partial = f.partial[:0]
	f.emitLines(rest)
}

// emitLines must be called with f.mu held
func (f *Formatter) emitLines(text string) {
	if text == "" {
		return
	}
	stamp := f.now().UTC().Format(TimeLayout)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		fmt.Fprintf(f.out, "%s | %s | %s\n", stamp, f.shortID, line)
	}
}

var _ io.Writer = (*Formatter)(nil)
