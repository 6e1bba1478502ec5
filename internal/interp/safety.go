package interp

import (
	"strings"
)

// Output caps applied to everything the sandbox prints.
const (
	MaxOutputSize  = 100 * 1024
	MaxOutputLines = 1000
)

// blockedNames are identifiers that reach outside the sandbox or defeat
// the import screen. Referencing one is a security violation before any
// code runs.
var blockedNames = map[string]bool{
	"eval":       true,
	"exec":       true,
	"open":       true,
	"input":      true,
	"compile":    true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
	"globals":    true,
	"locals":     true,
	"vars":       true,
	"exit":       true,
	"quit":       true,
	"breakpoint": true,
	"__import__": true,
}

// screen rejects code that references blocked identifiers or dunder
// attributes. It runs on the token stream so obfuscation through
// formatting does not help.
func screen(tokens []token) *RuntimeError {
	for _, t := range tokens {
		if t.Kind != tokIdent {
			continue
		}
		if blockedNames[t.Text] {
			return &RuntimeError{
				Kind: "security_violation",
				Msg:  "use of '" + t.Text + "' is not allowed in sandbox",
				Line: t.Line,
			}
		}
		if strings.HasPrefix(t.Text, "__") && strings.HasSuffix(t.Text, "__") {
			return &RuntimeError{
				Kind: "security_violation",
				Msg:  "dunder access '" + t.Text + "' is not allowed in sandbox",
				Line: t.Line,
			}
		}
	}
	return nil
}

// TruncateOutput enforces the byte and line caps, preferring to cut at a
// line boundary when that keeps most of the output.
func TruncateOutput(s string, maxSize int, maxLines int) (string, bool) {
	truncated := false

	if maxLines > 0 && strings.Count(s, "\n") >= maxLines {
		lines := strings.SplitN(s, "\n", maxLines+1)
		if len(lines) > maxLines {
			s = strings.Join(lines[:maxLines], "\n")
			truncated = true
		}
	}

	if maxSize > 0 && len(s) > maxSize {
		cut := s[:maxSize]
		if idx := strings.LastIndexByte(cut, '\n'); idx > maxSize*4/5 {
			cut = cut[:idx]
		}
		s = cut
		truncated = true
	}

	if truncated {
		s += "\n... (output truncated)"
	}
	return s, truncated
}

// boundedWriter buffers sandbox stdout up to a byte cap. Writes past the
// cap are dropped and the writer remembers that it overflowed.
type boundedWriter struct {
	sb       strings.Builder
	limit    int
	overflow bool
}

func newBoundedWriter(limit int) *boundedWriter {
	return &boundedWriter{limit: limit}
}

func (w *boundedWriter) WriteString(s string) {
	if w.overflow {
		return
	}
	if w.limit > 0 && w.sb.Len()+len(s) > w.limit {
		room := w.limit - w.sb.Len()
		if room > 0 {
			w.sb.WriteString(s[:room])
		}
		w.overflow = true
		return
	}
	w.sb.WriteString(s)
}

func (w *boundedWriter) String() string { return w.sb.String() }
func (w *boundedWriter) Overflowed() bool { return w.overflow }
